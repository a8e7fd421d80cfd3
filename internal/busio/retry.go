// Package busio wraps a pkg/bus.Bus with the transient-sleep retry
// policy the chip's device driver needs: the device returns EAGAIN
// while asleep, and the caller is expected to wait and retry rather
// than treat it as a failure (spec §4.2, grounded in
// libnos_transport's nos_device_read/nos_device_write loops).
package busio

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"

	"avaneesh/chip-updater/pkg/bus"
)

// RetryCount is the bounded number of attempts made on EAGAIN before
// giving up (spec §4.2).
const RetryCount = 25

// RetryWait is the sleep between EAGAIN attempts (spec §4.2).
const RetryWait = 5000 * time.Microsecond

// ErrTimedOut is returned once RetryCount consecutive EAGAINs have
// been observed for a single operation.
var ErrTimedOut = errors.New("busio: device did not wake within retry budget")

// Retrying wraps a bus.Bus, absorbing transient EAGAIN ("device
// asleep") errors below the call layer so that the transport state
// machine never has to special-case sleep/wake behavior itself.
type Retrying struct {
	bus   bus.Bus
	sleep func(time.Duration)
}

// NewRetrying wraps b with the standard EAGAIN retry policy.
func NewRetrying(b bus.Bus) *Retrying {
	return &Retrying{bus: b, sleep: time.Sleep}
}

// Read retries the wrapped bus's Read on EAGAIN up to RetryCount times.
func (r *Retrying) Read(cmd uint32, buf []byte) error {
	return r.retry(func() error { return r.bus.Read(cmd, buf) })
}

// Write retries the wrapped bus's Write on EAGAIN up to RetryCount
// times.
func (r *Retrying) Write(cmd uint32, buf []byte) error {
	return r.retry(func() error { return r.bus.Write(cmd, buf) })
}

// Close releases the wrapped bus. It is not retried: a close failure
// is not a transient condition.
func (r *Retrying) Close() error {
	return r.bus.Close()
}

func (r *Retrying) retry(op func() error) error {
	var lastErr error
	for attempt := 0; attempt < RetryCount; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if !errors.Is(err, unix.EAGAIN) {
			return err
		}
		lastErr = err
		r.sleep(RetryWait)
	}
	return wrapTimeout(lastErr)
}

func wrapTimeout(cause error) error {
	if cause == nil {
		return ErrTimedOut
	}
	return errors.Join(ErrTimedOut, cause)
}
