// Package directbus implements the default bus.Bus backend: a direct
// ioctl connection to the chip's device node, the way
// commonsysfs/ioctl.go in the broader pack talks to a GPIO character
// device. The chip exposes its read/write datagram RPCs as ioctl
// requests on one device file rather than as a byte stream.
package directbus

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"avaneesh/chip-updater/pkg/bus"
)

// Device is a bus.Bus backed by ioctl calls against an open device
// node (e.g. /dev/citadel0).
type Device struct {
	f *os.File
}

// Open opens path and returns a Device ready for use.
func Open(path string) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("directbus: open %s: %w", path, err)
	}
	return &Device{f: f}, nil
}

// Write issues cmd as an ioctl request with buf as its argument
// pointer.
func (d *Device) Write(cmd uint32, buf []byte) error {
	return d.ioctl(cmd, buf)
}

// Read issues cmd as an ioctl request with buf as its argument
// pointer; the chip fills buf in place rather than returning a
// separate value, matching how NUGGET's status/reply reads work.
func (d *Device) Read(cmd uint32, buf []byte) error {
	return d.ioctl(cmd, buf)
}

func (d *Device) ioctl(cmd uint32, buf []byte) error {
	var arg unsafe.Pointer
	if len(buf) > 0 {
		arg = unsafe.Pointer(&buf[0])
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, d.f.Fd(), uintptr(cmd), uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// Close closes the underlying device node.
func (d *Device) Close() error {
	return d.f.Close()
}

var _ bus.Bus = (*Device)(nil)
