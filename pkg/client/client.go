// Package client implements the session facade (C5) a CLI or other
// caller uses to talk to one chip application: it owns a single bus
// handle for its lifetime and turns (app_id, param, request) calls
// into transport round trips.
package client

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"avaneesh/chip-updater/internal/busio"
	"avaneesh/chip-updater/internal/logger"
	"avaneesh/chip-updater/pkg/bus"
	"avaneesh/chip-updater/pkg/transport"
	"avaneesh/chip-updater/pkg/wire"
)

// ErrNotOpen is returned by Call when invoked on a Session that was
// never opened or has since been closed.
var ErrNotOpen = errors.New("client: session is not open")

// Dialer constructs the underlying bus handle for a Session. The
// direct backend and the QUIC proxy backend (pkg/proxy) are its two
// concrete implementations (spec §9 "Bus backend selection").
type Dialer func() (bus.Bus, error)

// Config holds the functional-options-configurable knobs for a
// Session, following the teacher's MasterConfig/Option shape.
type Config struct {
	logger logger.Logger
}

// Option configures a Session at construction.
type Option func(*Config)

// WithLogger attaches a Logger to the session; nil is treated the same
// as not calling this option (NoOpLogger).
func WithLogger(log logger.Logger) Option {
	return func(c *Config) { c.logger = log }
}

// Session owns one bus handle for its lifetime and exposes the
// application-call surface above it.
type Session struct {
	dialer Dialer
	log    logger.Logger

	dev  bus.Bus
	open bool
}

// New constructs a Session that will dial its bus handle via dialer
// when Open is called.
func New(dialer Dialer, opts ...Option) *Session {
	cfg := Config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Session{dialer: dialer, log: logger.OrNoOp(cfg.logger)}
}

// Open constructs the bus handle (direct or proxied, depending on the
// Dialer). It does not check that the chip responds: opening succeeds
// once the dialer itself succeeds, and the caller's first Call is the
// first exchange with the chip.
func (s *Session) Open() error {
	dev, err := s.dialer()
	if err != nil {
		return fmt.Errorf("client: open bus: %w", err)
	}
	s.dev = busio.NewRetrying(dev)
	s.open = true
	return nil
}

// IsOpen reports the underlying handle's state.
func (s *Session) IsOpen() bool {
	return s.open
}

// Close releases the underlying bus handle.
func (s *Session) Close() error {
	if !s.open {
		return nil
	}
	s.open = false
	return s.dev.Close()
}

// Call delegates to the transport state machine (C4) for one
// application round trip.
func (s *Session) Call(appID uint8, param uint16, request []byte, replyCap int) (wire.AppStatus, []byte, error) {
	if !s.open {
		return wire.AppErrorIO, nil, ErrNotOpen
	}

	callID := uuid.New().String()
	s.log.Debug("client: call %s app=%#x param=%#x args=%d reply_cap=%d", callID, appID, param, len(request), replyCap)

	result, err := transport.Call(s.dev, transport.Request{
		AppID:    appID,
		Param:    param,
		Args:     request,
		ReplyCap: replyCap,
	}, s.log)

	s.log.Debug("client: call %s status=%s reply=%d", callID, result.Status, len(result.Reply))
	return result.Status, result.Reply, err
}

// StatusString converts a numeric application status code to the
// human string an operator or log line would want, bucketing into
// named constants, APP_SPECIFIC_ERROR+N, and APP_LINE_NUMBER_BASE+N
// (spec §4.5).
func StatusString(status wire.AppStatus) string {
	return status.String()
}
