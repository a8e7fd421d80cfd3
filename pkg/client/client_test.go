package client

import (
	"errors"
	"testing"

	"avaneesh/chip-updater/internal/mockbus"
	"avaneesh/chip-updater/pkg/bus"
	"avaneesh/chip-updater/pkg/wire"
)

func TestSession_CallBeforeOpen(t *testing.T) {
	s := New(func() (bus.Bus, error) { return mockbus.NewDevice(), nil })

	if s.IsOpen() {
		t.Fatalf("new session reports open")
	}

	_, _, err := s.Call(1, wire.ParamVersion, nil, 64)
	if !errors.Is(err, ErrNotOpen) {
		t.Errorf("Call before Open returned %v, want ErrNotOpen", err)
	}
}

func TestSession_OpenCallClose(t *testing.T) {
	dev := mockbus.NewDevice()
	dev.Handle(1, wire.ParamVersion, func(_ []byte) (uint32, []byte) {
		return uint32(wire.AppSuccess), []byte("v1.0.0")
	})

	s := New(func() (bus.Bus, error) { return dev, nil })

	if err := s.Open(); err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	if !s.IsOpen() {
		t.Fatalf("session reports not open after Open")
	}

	status, reply, err := s.Call(1, wire.ParamVersion, nil, 64)
	if err != nil {
		t.Fatalf("Call returned error: %v", err)
	}
	if status != wire.AppSuccess {
		t.Errorf("status = %v, want AppSuccess", status)
	}
	if string(reply) != "v1.0.0" {
		t.Errorf("reply = %q, want %q", reply, "v1.0.0")
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if s.IsOpen() {
		t.Errorf("session still reports open after Close")
	}
}

func TestSession_OpenPropagatesDialerError(t *testing.T) {
	wantErr := errors.New("no such device")
	s := New(func() (bus.Bus, error) { return nil, wantErr })

	if err := s.Open(); !errors.Is(err, wantErr) {
		t.Errorf("Open error = %v, want wrapping %v", err, wantErr)
	}
	if s.IsOpen() {
		t.Errorf("session reports open after a failed Open")
	}
}

func TestStatusString_DelegatesToAppStatus(t *testing.T) {
	if got, want := StatusString(wire.AppSuccess), "APP_SUCCESS"; got != want {
		t.Errorf("StatusString(AppSuccess) = %q, want %q", got, want)
	}
}
