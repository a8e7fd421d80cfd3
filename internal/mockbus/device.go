// Package mockbus implements a scriptable fake chip that speaks the
// same datagram protocol as the transport state machine expects,
// standing in for the physical device in tests (spec §8, scenarios
// S1-S6).
package mockbus

import (
	"encoding/binary"
	"errors"
	"fmt"

	"avaneesh/chip-updater/pkg/crc16"
	"avaneesh/chip-updater/pkg/wire"
	"golang.org/x/sys/unix"
)

// Handler computes an application's reply given the bytes the caller
// sent as args, standing in for the firmware app registered at
// (appID, param).
type Handler func(args []byte) (status uint32, reply []byte)

// appState tracks one application's idle/collecting/done cycle.
type appState struct {
	idle       bool
	collecting []byte
	done       bool
	status     uint32
	reply      []byte
	replyCRC   uint16
}

// Fault is a one-shot failure injected in front of normal behavior for
// a named operation. Faults are consumed in FIFO order for their op.
type Fault struct {
	Op  string
	Err error
	// CorruptStatusCRC, when set on an Op == OpStatusRead fault,
	// returns a well-formed status record whose CRC field has been
	// flipped instead of erroring outright.
	CorruptStatusCRC bool
}

// Named operations a Fault can target.
const (
	OpStatusRead   = "status_read"
	OpWrite        = "write"
	OpReceiveReply = "receive_reply"
)

// Device is a fake chip: it understands the command-word vocabulary in
// package wire and dispatches completed calls to registered Handlers.
type Device struct {
	Legacy bool // emit legacy (no-magic) status records

	handlers map[appCommand]Handler
	apps     map[uint8]*appState
	faults   map[string][]Fault

	reads  []recordedOp
	writes []recordedOp
}

type appCommand struct {
	appID uint8
	param uint16
}

type recordedOp struct {
	cmd uint32
	n   int
}

// NewDevice returns an idle fake chip with no registered handlers.
func NewDevice() *Device {
	return &Device{
		handlers: make(map[appCommand]Handler),
		apps:     make(map[uint8]*appState),
		faults:   make(map[string][]Fault),
	}
}

// Handle registers the handler invoked when appID receives a call at
// param, once all its args have arrived and the caller issues "go".
func (d *Device) Handle(appID uint8, param uint16, h Handler) {
	d.handlers[appCommand{appID, param}] = h
}

// InjectFault appends a one-shot fault to be consumed on the named
// operation's next matching invocation.
func (d *Device) InjectFault(f Fault) {
	d.faults[f.Op] = append(d.faults[f.Op], f)
}

func (d *Device) nextFault(op string) (Fault, bool) {
	q := d.faults[op]
	if len(q) == 0 {
		return Fault{}, false
	}
	d.faults[op] = q[1:]
	return q[0], true
}

func (d *Device) state(appID uint8) *appState {
	s, ok := d.apps[appID]
	if !ok {
		s = &appState{idle: true}
		d.apps[appID] = s
	}
	return s
}

// Close is a no-op; the fake chip holds no OS resources.
func (d *Device) Close() error { return nil }

// Write dispatches a command word to the fake chip's state machine.
func (d *Device) Write(cmd uint32, payload []byte) error {
	if f, ok := d.nextFault(OpWrite); ok {
		return f.Err
	}

	appID := wire.AppIDOf(cmd)
	s := d.state(appID)

	switch {
	case cmd&wire.CmdTransport != 0 && cmd&wire.CmdIsData != 0 && cmd&wire.CmdIsRead == 0:
		// SendArgs datagram.
		s.idle = false
		s.collecting = append(s.collecting, payload...)
		return nil

	case cmd&wire.CmdTransport != 0 && cmd&wire.CmdIsData == 0 && cmd&wire.CmdIsRead == 0:
		// Clear-status: zero-length write with no data/read flags.
		*s = appState{idle: true}
		return nil

	case cmd&wire.CmdTransport == 0:
		// Go: command_info payload, finalize the call.
		return d.dispatchGo(appID, wire.ParamOf(cmd), s, payload)

	default:
		return fmt.Errorf("mockbus: unrecognized command word %#032b", cmd)
	}
}

func (d *Device) dispatchGo(appID uint8, param uint16, s *appState, payload []byte) error {
	if len(payload) < wire.CommandInfoSize {
		return errors.New("mockbus: short command_info payload")
	}
	replyLenHint := binary.LittleEndian.Uint16(payload[2:4])
	goCmd := wire.GoCommand(appID, param)
	wantCRC := wire.CommandInfoCRC(s.collecting, replyLenHint, goCmd)
	gotCRC := binary.LittleEndian.Uint16(payload[4:6])

	if !d.Legacy && wantCRC != gotCRC {
		s.done = true
		s.status = uint32(wire.AppErrorChecksum) | wire.AppStatusDone
		s.reply = nil
		return nil
	}

	h, ok := d.handlers[appCommand{appID, param}]
	if !ok {
		s.done = true
		s.status = uint32(wire.AppErrorBogusArgs) | wire.AppStatusDone
		return nil
	}

	status, reply := h(s.collecting)
	s.done = true
	s.status = status | wire.AppStatusDone
	s.reply = reply
	s.replyCRC = crc16.Checksum(reply)
	return nil
}

// Read services a status-read or reply-read command.
func (d *Device) Read(cmd uint32, buf []byte) error {
	appID := wire.AppIDOf(cmd)
	s := d.state(appID)

	switch {
	case cmd&wire.CmdTransport != 0 && cmd&wire.CmdIsData == 0:
		return d.readStatus(s, buf)
	case cmd&wire.CmdTransport != 0 && cmd&wire.CmdIsData != 0:
		return d.readReply(s, cmd, buf)
	default:
		return fmt.Errorf("mockbus: unrecognized read command %#032b", cmd)
	}
}

func (d *Device) readStatus(s *appState, buf []byte) error {
	var corrupt bool
	if f, ok := d.nextFault(OpStatusRead); ok {
		if f.Err != nil {
			return f.Err
		}
		corrupt = f.CorruptStatusCRC
	}

	var rawStatus uint32
	var replyLen uint16
	if s.done {
		rawStatus = s.status
		replyLen = uint16(len(s.reply))
	} else if s.idle {
		rawStatus = wire.AppStatusIdle
	} else {
		rawStatus = 0 // collecting args, not yet done
	}

	if d.Legacy {
		binary.LittleEndian.PutUint32(buf[0:4], rawStatus)
		if len(buf) >= 6 {
			binary.LittleEndian.PutUint16(buf[4:6], replyLen)
		}
		return nil
	}

	out := make([]byte, 16)
	binary.LittleEndian.PutUint32(out[0:4], wire.TransportStatusMagic)
	out[4] = wire.TransportV1
	binary.LittleEndian.PutUint32(out[8:12], rawStatus)
	binary.LittleEndian.PutUint16(out[12:14], replyLen)
	binary.LittleEndian.PutUint16(out[14:16], s.replyCRC)

	crc := crc16.Checksum(out[:16])
	if corrupt {
		crc ^= 0xFFFF
	}
	binary.LittleEndian.PutUint16(out[6:8], crc)

	copy(buf, out[:min(len(buf), len(out))])
	return nil
}

func (d *Device) readReply(s *appState, cmd uint32, buf []byte) error {
	if f, ok := d.nextFault(OpReceiveReply); ok {
		return f.Err
	}
	_ = cmd
	n := min(len(buf), len(s.reply))
	copy(buf, s.reply[:n])
	return nil
}

// EAGAIN is a convenience error value InjectFault callers can reuse
// for Fault.Err to simulate a sleeping device.
var EAGAIN = unix.EAGAIN
