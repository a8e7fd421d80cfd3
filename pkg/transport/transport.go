// Package transport implements the call state machine that drives one
// round trip to a chip application: make the device ready, stream
// request args, hand off control, poll for completion, classify the
// result, and read back the reply — negotiating transparently between
// the legacy and V1 wire formats and absorbing checksum-level
// transience below the caller.
//
// This is the part of the driver with real complexity; everything
// above it (the client session, the updater, the CLI) is a thin,
// mostly linear composition of a single function here: Call.
package transport

import (
	"avaneesh/chip-updater/internal/logger"
	"avaneesh/chip-updater/pkg/bus"
	"avaneesh/chip-updater/pkg/crc16"
	"avaneesh/chip-updater/pkg/wire"
)

// CRCRetryCount bounds both the whole-call retry on a reported command
// checksum error and the status/reply read-level CRC retry (spec
// §4.4).
const CRCRetryCount = 3

// Request describes one call into a chip application.
type Request struct {
	AppID    uint8
	Param    uint16
	Args     []byte
	ReplyCap int
}

// Result is the outcome of a completed round trip: the application's
// own status code, and however much reply data it produced (bounded by
// Request.ReplyCap).
type Result struct {
	Status wire.AppStatus
	Reply  []byte
}

// Call drives one full round trip over dev. Device and protocol
// failure never surface as an opaque Go error: every outcome folds
// into the returned AppStatus (§4.4 "Return value"), and that status
// is also handed back as the error return so callers using ordinary
// Go error-checking still see a non-nil error on failure while those
// that need the raw code can recover it with errors.As.
func Call(dev bus.Bus, req Request, log logger.Logger) (Result, error) {
	log = logger.OrNoOp(log)

	if uint64(len(req.Args)) > 1<<32-1 {
		log.Warn("transport: request exceeds 2^32-1 bytes")
		return Result{Status: wire.AppErrorTooMuch}, wire.AppErrorTooMuch
	}

	if err := validate(req); err != nil {
		log.Warn("transport: invalid request: %v", err)
		return Result{Status: wire.AppErrorIO}, wire.AppErrorIO
	}

	for attempt := 1; attempt <= CRCRetryCount; attempt++ {
		result, retryable := attemptCall(dev, req, log)
		if !retryable {
			return result, statusErr(result.Status)
		}
		log.Debug("transport: command checksum error, retrying call (attempt %d/%d)", attempt, CRCRetryCount)
	}
	// Persistent request-checksum error after CRCRetryCount whole-call
	// retries is non-retryable at the public boundary (spec §7).
	return Result{Status: wire.AppErrorIO}, wire.AppErrorIO
}

// statusErr returns nil for a successful status, and the status itself
// (an error) otherwise.
func statusErr(status wire.AppStatus) error {
	if status.IsSuccess() {
		return nil
	}
	return status
}

func validate(req Request) error {
	if req.Args == nil && len(req.Args) > 0 {
		return errInvalidArgs
	}
	return nil
}

var errInvalidArgs = statusError("transport: nil args with nonzero length")

type statusError string

func (e statusError) Error() string { return string(e) }

// attemptCall runs one pass of Ready→SendArgs→Go→Poll→Classify→
// ReceiveReply→Clear. retryable is true only when the app reported a
// command checksum error and the whole call should be retried from the
// top.
func attemptCall(dev bus.Bus, req Request, log logger.Logger) (result Result, retryable bool) {
	if !ready(dev, req.AppID, log) {
		return Result{Status: wire.AppErrorIO}, false
	}

	if !sendArgs(dev, req.AppID, req.Args, log) {
		clearStatus(dev, req.AppID, log)
		return Result{Status: wire.AppErrorIO}, false
	}

	if !goCommand(dev, req, log) {
		clearStatus(dev, req.AppID, log)
		return Result{Status: wire.AppErrorIO}, false
	}

	status, ok := poll(dev, req.AppID, log)
	if !ok {
		clearStatus(dev, req.AppID, log)
		return Result{Status: wire.AppErrorIO}, false
	}

	code := wire.StatusCode(status.Status)

	switch code {
	case wire.AppSuccess:
		reply, ok := receiveReply(dev, req, status, log)
		clearStatus(dev, req.AppID, log)
		if !ok {
			return Result{Status: wire.AppErrorIO}, false
		}
		return Result{Status: wire.AppSuccess, Reply: reply}, false

	case wire.AppErrorChecksum:
		clearStatus(dev, req.AppID, log)
		return Result{Status: wire.AppErrorChecksum}, true

	default:
		clearStatus(dev, req.AppID, log)
		return Result{Status: code}, false
	}
}

// ready implements step 1: the device must report idle before a new
// call can begin. One clear-status attempt is made if it is not.
func ready(dev bus.Bus, appID uint8, log logger.Logger) bool {
	status, ok := readStatus(dev, appID, log)
	if ok && status.Status == wire.AppStatusIdle {
		return true
	}

	if err := dev.Write(wire.ClearStatusCommand(appID), nil); err != nil {
		log.Warn("transport: clear-status before ready failed: %v", err)
		return false
	}

	status, ok = readStatus(dev, appID, log)
	return ok && status.Status == wire.AppStatusIdle
}

// sendArgs implements step 2: split args into ≤ MTU datagrams, sending
// one zero-length datagram when there are no args at all (legacy
// compatibility).
func sendArgs(dev bus.Bus, appID uint8, args []byte, log logger.Logger) bool {
	if len(args) == 0 {
		cmd := wire.SendArgsCommand(appID)
		cmd = wire.SetParam(cmd, 0)
		if err := dev.Write(cmd, nil); err != nil {
			log.Warn("transport: send-args (empty) failed: %v", err)
			return false
		}
		return true
	}

	for offset := 0; offset < len(args); offset += bus.MaxTransfer {
		end := min(offset+bus.MaxTransfer, len(args))
		chunk := args[offset:end]

		cmd := wire.SendArgsCommand(appID)
		cmd = wire.SetParam(cmd, uint16(len(chunk)))
		if offset > 0 {
			cmd |= wire.CmdMoreToCome
		}

		if err := dev.Write(cmd, chunk); err != nil {
			log.Warn("transport: send-args chunk at %d failed: %v", offset, err)
			return false
		}
	}
	return true
}

// goCommand implements step 3: hand control to the app with a signed
// command_info payload.
func goCommand(dev bus.Bus, req Request, log logger.Logger) bool {
	goCmd := wire.GoCommand(req.AppID, req.Param)
	info := wire.CommandInfo{
		Version:      wire.TransportV1,
		ReplyLenHint: uint16(req.ReplyCap),
		CRC:          wire.CommandInfoCRC(req.Args, uint16(req.ReplyCap), goCmd),
	}

	if err := dev.Write(goCmd, info.Encode()); err != nil {
		log.Warn("transport: go command failed: %v", err)
		return false
	}
	return true
}

// poll implements step 4: no sleep between status reads, trusting the
// chip to eventually report done.
func poll(dev bus.Bus, appID uint8, log logger.Logger) (wire.Status, bool) {
	for {
		status, ok := readStatus(dev, appID, log)
		if !ok {
			return wire.Status{}, false
		}
		if wire.IsDone(status.Status) {
			return status, true
		}
	}
}

// receiveReply implements step 6.
func receiveReply(dev bus.Bus, req Request, status wire.Status, log logger.Logger) ([]byte, bool) {
	if req.ReplyCap == 0 || status.ReplyLen == 0 {
		return nil, true
	}

	want := min(req.ReplyCap, int(status.ReplyLen))

	for attempt := 0; attempt < CRCRetryCount; attempt++ {
		reply, crc, ok := readReplyOnce(dev, req.AppID, want, log)
		if !ok {
			return nil, false
		}
		if status.Version == wire.TransportLegacy {
			return reply, true
		}
		if crc == status.ReplyCRC {
			return reply, true
		}
		log.Debug("transport: reply CRC mismatch, retrying read (attempt %d/%d)", attempt+1, CRCRetryCount)
	}
	return nil, false
}

func readReplyOnce(dev bus.Bus, appID uint8, want int, log logger.Logger) ([]byte, uint16, bool) {
	reply := make([]byte, 0, want)
	crc := crc16.Seed

	for len(reply) < want {
		chunkLen := min(want-len(reply), bus.MaxTransfer)
		chunk := make([]byte, chunkLen)

		cmd := wire.ReceiveReplyCommand(appID)
		cmd = wire.SetParam(cmd, uint16(chunkLen))
		if len(reply) > 0 {
			cmd |= wire.CmdMoreToCome
		}

		if err := dev.Read(cmd, chunk); err != nil {
			log.Warn("transport: receive-reply chunk failed: %v", err)
			return nil, 0, false
		}

		crc = crc16.Update(chunk, crc)
		reply = append(reply, chunk...)
	}
	return reply, crc, true
}

// clearStatus implements step 7. Failure here is logged and ignored,
// per spec: the next caller's Ready step will clear again.
func clearStatus(dev bus.Bus, appID uint8, log logger.Logger) {
	if err := dev.Write(wire.ClearStatusCommand(appID), nil); err != nil {
		log.Debug("transport: clear-status after call failed (ignored): %v", err)
	}
}

// readStatus implements the "status parsing" sub-contract: retry on a
// CRC-invalid V1 record, surface protocol errors, and map the legacy
// shape transparently.
func readStatus(dev bus.Bus, appID uint8, log logger.Logger) (wire.Status, bool) {
	buf := make([]byte, wire.StatusReadSize)

	for attempt := 0; attempt < CRCRetryCount; attempt++ {
		if err := dev.Read(wire.StatusReadCommand(appID), buf); err != nil {
			log.Warn("transport: status read failed: %v", err)
			return wire.Status{}, false
		}

		status, _, _, ok, err := wire.ParseStatus(buf)
		if err != nil {
			log.Warn("transport: status parse error: %v", err)
			return wire.Status{}, false
		}
		if ok {
			return status, true
		}
		log.Debug("transport: status CRC mismatch, retrying read (attempt %d/%d)", attempt+1, CRCRetryCount)
	}
	return wire.Status{}, false
}
