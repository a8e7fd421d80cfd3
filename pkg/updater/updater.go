// Package updater implements the application-layer client above the
// transport: the A/B firmware block updater (C7) and the auxiliary
// commands (C8) — version, reboot, change-password, enable-images,
// wipe-secrets — composed by the CLI driver.
package updater

import (
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"avaneesh/chip-updater/internal/logger"
	"avaneesh/chip-updater/pkg/wire"
)

// Caller is the subset of client.Session an updater needs: one
// application round trip. Depending on this interface rather than the
// concrete session keeps the update/auxiliary logic testable against a
// fake.
type Caller interface {
	Call(appID uint8, param uint16, request []byte, replyCap int) (wire.AppStatus, []byte, error)
}

// BlockRetryCount bounds the total attempts per block on
// NUGGET_ERROR_RETRY (spec §8 Testable Property 6: "at most 4 total").
const BlockRetryCount = 4

// Phase names reported through ProgressCallback.
const (
	PhaseReadHeader = "read_header"
	PhaseWriting    = "writing"
	PhaseComplete   = "complete"
	PhaseFallback   = "fallback"
)

// Progress is passed to ProgressCallback during a flash update,
// mirroring the phase/current/total/bytes/elapsed shape of
// moffa90-go-cyacd/bootloader's Progress.
type Progress struct {
	Phase        string
	Slot         wire.Slot
	CurrentBlock int
	TotalBlocks  int
	BytesWritten int
	ElapsedTime  time.Duration
}

// ProgressCallback is invoked periodically while writing flash blocks.
type ProgressCallback func(Progress)

// Config holds the functional-options-configurable knobs of an
// Updater.
type Config struct {
	appID    uint8
	log      logger.Logger
	progress ProgressCallback
}

// Option configures an Updater at construction.
type Option func(*Config)

// WithLogger attaches a Logger.
func WithLogger(log logger.Logger) Option {
	return func(c *Config) { c.log = log }
}

// WithProgressCallback attaches a progress callback.
func WithProgressCallback(cb ProgressCallback) Option {
	return func(c *Config) { c.progress = cb }
}

// WithAppID overrides the default app id (wire.NuggetAppID).
func WithAppID(appID uint8) Option {
	return func(c *Config) { c.appID = appID }
}

// Updater drives the update and auxiliary protocols over a Caller.
type Updater struct {
	caller Caller
	appID  uint8
	log    logger.Logger
	report ProgressCallback
}

// New constructs an Updater bound to caller.
func New(caller Caller, opts ...Option) *Updater {
	cfg := Config{appID: wire.NuggetAppID}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Updater{
		caller: caller,
		appID:  cfg.appID,
		log:    logger.OrNoOp(cfg.log),
		report: cfg.progress,
	}
}

// ErrSlotLocked is returned, wrapping both slots' errors, when neither
// the A nor the B slot could be written. Each slot stops at its first
// failing block, whatever the cause of that failure.
var ErrSlotLocked = errors.New("updater: both A and B slots rejected the update")

// UpdateRegion writes image to whichever of the two A/B slots of
// region (RO or RW) the chip currently accepts, trying A first (spec
// §4.7). image must contain a valid signed header at each slot's own
// offset; image_size for each slot is read from that slot's own
// header, not assumed to span the whole region. This is the sole
// mechanism that targets the inactive copy: the chip rejects writes to
// the active one, so the caller never needs to know which is active.
func (u *Updater) UpdateRegion(image []byte, region wire.Region) error {
	offsetA := wire.SlotOffset(wire.SlotA, region)
	offsetB := wire.SlotOffset(wire.SlotB, region)

	errA := u.updateSlot(image, offsetA, wire.SlotA)
	if errA == nil {
		return nil
	}
	u.log.Warn("updater: slot A failed (%v), falling back to slot B", errA)
	if u.report != nil {
		u.report(Progress{Phase: PhaseFallback, Slot: wire.SlotB})
	}

	errB := u.updateSlot(image, offsetB, wire.SlotB)
	if errB == nil {
		return nil
	}
	return fmt.Errorf("%w: A: %v, B: %v", ErrSlotLocked, errA, errB)
}

func (u *Updater) updateSlot(image []byte, slotOffset uint32, slot wire.Slot) error {
	if u.report != nil {
		u.report(Progress{Phase: PhaseReadHeader, Slot: slot})
	}

	if uint64(slotOffset)+uint64(wire.SignedHeaderSize) > uint64(len(image)) {
		return fmt.Errorf("updater: image too short to hold slot %s's header", slot)
	}
	header := image[slotOffset:]
	imageSize, err := wire.ReadImageSize(header)
	if err != nil {
		return fmt.Errorf("updater: slot %s: %w", slot, err)
	}
	if uint64(slotOffset)+uint64(imageSize) > uint64(len(image)) {
		return fmt.Errorf("updater: slot %s: image_size %d exceeds supplied image", slot, imageSize)
	}

	began := time.Now()
	blockSize := uint32(wire.FlashBlockSize)
	total := int((imageSize + blockSize - 1) / blockSize)

	written := 0
	for offset := uint32(0); offset < imageSize; offset += blockSize {
		// The wire record's payload field is fixed-width at blockSize
		// (matching try_update's fixed-size memcpy), so the final block
		// always carries a full bank even when imageSize isn't a bank
		// multiple. The extra bytes come from whatever follows in the
		// loaded flash image, or are zero-filled if that runs off the
		// end of the buffer, rather than being truncated.
		blockStart := slotOffset + offset
		blockEnd := blockStart + blockSize
		var payload []byte
		if uint64(blockEnd) <= uint64(len(image)) {
			payload = image[blockStart:blockEnd]
		} else {
			payload = make([]byte, blockSize)
			if blockStart < uint32(len(image)) {
				copy(payload, image[blockStart:])
			}
		}

		if err := u.writeBlockWithRetry(blockStart, payload); err != nil {
			return fmt.Errorf("updater: slot %s block at %#x: %w", slot, blockStart, err)
		}

		meaningful := blockSize
		if offset+blockSize > imageSize {
			meaningful = imageSize - offset
		}
		written += int(meaningful)
		if u.report != nil {
			u.report(Progress{
				Phase:        PhaseWriting,
				Slot:         slot,
				CurrentBlock: int(offset/blockSize) + 1,
				TotalBlocks:  total,
				BytesWritten: written,
				ElapsedTime:  time.Since(began),
			})
		}
	}

	if u.report != nil {
		u.report(Progress{Phase: PhaseComplete, Slot: slot, TotalBlocks: total, BytesWritten: written, ElapsedTime: time.Since(began)})
	}
	return nil
}

func (u *Updater) writeBlockWithRetry(absOffset uint32, payload []byte) error {
	block := wire.FlashBlock{
		Digest:  computeDigest(absOffset, payload),
		Offset:  absOffset,
		Payload: payload,
	}
	encoded := block.Encode()

	var lastStatus wire.AppStatus
	for attempt := 0; attempt < BlockRetryCount; attempt++ {
		status, _, err := u.caller.Call(u.appID, wire.ParamFlashBlock, encoded, 0)
		if status == wire.AppSuccess {
			return nil
		}
		if status == wire.NuggetErrorLocked {
			return status
		}
		if status != wire.NuggetErrorRetry {
			if err != nil {
				return err
			}
			return status
		}
		lastStatus = status
		u.log.Debug("updater: block at %#x returned NUGGET_ERROR_RETRY (attempt %d/%d)", absOffset, attempt+1, BlockRetryCount)
	}
	return lastStatus
}

// computeDigest matches updater.cpp's compute_digest: the first 4
// bytes of SHA-1 over offset (little-endian) concatenated with
// payload.
func computeDigest(offset uint32, payload []byte) [4]byte {
	var offsetBuf [4]byte
	binary.LittleEndian.PutUint32(offsetBuf[:], offset)

	h := sha1.New()
	h.Write(offsetBuf[:])
	h.Write(payload)
	sum := h.Sum(nil)

	var digest [4]byte
	copy(digest[:], sum[:4])
	return digest
}
