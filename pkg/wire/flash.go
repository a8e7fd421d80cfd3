package wire

import (
	"crypto/sha1"
	"encoding/binary"
)

// Flash geometry constants, grounded in the chip's flash_layout.h: a
// single 512 KiB flash aligned on a 16 KiB write boundary so the
// firmware can map any region independently.
const (
	ChipFlashBase    uint32 = 0x40000
	ChipFlashSize    uint32 = 512 * 1024
	FlashRWAlignment uint32 = 0x4000
)

// ChipFlashBankSize is the size of one flash write bank: the unit a
// single NUGGET_PARAM_FLASH_BLOCK call covers (app_nugget.h's
// CHIP_FLASH_BANK_SIZE). It is not related to the A/B slot split below.
const ChipFlashBankSize = FlashRWAlignment

// slotSize is the size of one A/B slot: half of total flash, itself
// split further into an RO and RW region.
const slotSize = ChipFlashSize / 2

// Slot identifies one of the two A/B update targets.
type Slot int

const (
	SlotA Slot = iota
	SlotB
)

func (s Slot) String() string {
	if s == SlotA {
		return "A"
	}
	return "B"
}

// Region identifies the read-only or read-write half of a slot.
type Region int

const (
	RegionRO Region = iota
	RegionRW
)

// SlotOffset returns the flash offset, relative to ChipFlashBase, of
// region within slot. Each slot is laid out as RO followed by RW, each
// spanning half the slot.
func SlotOffset(slot Slot, region Region) uint32 {
	offset := uint32(0)
	if slot == SlotB {
		offset += slotSize
	}
	if region == RegionRW {
		offset += slotSize / 2
	}
	return offset
}

// SignedHeaderSize is the size, in bytes, of the signed image header
// every slot's flash image carries at its start. Only the image_size
// field is interpreted here; the rest (signature, version stamps) is
// opaque to this driver and is written through unmodified.
const SignedHeaderSize = 1024

// signedHeaderImageSizeOffset is the byte offset of the image_size
// field within the signed header.
const signedHeaderImageSizeOffset = 0x70

// ReadImageSize extracts the image_size field from a slot image's
// signed header (spec §4.7: "the size to flash for a slot is read from
// that slot's own signed header, not assumed to be the full bank").
func ReadImageSize(image []byte) (uint32, error) {
	if len(image) < signedHeaderImageSizeOffset+4 {
		return 0, errShortImage
	}
	return binary.LittleEndian.Uint32(image[signedHeaderImageSizeOffset : signedHeaderImageSizeOffset+4]), nil
}

var errShortImage = shortImageError{}

type shortImageError struct{}

func (shortImageError) Error() string { return "wire: image too short to contain a signed header" }

// FlashBlockSize is the number of payload bytes carried by a single
// NUGGET_PARAM_FLASH_BLOCK write (spec §4.6): one flash write-alignment
// unit.
const FlashBlockSize = int(FlashRWAlignment)

// FlashBlockHeaderSize is the size of the digest+offset prefix in front
// of a flash block's payload.
const FlashBlockHeaderSize = 4 + 4 // block_digest(4) + offset(4)

// FlashBlock is one block of a firmware image update, addressed by its
// absolute flash offset and authenticated by a truncated SHA-1 digest
// over offset||payload (spec §4.7, grounded in updater.cpp's
// compute_digest).
type FlashBlock struct {
	Digest  [4]byte
	Offset  uint32
	Payload []byte
}

// Encode serialises a FlashBlock into the wire layout expected by
// NUGGET_PARAM_FLASH_BLOCK: digest(4) || offset(4) || payload.
func (b FlashBlock) Encode() []byte {
	buf := make([]byte, FlashBlockHeaderSize+len(b.Payload))
	copy(buf[0:4], b.Digest[:])
	binary.LittleEndian.PutUint32(buf[4:8], b.Offset)
	copy(buf[8:], b.Payload)
	return buf
}

// PasswordRecordSize is the wire size of one password record: a
// fixed-width password field plus a digest. A change-password request
// carries two records; an enable request carries one.
const PasswordRecordSize = 32 + 4

// PasswordRecord is one password as sent in change-password and
// enable calls. An empty
// password is represented as all 0xFF, matching the chip's convention
// for "no password set" (spec §4.8).
type PasswordRecord struct {
	Password [32]byte
	Digest   uint32
}

// NewEmptyPasswordRecord returns the all-0xFF record used to clear a
// password, with its digest computed over that same all-0xFF buffer
// (spec §3 "Password record").
func NewEmptyPasswordRecord() PasswordRecord {
	var r PasswordRecord
	for i := range r.Password {
		r.Password[i] = 0xFF
	}
	r.Digest = PasswordDigest(r.Password)
	return r
}

// NewPasswordRecord builds a PasswordRecord for password, padding the
// remainder of the fixed-size buffer with 0xFF and computing the digest
// over the padded buffer (spec §3 "Password record").
func NewPasswordRecord(password string) PasswordRecord {
	var r PasswordRecord
	copy(r.Password[:], password)
	for i := len(password); i < len(r.Password); i++ {
		r.Password[i] = 0xFF
	}
	r.Digest = PasswordDigest(r.Password)
	return r
}

// PasswordDigest computes the first 4 bytes of SHA-1 over the padded
// password buffer (spec §3: "digest is the first 4 bytes of SHA-1 over
// the entire password buffer").
func PasswordDigest(password [32]byte) uint32 {
	h := sha1.New()
	h.Write(password[:])
	sum := h.Sum(nil)
	return binary.LittleEndian.Uint32(sum[:4])
}

// Encode serialises a PasswordRecord to its little-endian wire form.
func (p PasswordRecord) Encode() []byte {
	buf := make([]byte, PasswordRecordSize)
	copy(buf[0:32], p.Password[:])
	binary.LittleEndian.PutUint32(buf[32:36], p.Digest)
	return buf
}
