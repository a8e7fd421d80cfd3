package wire

import (
	"crypto/sha1"
	"encoding/binary"
	"testing"
)

func TestSlotOffset_RegionsAndSlotsAreDisjoint(t *testing.T) {
	roA := SlotOffset(SlotA, RegionRO)
	rwA := SlotOffset(SlotA, RegionRW)
	roB := SlotOffset(SlotB, RegionRO)
	rwB := SlotOffset(SlotB, RegionRW)

	offsets := map[string]uint32{"RO_A": roA, "RW_A": rwA, "RO_B": roB, "RW_B": rwB}
	seen := map[uint32]string{}
	for name, off := range offsets {
		if other, dup := seen[off]; dup {
			t.Errorf("%s and %s share offset %#x", name, other, off)
		}
		seen[off] = name
	}

	if roA != 0 {
		t.Errorf("RO_A offset = %#x, want 0", roA)
	}
	if roB <= rwA {
		t.Errorf("slot B (RO_B=%#x) does not come after slot A's RW (%#x)", roB, rwA)
	}

	if SlotA.String() != "A" || SlotB.String() != "B" {
		t.Errorf("Slot.String() mismatch: A=%q B=%q", SlotA.String(), SlotB.String())
	}
}

func TestReadImageSize_RejectsShortImage(t *testing.T) {
	if _, err := ReadImageSize(make([]byte, 16)); err == nil {
		t.Errorf("expected error reading image size from a too-short image")
	}
}

func TestReadImageSize_ReadsLittleEndianField(t *testing.T) {
	image := make([]byte, SignedHeaderSize)
	binary.LittleEndian.PutUint32(image[signedHeaderImageSizeOffset:signedHeaderImageSizeOffset+4], 0x00012345)

	got, err := ReadImageSize(image)
	if err != nil {
		t.Fatalf("ReadImageSize returned error: %v", err)
	}
	if got != 0x00012345 {
		t.Errorf("ReadImageSize = %#x, want 0x00012345", got)
	}
}

func TestFlashBlock_EncodeLayout(t *testing.T) {
	b := FlashBlock{
		Digest:  [4]byte{0x11, 0x22, 0x33, 0x44},
		Offset:  0x4000,
		Payload: []byte{0xAA, 0xBB},
	}
	buf := b.Encode()

	if len(buf) != FlashBlockHeaderSize+2 {
		t.Fatalf("Encode length = %d, want %d", len(buf), FlashBlockHeaderSize+2)
	}
	if string(buf[0:4]) != string(b.Digest[:]) {
		t.Errorf("digest mismatch")
	}
	if got := binary.LittleEndian.Uint32(buf[4:8]); got != b.Offset {
		t.Errorf("offset = %#x, want %#x", got, b.Offset)
	}
	if buf[8] != 0xAA || buf[9] != 0xBB {
		t.Errorf("payload mismatch: %v", buf[8:])
	}
}

func TestNewEmptyPasswordRecord_IsAllFF(t *testing.T) {
	r := NewEmptyPasswordRecord()
	for i, b := range r.Password {
		if b != 0xFF {
			t.Fatalf("Password[%d] = %#x, want 0xFF", i, b)
		}
	}
}

func TestNewEmptyPasswordRecord_DigestMatchesSHA1OfAllFF(t *testing.T) {
	r := NewEmptyPasswordRecord()

	sum := sha1.Sum(r.Password[:])
	want := binary.LittleEndian.Uint32(sum[:4])
	if r.Digest != want {
		t.Errorf("Digest = %#x, want %#x", r.Digest, want)
	}
}

func TestNewPasswordRecord_PadsAndDigests(t *testing.T) {
	r := NewPasswordRecord("hunter2")

	if string(r.Password[:7]) != "hunter2" {
		t.Errorf("password prefix = %q, want %q", r.Password[:7], "hunter2")
	}
	for i := 7; i < len(r.Password); i++ {
		if r.Password[i] != 0xFF {
			t.Fatalf("Password[%d] = %#x, want 0xFF padding", i, r.Password[i])
		}
	}

	sum := sha1.Sum(r.Password[:])
	want := binary.LittleEndian.Uint32(sum[:4])
	if r.Digest != want {
		t.Errorf("Digest = %#x, want %#x", r.Digest, want)
	}
}

func TestPasswordRecord_EncodeLayout(t *testing.T) {
	r := PasswordRecord{Digest: 0xDEADBEEF}
	copy(r.Password[:], []byte("hunter2"))
	buf := r.Encode()

	if len(buf) != PasswordRecordSize {
		t.Fatalf("Encode length = %d, want %d", len(buf), PasswordRecordSize)
	}
	if string(buf[0:7]) != "hunter2" {
		t.Errorf("password prefix mismatch: %q", buf[0:7])
	}
	if got := binary.LittleEndian.Uint32(buf[32:36]); got != 0xDEADBEEF {
		t.Errorf("digest = %#x, want 0xDEADBEEF", got)
	}
}
