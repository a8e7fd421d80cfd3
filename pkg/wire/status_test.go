package wire

import (
	"encoding/binary"
	"testing"

	"avaneesh/chip-updater/pkg/crc16"
)

func TestParseStatus_Legacy(t *testing.T) {
	buf := make([]byte, legacyStatusSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(AppSuccess))
	binary.LittleEndian.PutUint16(buf[4:6], 42)

	status, _, _, ok, err := ParseStatus(buf)
	if err != nil {
		t.Fatalf("ParseStatus returned error: %v", err)
	}
	if !ok {
		t.Fatalf("ParseStatus reported !ok for a well-formed legacy buffer")
	}
	if status.Version != TransportLegacy {
		t.Errorf("Version = %d, want legacy", status.Version)
	}
	if status.Status != uint32(AppSuccess) || status.ReplyLen != 42 {
		t.Errorf("decoded status = %+v, want Status=0 ReplyLen=42", status)
	}
}

func buildV1Status(t *testing.T, appStatus uint32, replyLen, replyCRC uint16) []byte {
	t.Helper()
	buf := make([]byte, currentStatusSize)
	binary.LittleEndian.PutUint32(buf[0:4], TransportStatusMagic)
	buf[4] = TransportV1
	buf[5] = 0
	binary.LittleEndian.PutUint32(buf[8:12], appStatus)
	binary.LittleEndian.PutUint16(buf[12:14], replyLen)
	binary.LittleEndian.PutUint16(buf[14:16], replyCRC)

	crc := crc16.Checksum(buf[:currentStatusSize])
	binary.LittleEndian.PutUint16(buf[6:8], crc)
	return buf
}

func TestParseStatus_V1_ValidCRC(t *testing.T) {
	buf := buildV1Status(t, uint32(AppSuccess), 16, 0xBEEF)

	status, theirCRC, ourCRC, ok, err := ParseStatus(buf)
	if err != nil {
		t.Fatalf("ParseStatus returned error: %v", err)
	}
	if !ok {
		t.Fatalf("ParseStatus reported !ok for a well-formed V1 buffer")
	}
	if theirCRC != ourCRC {
		t.Errorf("theirCRC %#x != ourCRC %#x", theirCRC, ourCRC)
	}
	if status.Version != TransportV1 {
		t.Errorf("Version = %d, want V1", status.Version)
	}
	if status.Status != uint32(AppSuccess) || status.ReplyLen != 16 || status.ReplyCRC != 0xBEEF {
		t.Errorf("decoded status = %+v", status)
	}
}

func TestParseStatus_V1_CorruptedCRC(t *testing.T) {
	buf := buildV1Status(t, uint32(AppSuccess), 16, 0xBEEF)
	buf[8] ^= 0xFF // corrupt the status field after the CRC was computed

	_, theirCRC, ourCRC, ok, err := ParseStatus(buf)
	if err != nil {
		t.Fatalf("ParseStatus returned unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("ParseStatus reported ok for a corrupted V1 buffer")
	}
	if theirCRC == ourCRC {
		t.Errorf("expected CRC mismatch to be detected")
	}
}

func TestParseStatus_ShortBuffer(t *testing.T) {
	if _, _, _, _, err := ParseStatus([]byte{0x01, 0x02}); err == nil {
		t.Errorf("expected error for undersized buffer")
	}
}

func TestCommandInfo_EncodeLayout(t *testing.T) {
	ci := CommandInfo{Version: 1, ReplyLenHint: 0x0102, CRC: 0xABCD}
	buf := ci.Encode()

	if len(buf) != CommandInfoSize {
		t.Fatalf("Encode length = %d, want %d", len(buf), CommandInfoSize)
	}
	if buf[0] != 1 {
		t.Errorf("version byte = %#x, want 1", buf[0])
	}
	if got := binary.LittleEndian.Uint16(buf[2:4]); got != 0x0102 {
		t.Errorf("reply len hint = %#x, want 0x0102", got)
	}
	if got := binary.LittleEndian.Uint16(buf[4:6]); got != 0xABCD {
		t.Errorf("crc = %#x, want 0xABCD", got)
	}
}

func TestCommandInfoCRC_MatchesManualChain(t *testing.T) {
	args := []byte{0xAA, 0xBB, 0xCC}
	const replyLenHint = 100
	goCmd := GoCommand(2, ParamVersion)

	got := CommandInfoCRC(args, replyLenHint, goCmd)

	var argLenBuf [2]byte
	binary.LittleEndian.PutUint16(argLenBuf[:], uint16(len(args)))
	var replyLenBuf [2]byte
	binary.LittleEndian.PutUint16(replyLenBuf[:], replyLenHint)
	var goCmdBuf [4]byte
	binary.LittleEndian.PutUint32(goCmdBuf[:], goCmd)

	want := crc16.Chain(argLenBuf[:], args, replyLenBuf[:], goCmdBuf[:])
	if got != want {
		t.Errorf("CommandInfoCRC = %#x, want %#x", got, want)
	}
}
