package wire

import (
	"encoding/binary"
	"errors"

	"avaneesh/chip-updater/pkg/crc16"
)

// TransportStatusMagic marks a current (V1) status record. Its absence
// in the first four bytes of a status read identifies the legacy shape
// (spec §3: "Both shapes share the leading bytes; the reader uses a
// union of both and decides by magic.").
const TransportStatusMagic uint32 = 0x43484950 // "CHIP" as big-endian ASCII; the little-endian wire bytes read "PIHC"

// Transport protocol versions.
const (
	TransportLegacy uint8 = 0 // synthesized; never sent on the wire
	TransportV1     uint8 = 1
)

// ErrUnknownTransportVersion is returned when a status record carries a
// magic and version this module does not recognise.
var ErrUnknownTransportVersion = errors.New("wire: unrecognized transport version")

// currentStatusSize is the wire size of the V1 transport_status record:
// magic(4) [0:4] + version(1) [4] + reserved(1) [5] + crc(2) [6:8] +
// status(4) [8:12] + reply_len(2) [12:14] + reply_crc(2) [14:16] = 16
// bytes.
const currentStatusSize = 16

// legacyStatusSize is the wire size of the legacy status record:
// status(4) + reply_len(2) = 6 bytes.
const legacyStatusSize = 6

// StatusReadSize is the number of bytes to request on a status-read
// datagram: large enough to hold either shape.
const StatusReadSize = currentStatusSize

// Status is the version-normalized transport status, produced for both
// the legacy and V1 wire shapes (spec §3, §4.4 "Status parsing").
type Status struct {
	Version   uint8
	Status    uint32
	ReplyLen  uint16
	ReplyCRC  uint16 // only meaningful when Version == TransportV1
}

// ParseStatus decodes a raw status-read datagram into the normalized
// Status, detecting legacy vs V1 by magic and validating the V1 CRC.
//
// On a V1 record, it returns the computed CRC alongside the decoded
// status so the retry loop in the transport package can decide whether
// to treat a mismatch as transient; ok is false when either the magic
// is V1 but the CRC does not match the received buffer, or the version
// byte is unrecognized.
func ParseStatus(buf []byte) (status Status, theirCRC, ourCRC uint16, ok bool, err error) {
	if len(buf) < legacyStatusSize {
		return Status{}, 0, 0, false, errors.New("wire: status buffer too short")
	}

	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != TransportStatusMagic {
		// Legacy shape: status(4) || reply_len(2), no magic, no CRC.
		status = Status{
			Version:  TransportLegacy,
			Status:   binary.LittleEndian.Uint32(buf[0:4]),
			ReplyLen: binary.LittleEndian.Uint16(buf[4:6]),
		}
		return status, 0, 0, true, nil
	}

	if len(buf) < currentStatusSize {
		return Status{}, 0, 0, false, errors.New("wire: truncated V1 status buffer")
	}

	version := buf[4]
	theirCRC = binary.LittleEndian.Uint16(buf[6:8])

	// CRC is computed over the record with the CRC field zeroed.
	zeroed := make([]byte, currentStatusSize)
	copy(zeroed, buf[:currentStatusSize])
	zeroed[6] = 0
	zeroed[7] = 0
	ourCRC = crc16.Checksum(zeroed)

	if theirCRC != ourCRC {
		return Status{}, theirCRC, ourCRC, false, nil
	}

	if version != TransportV1 {
		return Status{}, theirCRC, ourCRC, false, ErrUnknownTransportVersion
	}

	status = Status{
		Version:  TransportV1,
		Status:   binary.LittleEndian.Uint32(buf[8:12]),
		ReplyLen: binary.LittleEndian.Uint16(buf[12:14]),
		ReplyCRC: binary.LittleEndian.Uint16(buf[14:16]),
	}
	return status, theirCRC, ourCRC, true, nil
}

// CommandInfoSize is the wire size of the command_info payload sent
// with the "go" write: version(1) + reserved(1) + reply_len_hint(2) +
// crc(2) = 6 bytes.
const CommandInfoSize = 6

// CommandInfo is the payload of the final "go" write (spec §3, §6).
type CommandInfo struct {
	Version      uint8
	ReplyLenHint uint16
	CRC          uint16
}

// Encode serialises a CommandInfo to its little-endian wire form.
func (c CommandInfo) Encode() []byte {
	buf := make([]byte, CommandInfoSize)
	buf[0] = c.Version
	buf[1] = 0 // reserved
	binary.LittleEndian.PutUint16(buf[2:4], c.ReplyLenHint)
	binary.LittleEndian.PutUint16(buf[4:6], c.CRC)
	return buf
}

// CommandInfoCRC computes the checksum that covers the whole call,
// chaining arg_len || args || reply_len_hint || go_command without
// materializing the concatenation (spec §4.4 step 3).
func CommandInfoCRC(args []byte, replyLenHint uint16, goCommand uint32) uint16 {
	var argLenBuf [2]byte
	binary.LittleEndian.PutUint16(argLenBuf[:], uint16(len(args)))

	var replyLenBuf [2]byte
	binary.LittleEndian.PutUint16(replyLenBuf[:], replyLenHint)

	var goCmdBuf [4]byte
	binary.LittleEndian.PutUint32(goCmdBuf[:], goCommand)

	return crc16.Chain(argLenBuf[:], args, replyLenBuf[:], goCmdBuf[:])
}
