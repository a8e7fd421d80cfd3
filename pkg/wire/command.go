// Package wire packs and parses the on-the-wire shapes of the chip
// transport protocol: the 32-bit command word, the transport status
// record (current and legacy), the command_info sent on "go", and the
// application-level structures the updater and auxiliary commands send
// as opaque payloads (flash blocks, password records).
//
// Every layout here is little-endian and packed byte-for-byte: no
// language-provided struct padding is allowed to leak onto the wire, so
// every encode/decode goes through encoding/binary rather than a raw
// struct cast.
package wire

// Command word bit layout (spec §6: "app id in the high byte, transport
// flags ... and a 16-bit parameter field"). The exact bit positions are
// not specified by the original header, so this module fixes one
// internally-consistent convention (see DESIGN.md, "Open Question
// decisions"):
//
//	bit 31..24  app id
//	bit 23      CMD_IS_READ
//	bit 22      CMD_IS_DATA
//	bit 21      CMD_TRANSPORT
//	bit 20      CMD_MORE_TO_COME
//	bit 15..0   16-bit parameter
const (
	cmdAppIDShift = 24

	CmdIsRead      uint32 = 1 << 23
	CmdIsData      uint32 = 1 << 22
	CmdTransport   uint32 = 1 << 21
	CmdMoreToCome  uint32 = 1 << 20
	cmdParamMask   uint32 = 0x0000FFFF
)

// CmdID embeds an app id into the command word's app id field.
func CmdID(appID uint8) uint32 {
	return uint32(appID) << cmdAppIDShift
}

// CmdParam embeds a 16-bit parameter into the command word.
func CmdParam(param uint16) uint32 {
	return uint32(param) & cmdParamMask
}

// SetParam replaces the parameter field of an existing command word,
// used to stamp the byte count of a single datagram into the command
// (spec §4.4 step 2: "embed the datagram length in the param field").
func SetParam(cmd uint32, param uint16) uint32 {
	return (cmd &^ cmdParamMask) | CmdParam(param)
}

// AppIDOf extracts the app id embedded in a command word.
func AppIDOf(cmd uint32) uint8 {
	return uint8(cmd >> cmdAppIDShift)
}

// ParamOf extracts the 16-bit parameter embedded in a command word.
func ParamOf(cmd uint32) uint16 {
	return uint16(cmd & cmdParamMask)
}

// StatusReadCommand builds the command word used to poll transport
// status for appID (spec §4.4 step 1/4, §6 "Status-read datagram").
func StatusReadCommand(appID uint8) uint32 {
	return CmdID(appID) | CmdIsRead | CmdTransport
}

// ClearStatusCommand builds the zero-length command that forces the app
// back to idle (spec §4.4 steps 1 and 7).
func ClearStatusCommand(appID uint8) uint32 {
	return CmdID(appID) | CmdTransport
}

// SendArgsCommand builds the base command word used while streaming
// request args to the device (spec §4.4 step 2). MoreToCome must be
// OR'd in by the caller on every datagram after the first.
func SendArgsCommand(appID uint8) uint32 {
	return CmdID(appID) | CmdIsData | CmdTransport
}

// GoCommand builds the command word for the final "go" write that hands
// control to the app (spec §4.4 step 3).
func GoCommand(appID uint8, param uint16) uint32 {
	return CmdID(appID) | CmdParam(param)
}

// ReceiveReplyCommand builds the base command word used while reading
// the reply back (spec §4.4 step 6). MoreToCome must be OR'd in by the
// caller on every datagram after the first.
func ReceiveReplyCommand(appID uint8) uint32 {
	return CmdID(appID) | CmdIsRead | CmdIsData | CmdTransport
}
