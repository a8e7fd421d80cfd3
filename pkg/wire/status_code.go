package wire

import "fmt"

// NuggetAppID is the app id the updater and auxiliary commands address
// (app_nugget.h refers to this app throughout as APP_ID_NUGGET).
const NuggetAppID uint8 = 1

// Nugget application parameter IDs (spec §4.2, grounded in
// app_nugget.h). The first three are carried over from the original
// firmware header; the rest are this driver's additions for the
// auxiliary commands spec.md describes that predate that header.
const (
	ParamVersion       uint16 = 0x0000
	ParamFlashBlock    uint16 = 0x0001
	ParamReboot        uint16 = 0x0002
	ParamChangePassword uint16 = 0x0003
	ParamEnableImages  uint16 = 0x0004
	ParamWipeSecrets   uint16 = 0x0005
)

// WhichHeaders selects which half of a slot an enable call should act
// on.
type WhichHeaders uint32

const (
	HeadersRO WhichHeaders = 1 << 0
	HeadersRW WhichHeaders = 1 << 1
)

// Status-word flag bits. The raw 32-bit status carried by a transport
// status record is not itself an AppStatus: APP_STATUS_DONE flags
// whether the call has finished, and the result code only becomes
// meaningful once that bit is set. APP_STATUS_IDLE is the literal
// all-zero value a freshly cleared app reports.
const (
	AppStatusIdle uint32 = 0
	AppStatusDone uint32 = 1 << 31
)

// StatusCode extracts the APP_STATUS_CODE(status) result code from a
// raw status word, masking off the done flag.
func StatusCode(status uint32) AppStatus {
	return AppStatus(status &^ AppStatusDone)
}

// IsDone reports whether the done flag is set in a raw status word.
func IsDone(status uint32) bool {
	return status&AppStatusDone != 0
}

// AppStatus is an application result code, as StatusCode extracts it
// from a transport status record's raw Status word (spec §4.5, grounded
// in app_nugget.h and NuggetClient.cpp's StatusCodeString bucketing).
type AppStatus uint32

// Named application status codes.
const (
	AppSuccess         AppStatus = 0x0
	AppErrorBogusArgs  AppStatus = 0x1
	AppErrorChecksum   AppStatus = 0x2
	AppErrorInternal   AppStatus = 0x3
	AppErrorTooMuch    AppStatus = 0x4
	AppErrorRPC        AppStatus = 0x5
	AppErrorIO         AppStatus = 0x6
	appSpecificErrorBase AppStatus = 0x8000
	appLineNumberBase    AppStatus = 0x10000
)

// App-specific errors the updater's retry/abort logic inspects
// directly (spec §4.7, grounded in app_nugget.h's NUGGET_ERROR_*).
const (
	NuggetErrorLocked AppStatus = appSpecificErrorBase + 0
	NuggetErrorRetry  AppStatus = appSpecificErrorBase + 1
)

// IsSuccess reports whether the status represents a completed,
// successful call.
func (s AppStatus) IsSuccess() bool {
	return s == AppSuccess
}

// String renders the status the way the original client's
// StatusCodeString does: a name for the well-known codes, an
// APP_SPECIFIC_ERROR+N form for app-defined codes, an
// APP_LINE_NUMBER_BASE+N form for codes that encode a source line, and
// a raw hex fallback otherwise.
func (s AppStatus) String() string {
	switch s {
	case AppSuccess:
		return "APP_SUCCESS"
	case AppErrorBogusArgs:
		return "APP_ERROR_BOGUS_ARGS"
	case AppErrorChecksum:
		return "APP_ERROR_CHECKSUM"
	case AppErrorInternal:
		return "APP_ERROR_INTERNAL"
	case AppErrorTooMuch:
		return "APP_ERROR_TOO_MUCH"
	case AppErrorRPC:
		return "APP_ERROR_RPC"
	case AppErrorIO:
		return "APP_ERROR_IO"
	}

	switch {
	case s >= appLineNumberBase:
		return fmt.Sprintf("APP_LINE_NUMBER_BASE+%d", s-appLineNumberBase)
	case s >= appSpecificErrorBase:
		return fmt.Sprintf("APP_SPECIFIC_ERROR+%d", s-appSpecificErrorBase)
	default:
		return fmt.Sprintf("0x%X", uint32(s))
	}
}

// Error satisfies the error interface so a non-zero AppStatus can be
// returned directly as a call's error, without losing the raw code to
// callers that type-assert back to AppStatus.
func (s AppStatus) Error() string {
	return s.String()
}
