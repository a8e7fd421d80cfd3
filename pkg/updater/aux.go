package updater

import (
	"encoding/binary"
	"fmt"

	"avaneesh/chip-updater/pkg/wire"
)

// Version calls NUGGET_PARAM_VERSION with an empty request and returns
// the ASCII reply verbatim (spec §4.7 auxiliary "version").
func (u *Updater) Version() (string, error) {
	status, reply, err := u.caller.Call(u.appID, wire.ParamVersion, nil, 512)
	if status != wire.AppSuccess {
		return "", statusErrorf(status, err, "version")
	}
	return string(reply), nil
}

// RebootKind selects soft vs hard reboot for Reboot.
type RebootKind byte

const (
	RebootSoft RebootKind = 0
	RebootHard RebootKind = 1
)

// Reboot calls NUGGET_PARAM_REBOOT with a single byte selecting soft
// or hard reboot (spec §4.7 auxiliary "reboot").
func (u *Updater) Reboot(kind RebootKind) error {
	status, _, err := u.caller.Call(u.appID, wire.ParamReboot, []byte{byte(kind)}, 0)
	if status != wire.AppSuccess {
		return statusErrorf(status, err, "reboot")
	}
	return nil
}

// ChangePassword calls NUGGET_PARAM_CHANGE_UPDATE_PASSWORD with two
// password records; an empty password string on either side is sent
// as the all-0xFF record, with its digest computed over that buffer
// like every other record (spec §4.7 auxiliary "change_pw").
func (u *Updater) ChangePassword(oldPassword, newPassword string) error {
	req := append(passwordRecordFor(oldPassword).Encode(), passwordRecordFor(newPassword).Encode()...)
	status, _, err := u.caller.Call(u.appID, wire.ParamChangePassword, req, 0)
	if status != wire.AppSuccess {
		return statusErrorf(status, err, "change_pw")
	}
	return nil
}

// EnableImages calls NUGGET_PARAM_ENABLE_UPDATE with a password record
// and a which_headers bitfield (spec §4.7 auxiliary "enable").
func (u *Updater) EnableImages(password string, which wire.WhichHeaders) error {
	record := passwordRecordFor(password).Encode()
	var whichBuf [4]byte
	binary.LittleEndian.PutUint32(whichBuf[:], uint32(which))
	req := append(record, whichBuf[:]...)

	status, _, err := u.caller.Call(u.appID, wire.ParamEnableImages, req, 0)
	if status != wire.AppSuccess {
		return statusErrorf(status, err, "enable")
	}
	return nil
}

// Erase calls NUGGET_PARAM_NUKE_FROM_ORBIT with a caller-provided
// 32-bit erase code. Any non-zero code requests secret erase and
// reboot (spec §4.7 auxiliary "erase").
func (u *Updater) Erase(code uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], code)

	status, _, err := u.caller.Call(u.appID, wire.ParamWipeSecrets, buf[:], 0)
	if status != wire.AppSuccess {
		return statusErrorf(status, err, "erase")
	}
	return nil
}

func passwordRecordFor(password string) wire.PasswordRecord {
	if password == "" {
		return wire.NewEmptyPasswordRecord()
	}
	return wire.NewPasswordRecord(password)
}

func statusErrorf(status wire.AppStatus, err error, action string) error {
	if err != nil {
		return fmt.Errorf("updater: %s: %w", action, err)
	}
	return fmt.Errorf("updater: %s: %w", action, status)
}

// Actions selects which operations a single orchestrated run performs.
// Fields left unset are simply skipped.
type Actions struct {
	Version      bool
	UpdateRW     []byte // RW image bytes, nil to skip
	UpdateRO     []byte // RO image bytes, nil to skip
	ChangePwFrom string
	ChangePwTo   string
	ChangePw     bool
	EnableHeader wire.WhichHeaders
	EnablePw     string
	Enable       bool
	Reboot       bool
	RebootKind   RebootKind
	EraseCode    uint32
	Erase        bool
}

// Run executes the requested actions in the fixed order spec.md §4.7
// mandates: version, RW update, RO update, change-password, enable,
// reboot — stopping on first failure. Erase preempts everything else.
func (u *Updater) Run(a Actions) error {
	if a.Erase {
		return u.Erase(a.EraseCode)
	}

	if a.Version {
		v, err := u.Version()
		if err != nil {
			return err
		}
		u.log.Info("updater: chip version %q", v)
	}

	if a.UpdateRW != nil {
		if err := u.UpdateRegion(a.UpdateRW, wire.RegionRW); err != nil {
			return err
		}
	}

	if a.UpdateRO != nil {
		if err := u.UpdateRegion(a.UpdateRO, wire.RegionRO); err != nil {
			return err
		}
	}

	if a.ChangePw {
		if err := u.ChangePassword(a.ChangePwFrom, a.ChangePwTo); err != nil {
			return err
		}
	}

	if a.Enable {
		if err := u.EnableImages(a.EnablePw, a.EnableHeader); err != nil {
			return err
		}
	}

	if a.Reboot {
		if err := u.Reboot(a.RebootKind); err != nil {
			return err
		}
	}

	return nil
}
