package wire

import "testing"

func TestCmdID_AppIDRoundTrip(t *testing.T) {
	for _, id := range []uint8{0x00, 0x01, 0x7F, 0xFF} {
		cmd := CmdID(id)
		if got := AppIDOf(cmd); got != id {
			t.Errorf("AppIDOf(CmdID(%#x)) = %#x, want %#x", id, got, id)
		}
	}
}

func TestCmdParam_RoundTrip(t *testing.T) {
	for _, p := range []uint16{0, 1, 0x1234, 0xFFFF} {
		cmd := CmdID(7) | CmdParam(p)
		if got := ParamOf(cmd); got != p {
			t.Errorf("ParamOf(CmdID(7)|CmdParam(%#x)) = %#x, want %#x", p, got, p)
		}
		if got := AppIDOf(cmd); got != 7 {
			t.Errorf("AppIDOf did not survive alongside param: got %#x", got)
		}
	}
}

func TestSetParam_PreservesFlagsAndAppID(t *testing.T) {
	base := StatusReadCommand(3) | CmdMoreToCome
	updated := SetParam(base, 0x55)

	if AppIDOf(updated) != 3 {
		t.Errorf("SetParam clobbered app id")
	}
	if updated&CmdIsRead == 0 || updated&CmdTransport == 0 || updated&CmdMoreToCome == 0 {
		t.Errorf("SetParam clobbered flag bits: %#032b", updated)
	}
	if ParamOf(updated) != 0x55 {
		t.Errorf("ParamOf(updated) = %#x, want 0x55", ParamOf(updated))
	}
}

func TestCommandBuilders_SetExpectedFlags(t *testing.T) {
	const appID = 5

	cases := []struct {
		name string
		cmd  uint32
		want uint32
	}{
		{"status read", StatusReadCommand(appID), CmdIsRead | CmdTransport},
		{"clear status", ClearStatusCommand(appID), CmdTransport},
		{"send args", SendArgsCommand(appID), CmdIsData | CmdTransport},
		{"receive reply", ReceiveReplyCommand(appID), CmdIsRead | CmdIsData | CmdTransport},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if AppIDOf(c.cmd) != appID {
				t.Errorf("%s: app id = %#x, want %#x", c.name, AppIDOf(c.cmd), appID)
			}
			if c.cmd&c.want != c.want {
				t.Errorf("%s: missing expected flags, cmd=%#032b want=%#032b", c.name, c.cmd, c.want)
			}
		})
	}
}

func TestGoCommand_CarriesParam(t *testing.T) {
	cmd := GoCommand(9, ParamVersion)
	if AppIDOf(cmd) != 9 {
		t.Errorf("AppIDOf = %#x, want 9", AppIDOf(cmd))
	}
	if ParamOf(cmd) != ParamVersion {
		t.Errorf("ParamOf = %#x, want %#x", ParamOf(cmd), ParamVersion)
	}
	if cmd&(CmdIsRead|CmdIsData|CmdTransport) != 0 {
		t.Errorf("GoCommand set transport flag bits unexpectedly: %#032b", cmd)
	}
}
