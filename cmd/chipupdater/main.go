// Command chipupdater drives the chip transport and firmware updater
// protocol from the shell: connect to a chip (directly or through a
// proxy daemon), query its version, flash RO/RW images, rotate the
// update password, enable staged images, wipe secrets, and reboot.
//
// It is the informative CLI driver (C9) composing pkg/client,
// pkg/updater, and pkg/image; see updater.cpp's usage()/main() in the
// original implementation for the action set and exit-code table this
// mirrors.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"avaneesh/chip-updater/internal/logger"
	"avaneesh/chip-updater/pkg/bus"
	"avaneesh/chip-updater/pkg/client"
	"avaneesh/chip-updater/pkg/directbus"
	"avaneesh/chip-updater/pkg/image"
	"avaneesh/chip-updater/pkg/proxy"
	"avaneesh/chip-updater/pkg/updater"
	"avaneesh/chip-updater/pkg/wire"
)

// exit codes, per spec: 0 success; 1 connection failure; 2 version;
// 3 RW update; 4 RO update; 5 change-password; 6 enable; 7 reboot.
const (
	exitConnectionFailed = 1
	exitVersion          = 2
	exitUpdateRW         = 3
	exitUpdateRO         = 4
	exitChangePassword   = 5
	exitEnable           = 6
	exitReboot           = 7
)

func main() {
	app := &cli.App{
		Name:      "chipupdater",
		Usage:     "query and update a chip's firmware over its transport protocol",
		ArgsUsage: "[image.bin] [old_pw] [new_pw]",
		Description: "Citadel-style chip image: RO_A/RW_A/RO_B/RW_B regions at fixed\n" +
			"offsets, only the inactive A/B copy of each region can be written.\n" +
			"With no action flags, this prints usage and exits 0.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "version", Usage: "print the chip's firmware version"},
			&cli.BoolFlag{Name: "ro", Usage: "update the RO region from image.bin"},
			&cli.BoolFlag{Name: "rw", Usage: "update the RW region from image.bin"},
			&cli.BoolFlag{Name: "reboot", Usage: "reboot the chip"},
			&cli.BoolFlag{Name: "enable_ro", Usage: "enable the staged RO image"},
			&cli.BoolFlag{Name: "enable_rw", Usage: "enable the staged RW image"},
			&cli.BoolFlag{Name: "change_pw", Usage: "rotate the update password (uses old_pw/new_pw positionals)"},
			&cli.UintFlag{Name: "erase", Usage: "wipe secrets with the given confirmation code; preempts every other action"},
			&cli.StringFlag{Name: "device", Usage: "device node to open directly (ignored when --proxy is set)", Value: "/dev/citadel0"},
			&cli.StringFlag{Name: "proxy", Usage: "address of a proxy daemon to dial instead of --device"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"V"}, Usage: "enable debug logging"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		if exitErr, ok := err.(cli.ExitCoder); ok {
			if msg := exitErr.Error(); msg != "" {
				fmt.Fprintln(os.Stderr, "chipupdater:", msg)
			}
			os.Exit(exitErr.ExitCode())
		}
		fmt.Fprintln(os.Stderr, "chipupdater:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	gotAction := c.Bool("version") || c.Bool("ro") || c.Bool("rw") || c.Bool("reboot") ||
		c.Bool("enable_ro") || c.Bool("enable_rw") || c.Bool("change_pw") || c.IsSet("erase")
	if !gotAction {
		return cli.ShowAppHelp(c)
	}

	level := logger.LevelInfo
	if c.Bool("verbose") {
		level = logger.LevelDebug
	}
	log := logger.NewDefaultLogger(level)

	actions, err := buildActions(c)
	if err != nil {
		return cli.Exit(err, 1)
	}

	session := client.New(dialerFor(c), client.WithLogger(log))
	if err := session.Open(); err != nil {
		return cli.Exit(fmt.Errorf("connect: %w", err), exitConnectionFailed)
	}
	defer session.Close()

	return runActions(updater.New(session, updater.WithLogger(log)), actions)
}

// runActions executes the requested actions in the fixed order
// updater.cpp's main() does, returning the spec's exit code for
// whichever action fails.
func runActions(up *updater.Updater, a updater.Actions) error {
	if a.Erase {
		if err := up.Erase(a.EraseCode); err != nil {
			return cli.Exit(err, exitConnectionFailed)
		}
		return nil
	}

	if a.Version {
		v, err := up.Version()
		if err != nil {
			return cli.Exit(err, exitVersion)
		}
		fmt.Println(v)
	}

	if a.UpdateRW != nil {
		if err := up.UpdateRegion(a.UpdateRW, wire.RegionRW); err != nil {
			return cli.Exit(err, exitUpdateRW)
		}
	}

	if a.UpdateRO != nil {
		if err := up.UpdateRegion(a.UpdateRO, wire.RegionRO); err != nil {
			return cli.Exit(err, exitUpdateRO)
		}
	}

	if a.ChangePw {
		if err := up.ChangePassword(a.ChangePwFrom, a.ChangePwTo); err != nil {
			return cli.Exit(err, exitChangePassword)
		}
	}

	if a.Enable {
		if err := up.EnableImages(a.EnablePw, a.EnableHeader); err != nil {
			return cli.Exit(err, exitEnable)
		}
	}

	if a.Reboot {
		if err := up.Reboot(updater.RebootSoft); err != nil {
			return cli.Exit(err, exitReboot)
		}
	}

	return nil
}

func dialerFor(c *cli.Context) client.Dialer {
	if addr := c.String("proxy"); addr != "" {
		return func() (bus.Bus, error) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return proxy.Dial(ctx, addr)
		}
	}
	device := c.String("device")
	return func() (bus.Bus, error) {
		return directbus.Open(device)
	}
}

func buildActions(c *cli.Context) (updater.Actions, error) {
	a := updater.Actions{
		Version:  c.Bool("version"),
		Reboot:   c.Bool("reboot"),
		ChangePw: c.Bool("change_pw"),
		Enable:   c.Bool("enable_ro") || c.Bool("enable_rw"),
	}
	if c.Bool("enable_ro") {
		a.EnableHeader |= wire.HeadersRO
	}
	if c.Bool("enable_rw") {
		a.EnableHeader |= wire.HeadersRW
	}
	if c.IsSet("erase") {
		a.Erase = true
		a.EraseCode = uint32(c.Uint("erase"))
	}

	args := c.Args()
	imagePath, oldPw, newPw := args.Get(0), args.Get(1), args.Get(2)

	if c.Bool("ro") || c.Bool("rw") {
		if imagePath == "" {
			return a, fmt.Errorf("an image file is required with --ro and --rw")
		}
		img, err := image.Load(imagePath)
		if err != nil {
			return a, err
		}
		if c.Bool("rw") {
			a.UpdateRW = img
		}
		if c.Bool("ro") {
			a.UpdateRO = img
		}
	}

	if a.ChangePw || a.Enable {
		a.ChangePwFrom = oldPw
		a.ChangePwTo = newPw
		a.EnablePw = oldPw
	}

	return a, nil
}
