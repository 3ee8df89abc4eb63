package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dkeye/voicecall/internal/app/call"
	"github.com/dkeye/voicecall/internal/app/presence"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/dkeye/voicecall/internal/ui"
)

var errUsage = errors.New("usage")

type command struct {
	name string
	peer domain.UserID
	mode domain.Mode
	on   bool
}

func usage(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{errUsage}, args...)...)
}

func parseCommand(line string) (command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{}, nil
	}
	cmd := command{name: strings.ToLower(fields[0])}
	args := fields[1:]
	switch cmd.name {
	case "call":
		if len(args) < 1 || len(args) > 2 {
			return command{}, usage("call <uid> [audio|video]")
		}
		uid, err := domain.ParseUserID(args[0])
		if err != nil {
			return command{}, err
		}
		cmd.peer = uid
		cmd.mode = domain.ModeAudio
		if len(args) == 2 {
			cmd.mode = domain.Mode(strings.ToLower(args[1]))
			if !cmd.mode.Valid() {
				return command{}, usage("call <uid> [audio|video]")
			}
		}
	case "video":
		if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
			return command{}, usage("video on|off")
		}
		cmd.on = args[0] == "on"
	case "accept", "decline", "hangup", "mute", "unmute", "who", "status", "away", "back", "help", "quit", "exit":
		if len(args) != 0 {
			return command{}, usage("%s takes no arguments", cmd.name)
		}
	default:
		return command{}, fmt.Errorf("unknown command %q, try 'help'", cmd.name)
	}
	return cmd, nil
}

type awaySetter interface {
	SetAway(away bool) error
}

type shell struct {
	ctl      *call.Controller
	tracker  *presence.Tracker
	presence awaySetter
	out      io.Writer
}

func (sh *shell) exec(ctx context.Context, line string) (quit bool, err error) {
	cmd, err := parseCommand(line)
	if err != nil || cmd.name == "" {
		return false, err
	}
	switch cmd.name {
	case "call":
		_, err = sh.ctl.InitiateCall(ctx, cmd.peer, cmd.mode)
	case "accept":
		err = sh.ctl.AcceptCall(ctx)
	case "decline":
		err = sh.ctl.DeclineCall(ctx)
	case "hangup":
		err = sh.ctl.HangUp(ctx)
	case "mute", "unmute":
		err = sh.ctl.SetAudioMuted(ctx, cmd.name == "mute")
	case "video":
		err = sh.ctl.SetVideoEnabled(ctx, cmd.on)
	case "who":
		fmt.Fprintln(sh.out, ui.PresenceTable(sh.ctl.Self(), sh.tracker.Snapshot(), time.Now()))
	case "status":
		fmt.Fprintln(sh.out, ui.StatusBox(sh.ctl.Self(), sh.ctl.Snapshot(), time.Now()))
	case "away", "back":
		err = sh.presence.SetAway(cmd.name == "away")
	case "help":
		fmt.Fprintln(sh.out, runHelp)
	case "quit", "exit":
		return true, nil
	}
	return false, err
}
