package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/dkeye/voicecall/internal/app/call"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/jedib0t/go-pretty/v6/table"
)

// StatusLine is the one-line rendering printed on every snapshot change.
func StatusLine(s call.Snapshot) string {
	peer := PeerStyle.Render(s.PeerName)
	switch s.State {
	case domain.StateIdle:
		return MutedStyle.Render("idle")
	case domain.StateOutgoingRinging:
		return fmt.Sprintf("calling %s (%s)...", peer, s.Mode)
	case domain.StateIncomingRinging:
		return WarningStyle.Render("incoming "+string(s.Mode)+" call from ") + peer +
			MutedStyle.Render("  [accept | decline]")
	case domain.StateConnecting:
		return fmt.Sprintf("connecting to %s...", peer)
	case domain.StateActive:
		return SuccessStyle.Render("in call") + " with " + peer + " " + MutedStyle.Render(flags(s))
	case domain.StateEnded:
		line := fmt.Sprintf("call with %s ended: %s", peer, s.EndText)
		if s.EndReason == domain.EndError || s.EndReason == domain.EndRemoteDisconnected {
			return ErrorStyle.Render(line)
		}
		return line
	default:
		return string(s.State)
	}
}

func flags(s call.Snapshot) string {
	var f []string
	if s.IsMuted {
		f = append(f, "muted")
	}
	if s.Mode.IsVideo() {
		if s.IsVideoEnabled {
			f = append(f, "video on")
		} else {
			f = append(f, "video off")
		}
	}
	if len(f) == 0 {
		return ""
	}
	return "(" + strings.Join(f, ", ") + ")"
}

// StatusBox is the detailed view behind the status command.
func StatusBox(self domain.UserID, s call.Snapshot, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", BoldStyle.Render("user:"), self)
	fmt.Fprintf(&b, "%s %s", BoldStyle.Render("state:"), s.State)
	if s.State != domain.StateIdle {
		dir := "incoming"
		if s.Outgoing {
			dir = "outgoing"
		}
		fmt.Fprintf(&b, "\n%s %s\n", BoldStyle.Render("call:"), s.CallID)
		fmt.Fprintf(&b, "%s %s %s call with %s", BoldStyle.Render("mode:"), dir, s.Mode, s.PeerName)
	}
	if s.ConnectedAt != nil && s.State == domain.StateActive {
		fmt.Fprintf(&b, "\n%s %s", BoldStyle.Render("duration:"), now.Sub(*s.ConnectedAt).Truncate(time.Second))
	}
	if s.State == domain.StateActive || s.State == domain.StateConnecting {
		fmt.Fprintf(&b, "\n%s local=%v remote=%v %s", BoldStyle.Render("media:"),
			s.Media.HasLocalStream, s.Media.HasRemoteStream, flags(s))
	}
	if s.EndReason != "" {
		fmt.Fprintf(&b, "\n%s %s", BoldStyle.Render("ended:"), s.EndText)
	}
	if s.Error != "" {
		fmt.Fprintf(&b, "\n%s %s", BoldStyle.Render("error:"), ErrorStyle.Render(s.Error))
	}
	return BoxStyle.Render(b.String())
}

// PresenceTable lists known users, the local one marked.
func PresenceTable(self domain.UserID, list []domain.Presence, now time.Time) string {
	if len(list) == 0 {
		return MutedStyle.Render("nobody around")
	}
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"User", "State", "Since"})
	for _, p := range list {
		name := string(p.UserID)
		if p.UserID == self {
			name += " (you)"
		}
		since := "-"
		if !p.LastChanged.IsZero() {
			since = now.Sub(p.LastChanged).Truncate(time.Second).String() + " ago"
		}
		t.AppendRow(table.Row{name, string(p.State), since})
	}
	return t.Render()
}
