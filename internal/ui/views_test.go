package ui

import (
	"strings"
	"testing"
	"time"

	"github.com/dkeye/voicecall/internal/app/call"
	"github.com/dkeye/voicecall/internal/domain"
)

func TestStatusLine(t *testing.T) {
	tests := []struct {
		name string
		snap call.Snapshot
		want []string
	}{
		{"idle", call.Snapshot{State: domain.StateIdle}, []string{"idle"}},
		{"calling", call.Snapshot{State: domain.StateOutgoingRinging, PeerName: "bob", Mode: domain.ModeVideo}, []string{"calling", "bob", "video"}},
		{"incoming", call.Snapshot{State: domain.StateIncomingRinging, PeerName: "alice", Mode: domain.ModeAudio}, []string{"incoming audio call", "alice", "accept"}},
		{"active", call.Snapshot{State: domain.StateActive, PeerName: "bob", Mode: domain.ModeVideo, IsMuted: true}, []string{"in call", "muted", "video off"}},
		{"ended", call.Snapshot{State: domain.StateEnded, PeerName: "bob", EndReason: domain.EndBusy, EndText: domain.EndBusy.Text()}, []string{"User is busy"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StatusLine(tt.snap)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("%q missing %q", got, w)
				}
			}
		})
	}
}

func TestStatusBoxDuration(t *testing.T) {
	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	got := StatusBox("alice", call.Snapshot{
		State:       domain.StateActive,
		CallID:      "c1",
		PeerName:    "bob",
		Mode:        domain.ModeAudio,
		Outgoing:    true,
		ConnectedAt: &at,
	}, at.Add(90*time.Second))
	for _, w := range []string{"alice", "c1", "outgoing audio call with bob", "1m30s"} {
		if !strings.Contains(got, w) {
			t.Errorf("status box missing %q:\n%s", w, got)
		}
	}
}

func TestPresenceTable(t *testing.T) {
	now := time.Now()
	got := PresenceTable("alice", []domain.Presence{
		{UserID: "alice", State: domain.PresenceOnline, LastChanged: now.Add(-time.Minute)},
		{UserID: "bob", State: domain.PresenceAway},
	}, now)
	for _, w := range []string{"alice (you)", "bob", "away", "1m0s ago"} {
		if !strings.Contains(got, w) {
			t.Errorf("table missing %q:\n%s", w, got)
		}
	}
	if got := PresenceTable("alice", nil, now); !strings.Contains(got, "nobody") {
		t.Fatalf("empty table = %q", got)
	}
}
