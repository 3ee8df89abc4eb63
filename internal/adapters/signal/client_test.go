package signal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/voicecall/internal/app/presence"
	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
)

func newTestTransport(t *testing.T, relay *testRelay, uid domain.UserID, codec Codec) (*WSTransport, *presence.Tracker) {
	t.Helper()
	tracker := presence.NewTracker()
	tr := NewWSTransport(ClientOptions{
		URL:         relay.wsURL(),
		UID:         uid,
		Codec:       codec,
		SendTimeout: 2 * time.Second,
		RetryBase:   10 * time.Millisecond,
		RetryMax:    50 * time.Millisecond,
		Presence:    tracker,
	})
	tr.Start()
	t.Cleanup(tr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := tr.WaitConnected(ctx); err != nil {
		t.Fatal(err)
	}
	return tr, tracker
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWSTransportDelivers(t *testing.T) {
	relay := newTestRelay(t)
	alice, aliceSees := newTestTransport(t, relay, "alice", MsgpackCodec{})
	bob, _ := newTestTransport(t, relay, "bob", JSONCodec{})

	eventually(t, func() bool { return aliceSees.IsReachable("bob") })

	invite := newMsg(t, domain.KindInvite, "alice", "bob", domain.InvitePayload{Mode: domain.ModeAudio})
	if err := alice.Send(context.Background(), invite); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-bob.Messages():
		if got.ID != invite.ID {
			t.Fatalf("got %s", got.ID)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("invite not delivered")
	}
}

func TestWSTransportReconnects(t *testing.T) {
	relay := newTestRelay(t)
	bob, _ := newTestTransport(t, relay, "bob", JSONCodec{})

	reconnected := make(chan struct{}, 1)
	bob.OnReconnect(func() { reconnected <- struct{}{} })

	eventually(t, func() bool { return len(relay.hub.Registry.Conns("bob")) == 1 })
	relay.hub.Registry.Conns("bob")[0].Close()

	select {
	case <-reconnected:
	case <-time.After(3 * time.Second):
		t.Fatal("no reconnect")
	}
	if !bob.Connected() {
		t.Fatal("should be connected after reconnect")
	}
}

func TestWSTransportControlTimesOutWhenRelayDown(t *testing.T) {
	tr := NewWSTransport(ClientOptions{
		URL:         "ws://127.0.0.1:1/ws",
		UID:         "alice",
		SendTimeout: 100 * time.Millisecond,
		RetryBase:   10 * time.Millisecond,
		RetryMax:    20 * time.Millisecond,
	})
	tr.Start()
	defer tr.Close()

	end := newMsg(t, domain.KindEnd, "alice", "bob", nil)
	start := time.Now()
	err := tr.Send(context.Background(), end)
	if !errors.Is(err, core.ErrSignalingDelivery) {
		t.Fatalf("err = %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("send did not respect the timeout")
	}

	ice := newMsg(t, domain.KindICECandidate, "alice", "bob", nil)
	if err := tr.Send(context.Background(), ice); !errors.Is(err, core.ErrSignalingDelivery) {
		t.Fatalf("ice err = %v", err)
	}
}

func TestNextBackoff(t *testing.T) {
	tests := []struct {
		cur, max, want time.Duration
	}{
		{100 * time.Millisecond, time.Second, 200 * time.Millisecond},
		{600 * time.Millisecond, time.Second, time.Second},
		{time.Second, time.Second, time.Second},
	}
	for _, tt := range tests {
		if got := nextBackoff(tt.cur, tt.max); got != tt.want {
			t.Errorf("nextBackoff(%v, %v) = %v, want %v", tt.cur, tt.max, got, tt.want)
		}
	}
}
