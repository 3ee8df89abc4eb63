package signal

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/voicecall/internal/adapters/store"
	"github.com/dkeye/voicecall/internal/app"
	"github.com/dkeye/voicecall/internal/app/presence"
	"github.com/dkeye/voicecall/internal/auth"
	"github.com/dkeye/voicecall/internal/config"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type testRelay struct {
	hub   *Hub
	store *store.Store
	srv   *httptest.Server
}

func newTestRelay(t *testing.T) *testRelay {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := store.Open(filepath.Join(t.TempDir(), "calls.db"))
	if err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{ReadLimit: 32768, PingPeriod: time.Minute}
	hub := NewHub(cfg, app.NewRegistry(), presence.NewTracker(), st, app.SimplePolicy{})

	ctx, cancel := context.WithCancel(context.Background())
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		if uid := c.Query("uid"); uid != "" {
			c.Set(auth.ContextUserKey, domain.User{ID: domain.UserID(uid), Username: uid})
		}
		hub.HandleSignal(ctx, c)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		hub.Close()
		srv.Close()
		st.Close()
	})
	return &testRelay{hub: hub, store: st, srv: srv}
}

func (r *testRelay) wsURL() string {
	return "ws" + strings.TrimPrefix(r.srv.URL, "http") + "/ws"
}

type testClient struct {
	t     *testing.T
	conn  *websocket.Conn
	codec Codec
}

func (r *testRelay) dial(t *testing.T, uid string, codec Codec) *testClient {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(r.wsURL()+"?uid="+uid+"&codec="+codec.Name(), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn, codec: codec}
}

func (c *testClient) send(f Frame) {
	c.t.Helper()
	data, err := c.codec.Marshal(f)
	if err != nil {
		c.t.Fatal(err)
	}
	if err := c.conn.WriteMessage(c.codec.MessageType(), data); err != nil {
		c.t.Fatal(err)
	}
}

// next reads frames until one of type want arrives.
func (c *testClient) next(want FrameType) Frame {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.t.Fatalf("waiting for %s: %v", want, err)
		}
		var f Frame
		if err := c.codec.Unmarshal(data, &f); err != nil {
			c.t.Fatal(err)
		}
		if f.Type == want {
			return f
		}
	}
}

func newMsg(t *testing.T, kind domain.Kind, from, to domain.UserID, payload any) domain.SignalingMessage {
	t.Helper()
	m, err := domain.NewMessage(kind, from, to, "call-1", payload)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestHubRelaysSignal(t *testing.T) {
	for _, codec := range []Codec{JSONCodec{}, MsgpackCodec{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			relay := newTestRelay(t)
			alice := relay.dial(t, "alice", codec)
			alice.next(FramePresenceSnapshot)
			bob := relay.dial(t, "bob", codec)
			bob.next(FramePresenceSnapshot)

			invite := newMsg(t, domain.KindInvite, "alice", "bob", domain.InvitePayload{Mode: domain.ModeVideo})
			alice.send(signalFrame(invite))

			got := bob.next(FrameSignal)
			if got.Signal == nil || got.Signal.ID != invite.ID || got.Signal.Kind != domain.KindInvite {
				t.Fatalf("bob got %+v", got.Signal)
			}
			var p domain.InvitePayload
			if err := got.Signal.Decode(&p); err != nil || p.Mode != domain.ModeVideo {
				t.Fatalf("payload = %+v, %v", p, err)
			}
		})
	}
}

func TestHubRejectsSpoofedSender(t *testing.T) {
	relay := newTestRelay(t)
	alice := relay.dial(t, "alice", JSONCodec{})
	alice.next(FramePresenceSnapshot)

	spoof := newMsg(t, domain.KindEnd, "mallory", "bob", nil)
	alice.send(signalFrame(spoof))

	f := alice.next(FrameError)
	if f.Error != ErrCodeFromMismatch || f.Ref != spoof.ID {
		t.Fatalf("error frame = %+v", f)
	}
}

func TestHubQueuesControlForOfflineUser(t *testing.T) {
	relay := newTestRelay(t)
	alice := relay.dial(t, "alice", JSONCodec{})
	alice.next(FramePresenceSnapshot)

	invite := newMsg(t, domain.KindInvite, "alice", "carol", domain.InvitePayload{Mode: domain.ModeAudio})
	ice := newMsg(t, domain.KindICECandidate, "alice", "carol", domain.CandidatePayload{})
	alice.send(signalFrame(invite))
	alice.send(signalFrame(ice))
	alice.send(Frame{Type: FramePing})
	alice.next(FramePong)

	carol := relay.dial(t, "carol", JSONCodec{})
	got := carol.next(FrameSignal)
	if got.Signal.ID != invite.ID {
		t.Fatalf("carol got %s first, want queued invite", got.Signal.Kind)
	}

	rec, err := relay.store.Signals(context.Background(), "call-1", "carol")
	if err != nil {
		t.Fatal(err)
	}
	if len(rec) != 1 || rec[0].ID != ice.ID {
		t.Fatalf("record = %v", rec)
	}
}

func TestHubClosingMessageDeletesRecord(t *testing.T) {
	relay := newTestRelay(t)
	alice := relay.dial(t, "alice", JSONCodec{})
	alice.next(FramePresenceSnapshot)
	bob := relay.dial(t, "bob", JSONCodec{})
	bob.next(FramePresenceSnapshot)

	alice.send(signalFrame(newMsg(t, domain.KindOffer, "alice", "bob", domain.SDPPayload{SDP: "v=0"})))
	bob.next(FrameSignal)
	alice.send(signalFrame(newMsg(t, domain.KindEnd, "alice", "bob", domain.ReasonPayload{Reason: domain.EndHangup})))
	if f := bob.next(FrameSignal); f.Signal.Kind != domain.KindEnd {
		t.Fatalf("bob got %s", f.Signal.Kind)
	}

	rec, _ := relay.store.Signals(context.Background(), "call-1", "bob")
	if len(rec) != 0 {
		t.Fatalf("record survived end: %v", rec)
	}
}

func TestHubPresence(t *testing.T) {
	relay := newTestRelay(t)
	alice := relay.dial(t, "alice", JSONCodec{})
	alice.next(FramePresenceSnapshot)

	bob := relay.dial(t, "bob", JSONCodec{})
	snap := bob.next(FramePresenceSnapshot)
	if len(snap.Snapshot) != 2 {
		t.Fatalf("snapshot = %+v", snap.Snapshot)
	}

	f := alice.next(FramePresence)
	if f.Presence.UserID != "bob" || f.Presence.State != domain.PresenceOnline {
		t.Fatalf("presence = %+v", f.Presence)
	}

	bob.send(Frame{Type: FramePresence, Presence: &domain.Presence{State: domain.PresenceAway}})
	f = alice.next(FramePresence)
	if f.Presence.State != domain.PresenceAway {
		t.Fatalf("presence = %+v", f.Presence)
	}
	if !relay.hub.Presence.IsReachable("bob") {
		t.Fatal("away users stay reachable")
	}

	bob.conn.Close()
	f = alice.next(FramePresence)
	if f.Presence.UserID != "bob" || f.Presence.State != domain.PresenceOffline {
		t.Fatalf("presence = %+v", f.Presence)
	}
}

func TestHubRequiresUser(t *testing.T) {
	relay := newTestRelay(t)
	_, resp, err := websocket.DefaultDialer.Dial(relay.wsURL(), nil)
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != 401 {
		t.Fatalf("resp = %v", resp)
	}
}

func TestHubCopiesAnswerToCalleeDevices(t *testing.T) {
	relay := newTestRelay(t)
	alice := relay.dial(t, "alice", JSONCodec{})
	alice.next(FramePresenceSnapshot)
	phone := relay.dial(t, "bob", JSONCodec{})
	phone.next(FramePresenceSnapshot)
	laptop := relay.dial(t, "bob", MsgpackCodec{})
	laptop.next(FramePresenceSnapshot)

	invite := newMsg(t, domain.KindInvite, "alice", "bob", domain.InvitePayload{Mode: domain.ModeAudio})
	alice.send(signalFrame(invite))
	for _, dev := range []*testClient{phone, laptop} {
		if f := dev.next(FrameSignal); f.Signal.ID != invite.ID {
			t.Fatalf("device got %s", f.Signal.Kind)
		}
	}

	accept := newMsg(t, domain.KindAccept, "bob", "alice", nil)
	phone.send(signalFrame(accept))
	if f := alice.next(FrameSignal); f.Signal.ID != accept.ID {
		t.Fatalf("alice got %s", f.Signal.Kind)
	}
	f := laptop.next(FrameSignal)
	if f.Signal.ID != accept.ID || f.Signal.FromUserID != "bob" || f.Signal.ToUserID != "alice" {
		t.Fatalf("laptop got %+v", f.Signal)
	}

	// The answering device does not get its own answer back.
	phone.send(Frame{Type: FramePing})
	phone.next(FramePong)
	_ = phone.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	for {
		_, data, err := phone.conn.ReadMessage()
		if err != nil {
			break
		}
		var g Frame
		if err := phone.codec.Unmarshal(data, &g); err == nil && g.Type == FrameSignal {
			t.Fatalf("phone got %s", g.Signal.Kind)
		}
	}
}

func TestHubDropsStaleQueuedInvite(t *testing.T) {
	relay := newTestRelay(t)
	ctx := context.Background()

	stale := newMsg(t, domain.KindInvite, "alice", "carol", domain.InvitePayload{Mode: domain.ModeAudio})
	stale.SentAt = time.Now().Add(-time.Minute)
	end := newMsg(t, domain.KindEnd, "alice", "carol", domain.ReasonPayload{Reason: domain.EndTimeout})
	fresh, err := domain.NewMessage(domain.KindInvite, "alice", "carol", "call-2", domain.InvitePayload{Mode: domain.ModeAudio})
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range []domain.SignalingMessage{stale, end, fresh} {
		if err := relay.store.Enqueue(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	carol := relay.dial(t, "carol", JSONCodec{})
	if f := carol.next(FrameSignal); f.Signal.ID != end.ID {
		t.Fatalf("carol got %s for %s first, want the queued end", f.Signal.Kind, f.Signal.CallID)
	}
	if f := carol.next(FrameSignal); f.Signal.ID != fresh.ID {
		t.Fatalf("carol got %s for %s, want the fresh invite", f.Signal.Kind, f.Signal.CallID)
	}
}
