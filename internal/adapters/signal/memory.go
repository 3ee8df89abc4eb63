package signal

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/voicecall/internal/app/presence"
	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/rs/zerolog/log"
)

// Bus is an in-process relay with the same delivery rules as Hub: durable kinds
// are recorded per call, control kinds wait for offline users, the rest is dropped.
// A user may have several devices; answers are copied to the sender's other devices.
type Bus struct {
	Presence *presence.Tracker

	mu      sync.Mutex
	peers   map[domain.UserID][]*MemoryTransport
	records map[domain.CallID][]domain.SignalingMessage
	pending map[domain.UserID][]domain.SignalingMessage
	filter  func(domain.SignalingMessage) bool

	hold bool
	held []heldMessage
}

type heldMessage struct {
	from *MemoryTransport
	msg  domain.SignalingMessage
}

func NewBus() *Bus {
	return &Bus{
		Presence: presence.NewTracker(),
		peers:    make(map[domain.UserID][]*MemoryTransport),
		records:  make(map[domain.CallID][]domain.SignalingMessage),
		pending:  make(map[domain.UserID][]domain.SignalingMessage),
	}
}

// SetFilter installs a hook that drops live delivery of every message for which it returns false.
// Durable kinds are still recorded.
func (b *Bus) SetFilter(keep func(domain.SignalingMessage) bool) {
	b.mu.Lock()
	b.filter = keep
	b.mu.Unlock()
}

// Hold parks every message sent from now on until Release.
func (b *Bus) Hold() {
	b.mu.Lock()
	b.hold = true
	b.mu.Unlock()
}

// Held reports how many messages are parked.
func (b *Bus) Held() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.held)
}

// Release delivers parked messages in send order and stops holding.
func (b *Bus) Release() {
	b.mu.Lock()
	held := b.held
	b.held = nil
	b.hold = false
	b.mu.Unlock()
	for _, h := range held {
		_ = b.deliver(h.from, h.msg)
	}
}

// Pending reports how many control messages wait for uid to connect.
func (b *Bus) Pending(uid domain.UserID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending[uid])
}

func (b *Bus) newTransport(uid domain.UserID) *MemoryTransport {
	t := &MemoryTransport{bus: b, uid: uid, inbox: make(chan domain.SignalingMessage, inboxSize)}
	b.peers[uid] = append(b.peers[uid], t)
	return t
}

// Connect returns uid's first device, marking every device of uid online and
// delivering queued messages.
func (b *Bus) Connect(uid domain.UserID) *MemoryTransport {
	b.mu.Lock()
	if len(b.peers[uid]) == 0 {
		b.newTransport(uid)
	}
	devices := append([]*MemoryTransport(nil), b.peers[uid]...)
	var reconnected []*MemoryTransport
	for _, t := range devices {
		if t.offline {
			reconnected = append(reconnected, t)
		}
		t.offline = false
	}
	queued := b.pending[uid]
	delete(b.pending, uid)
	b.mu.Unlock()

	b.Presence.Set(uid, domain.PresenceOnline)
	for _, msg := range queued {
		for _, t := range devices {
			t.push(msg)
		}
	}
	for _, t := range reconnected {
		t.fireReconnect()
	}
	return devices[0]
}

// AddDevice connects one more transport for uid.
func (b *Bus) AddDevice(uid domain.UserID) *MemoryTransport {
	b.mu.Lock()
	t := b.newTransport(uid)
	b.mu.Unlock()
	b.Presence.Set(uid, domain.PresenceOnline)
	return t
}

// Disconnect marks every device of uid offline; the transports keep existing so they can reconnect.
func (b *Bus) Disconnect(uid domain.UserID) {
	b.mu.Lock()
	for _, t := range b.peers[uid] {
		t.offline = true
	}
	b.mu.Unlock()
	b.Presence.Set(uid, domain.PresenceOffline)
}

func online(devices []*MemoryTransport, skip *MemoryTransport) []*MemoryTransport {
	var out []*MemoryTransport
	for _, t := range devices {
		if !t.offline && t != skip {
			out = append(out, t)
		}
	}
	return out
}

// Record returns a copy of the durable record of callID.
func (b *Bus) Record(callID domain.CallID) []domain.SignalingMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.SignalingMessage(nil), b.records[callID]...)
}

func (b *Bus) deliver(from *MemoryTransport, msg domain.SignalingMessage) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", core.ErrProtocolViolation, err)
	}

	b.mu.Lock()
	if b.hold {
		b.held = append(b.held, heldMessage{from: from, msg: msg})
		b.mu.Unlock()
		return nil
	}
	if msg.Kind.Durable() {
		b.records[msg.CallID] = append(b.records[msg.CallID], msg)
	}
	if msg.Kind.Closing() {
		delete(b.records, msg.CallID)
	}
	if b.filter != nil && !b.filter(msg) {
		b.mu.Unlock()
		log.Debug().Str("module", "signal.memory").Str("kind", string(msg.Kind)).Msg("filtered")
		return nil
	}
	var mirrors []*MemoryTransport
	if msg.Kind == domain.KindAccept || msg.Kind == domain.KindDecline {
		mirrors = online(b.peers[msg.FromUserID], from)
	}
	targets := online(b.peers[msg.ToUserID], nil)
	if len(targets) == 0 && msg.Kind.Control() {
		b.pending[msg.ToUserID] = append(b.pending[msg.ToUserID], msg)
	}
	b.mu.Unlock()

	for _, t := range targets {
		t.push(msg)
	}
	for _, t := range mirrors {
		t.push(msg)
	}
	return nil
}

// MemoryTransport is one user's end of a Bus.
type MemoryTransport struct {
	bus *Bus
	uid domain.UserID

	inbox   chan domain.SignalingMessage
	offline bool

	hookMu sync.Mutex
	hooks  []func()
}

var (
	_ core.SignalTransport = (*MemoryTransport)(nil)
	_ core.CatchUpper      = (*MemoryTransport)(nil)
	_ core.Reconnector     = (*MemoryTransport)(nil)
)

func (t *MemoryTransport) push(msg domain.SignalingMessage) {
	select {
	case t.inbox <- msg:
	default:
		log.Warn().Str("module", "signal.memory").Str("uid", string(t.uid)).Msg("inbox full, dropped")
	}
}

func (t *MemoryTransport) Send(ctx context.Context, msg domain.SignalingMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.bus.mu.Lock()
	offline := t.offline
	t.bus.mu.Unlock()
	if offline {
		return fmt.Errorf("%w: %v", core.ErrSignalingDelivery, ErrNotConnected)
	}
	return t.bus.deliver(t, msg)
}

func (t *MemoryTransport) Messages() <-chan domain.SignalingMessage { return t.inbox }

func (t *MemoryTransport) Discard(_ context.Context, callID domain.CallID) error {
	t.bus.mu.Lock()
	delete(t.bus.records, callID)
	t.bus.mu.Unlock()
	return nil
}

func (t *MemoryTransport) CatchUp(_ context.Context, callID domain.CallID) ([]domain.SignalingMessage, error) {
	t.bus.mu.Lock()
	defer t.bus.mu.Unlock()
	var out []domain.SignalingMessage
	for _, m := range t.bus.records[callID] {
		if m.ToUserID == t.uid {
			out = append(out, m)
		}
	}
	return out, nil
}

func (t *MemoryTransport) OnReconnect(fn func()) {
	t.hookMu.Lock()
	t.hooks = append(t.hooks, fn)
	t.hookMu.Unlock()
}

func (t *MemoryTransport) fireReconnect() {
	t.hookMu.Lock()
	hooks := append([]func(){}, t.hooks...)
	t.hookMu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}
