package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/voicecall/internal/app"
	"github.com/dkeye/voicecall/internal/app/presence"
	"github.com/dkeye/voicecall/internal/auth"
	"github.com/dkeye/voicecall/internal/config"
	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

const sendQueue = 64

// CallStore is the durable per-call record and the offline outbox.
type CallStore interface {
	AppendSignal(ctx context.Context, msg domain.SignalingMessage) error
	DeleteCall(ctx context.Context, callID domain.CallID) error
	Enqueue(ctx context.Context, msg domain.SignalingMessage) error
	TakeOutbox(ctx context.Context, uid domain.UserID) ([]domain.SignalingMessage, error)
}

// Hub is the relay: it routes signaling between users and owns their presence.
type Hub struct {
	Registry *app.Registry
	Presence *presence.Tracker
	Store    CallStore
	Policy   app.Policy

	readLimit   int64
	pingPeriod  time.Duration
	ringTimeout time.Duration
	unsub       func()
}

func NewHub(cfg *config.Config, reg *app.Registry, tracker *presence.Tracker, store CallStore, policy app.Policy) *Hub {
	h := &Hub{
		Registry:   reg,
		Presence:   tracker,
		Store:      store,
		Policy:     policy,
		readLimit:   cfg.ReadLimit,
		pingPeriod:  cfg.PingPeriod,
		ringTimeout: cfg.Call.RingTimeout,
	}
	if h.pingPeriod <= 0 {
		h.pingPeriod = 54 * time.Second
	}
	if h.ringTimeout <= 0 {
		h.ringTimeout = 30 * time.Second
	}
	h.unsub = tracker.OnAnyChange(h.broadcastPresence)
	return h
}

// Close drops every connection.
func (h *Hub) Close() {
	if h.unsub != nil {
		h.unsub()
	}
	h.Registry.CancelAll()
}

func (h *Hub) pongWait() time.Duration { return h.pingPeriod * 10 / 9 }

// Conn is one websocket connection of a user.
type Conn struct {
	id    string
	uid   domain.UserID
	conn  *websocket.Conn
	codec Codec
	send  chan []byte

	mu     sync.RWMutex
	closed bool
}

var _ core.SignalConn = (*Conn)(nil)

func (c *Conn) ID() string { return c.id }

func (c *Conn) TrySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- data:
	default:
		return ErrBackpressure
	}
	return nil
}

// SendFrame encodes f with the connection's codec and queues it.
func (c *Conn) SendFrame(f Frame) error {
	data, err := c.codec.Marshal(f)
	if err != nil {
		return err
	}
	return c.TrySend(data)
}

func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades an authenticated request and serves it until either side closes.
func (h *Hub) HandleSignal(ctx context.Context, c *gin.Context) {
	v, ok := c.Get(auth.ContextUserKey)
	user, _ := v.(domain.User)
	if !ok || user.ID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	codec, err := CodecByName(c.Query("codec"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	log.Info().Str("module", "signal").Str("uid", string(user.ID)).Str("codec", codec.Name()).Msg("new WS connection")

	conn := &Conn{
		id:    uuid.NewString(),
		uid:   user.ID,
		conn:  ws,
		codec: codec,
		send:  make(chan []byte, sendQueue),
	}
	ctx, cancel := context.WithCancel(ctx)
	// Queued frames go out before the connection is routable so live ones
	// cannot overtake them. The second pass picks up frames queued meanwhile.
	h.flushOutbox(ctx, conn)
	first := h.Registry.Bind(user, conn, cancel)
	if first {
		h.Presence.Set(user.ID, domain.PresenceOnline)
	}
	h.sendSnapshot(conn)
	h.flushOutbox(ctx, conn)

	go h.writePump(ctx, conn)
	go h.readPump(ctx, cancel, conn)
}

func (h *Hub) disconnect(c *Conn) {
	if last := h.Registry.Unbind(c.uid, c); last {
		h.Presence.Set(c.uid, domain.PresenceOffline)
	}
}

// sendTo writes f to any SignalConn, encoding with its codec when it is a *Conn.
func sendTo(sc core.SignalConn, f Frame) error {
	if c, ok := sc.(*Conn); ok {
		return c.SendFrame(f)
	}
	data, err := JSONCodec{}.Marshal(f)
	if err != nil {
		return err
	}
	return sc.TrySend(data)
}
