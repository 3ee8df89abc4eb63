package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/dkeye/voicecall/internal/app/presence"
	"github.com/dkeye/voicecall/internal/config"
	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrNotConnected = errors.New("relay not connected")

const (
	clientPongWait   = 60 * time.Second
	clientPingPeriod = (clientPongWait * 9) / 10
	inboxSize        = 256
)

type ClientOptions struct {
	URL   string
	Token string
	// UID is used instead of Token when the relay allows anonymous users.
	UID   domain.UserID
	Codec Codec

	SendTimeout time.Duration
	RetryBase   time.Duration
	RetryMax    time.Duration

	// Presence, when set, is kept in sync with the relay's presence frames.
	Presence   *presence.Tracker
	HTTPClient *http.Client
}

// ClientOptionsFromConfig fills options from the signal and client config sections.
func ClientOptionsFromConfig(cfg *config.Config) (ClientOptions, error) {
	codec, err := CodecByName(cfg.Signal.Codec)
	if err != nil {
		return ClientOptions{}, err
	}
	return ClientOptions{
		URL:         cfg.Signal.URL,
		Token:       cfg.Client.Token,
		UID:         domain.UserID(cfg.Client.UID),
		Codec:       codec,
		SendTimeout: cfg.Signal.SendTimeout,
		RetryBase:   cfg.Signal.RetryBase,
		RetryMax:    cfg.Signal.RetryMax,
	}, nil
}

// WSTransport is the client side of the relay. It reconnects on its own and
// retries control messages until SendTimeout; candidates are dropped while offline.
type WSTransport struct {
	opts   ClientOptions
	logger zerolog.Logger

	inbox chan domain.SignalingMessage

	mu        sync.Mutex
	conn      *websocket.Conn
	ready     chan struct{}
	hooks     []func()
	connected bool

	writeMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

var (
	_ core.SignalTransport = (*WSTransport)(nil)
	_ core.CatchUpper      = (*WSTransport)(nil)
	_ core.Reconnector     = (*WSTransport)(nil)
)

func NewWSTransport(opts ClientOptions) *WSTransport {
	if opts.Codec == nil {
		opts.Codec = JSONCodec{}
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 250 * time.Millisecond
	}
	if opts.RetryMax < opts.RetryBase {
		opts.RetryMax = opts.RetryBase * 16
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WSTransport{
		opts:   opts,
		logger: log.With().Str("module", "signal.client").Logger(),
		inbox:  make(chan domain.SignalingMessage, inboxSize),
		ready:  make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Start runs the connect loop in the background.
func (t *WSTransport) Start() {
	go t.run()
}

// Close stops reconnecting, closes the socket and then the message channel.
func (t *WSTransport) Close() {
	t.once.Do(func() {
		t.cancel()
		t.mu.Lock()
		if t.conn != nil {
			_ = t.conn.Close()
		}
		t.mu.Unlock()
		<-t.done
		close(t.inbox)
	})
}

func (t *WSTransport) Messages() <-chan domain.SignalingMessage { return t.inbox }

func (t *WSTransport) OnReconnect(fn func()) {
	t.mu.Lock()
	t.hooks = append(t.hooks, fn)
	t.mu.Unlock()
}

func (t *WSTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// WaitConnected blocks until the relay connection is up or ctx ends.
func (t *WSTransport) WaitConnected(ctx context.Context) error {
	t.mu.Lock()
	ready := t.ready
	t.mu.Unlock()
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.ctx.Done():
		return ErrNotConnected
	}
}

func (t *WSTransport) dialURL() (string, error) {
	u, err := url.Parse(t.opts.URL)
	if err != nil {
		return "", fmt.Errorf("invalid relay URL: %w", err)
	}
	q := u.Query()
	if t.opts.Token != "" {
		q.Set("token", t.opts.Token)
	} else if t.opts.UID != "" {
		q.Set("uid", string(t.opts.UID))
	}
	q.Set("codec", t.opts.Codec.Name())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (t *WSTransport) run() {
	defer close(t.done)
	backoff := t.opts.RetryBase
	first := true
	for {
		if t.ctx.Err() != nil {
			return
		}
		conn, err := t.dial()
		if err != nil {
			t.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("relay dial failed")
			if !sleepCtx(t.ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, t.opts.RetryMax)
			continue
		}
		backoff = t.opts.RetryBase

		hooks := t.setConn(conn)
		t.logger.Info().Str("url", t.opts.URL).Bool("reconnect", !first).Msg("relay connected")
		if !first {
			for _, fn := range hooks {
				go fn()
			}
		}
		first = false

		stopPing := make(chan struct{})
		go t.pingLoop(conn, stopPing)
		t.readLoop(conn)
		close(stopPing)
		t.clearConn(conn)
	}
}

func (t *WSTransport) dial() (*websocket.Conn, error) {
	raw, err := t.dialURL()
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if t.opts.Token != "" {
		header.Set("Authorization", "Bearer "+t.opts.Token)
	}
	ctx, cancel := context.WithTimeout(t.ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, raw, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	conn.SetReadLimit(64 * 1024)
	_ = conn.SetReadDeadline(time.Now().Add(clientPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(clientPongWait))
	})
	return conn, nil
}

func (t *WSTransport) setConn(conn *websocket.Conn) []func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conn = conn
	t.connected = true
	close(t.ready)
	return append([]func(){}, t.hooks...)
}

func (t *WSTransport) clearConn(conn *websocket.Conn) {
	_ = conn.Close()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == conn {
		t.conn = nil
		t.connected = false
		t.ready = make(chan struct{})
	}
	t.logger.Warn().Msg("relay disconnected")
}

func (t *WSTransport) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(clientPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.ctx.Done():
			_ = conn.Close()
			return
		case <-ticker.C:
			t.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			t.writeMu.Unlock()
			if err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func (t *WSTransport) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if t.ctx.Err() == nil {
				t.logger.Debug().Err(err).Msg("read stopped")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(clientPongWait))

		var f Frame
		if err := t.opts.Codec.Unmarshal(data, &f); err != nil {
			t.logger.Warn().Err(err).Msg("bad frame from relay")
			continue
		}
		t.handleFrame(f)
	}
}

func (t *WSTransport) handleFrame(f Frame) {
	switch f.Type {
	case FrameSignal:
		if f.Signal == nil {
			return
		}
		select {
		case t.inbox <- *f.Signal:
		case <-t.ctx.Done():
		}
	case FramePresence:
		if f.Presence != nil && t.opts.Presence != nil {
			t.opts.Presence.Apply(*f.Presence)
		}
	case FramePresenceSnapshot:
		if t.opts.Presence != nil {
			t.opts.Presence.Replace(f.Snapshot)
		}
	case FrameError:
		t.logger.Warn().Str("error", f.Error).Str("ref", f.Ref).Msg("relay rejected frame")
	case FramePong:
	default:
		t.logger.Debug().Str("type", string(f.Type)).Msg("unknown frame from relay")
	}
}

func (t *WSTransport) write(f Frame) error {
	data, err := t.opts.Codec.Marshal(f)
	if err != nil {
		return err
	}
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	if err := conn.WriteMessage(t.opts.Codec.MessageType(), data); err != nil {
		_ = conn.Close()
		return err
	}
	return nil
}

// Send writes msg once for candidates and offers; control kinds are retried
// with backoff until the send timeout.
func (t *WSTransport) Send(ctx context.Context, msg domain.SignalingMessage) error {
	f := signalFrame(msg)
	if !msg.Kind.Control() {
		if err := t.write(f); err != nil {
			return fmt.Errorf("%w: %v", core.ErrSignalingDelivery, err)
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, t.opts.SendTimeout)
	defer cancel()
	backoff := t.opts.RetryBase
	for attempt := 1; ; attempt++ {
		if err := t.WaitConnected(ctx); err != nil {
			return fmt.Errorf("%w: %s not sent: %v", core.ErrSignalingDelivery, msg.Kind, err)
		}
		err := t.write(f)
		if err == nil {
			return nil
		}
		t.logger.Warn().Err(err).Int("attempt", attempt).Str("kind", string(msg.Kind)).Msg("send failed, retrying")
		if !sleepCtx(ctx, backoff) {
			return fmt.Errorf("%w: %s not sent: %v", core.ErrSignalingDelivery, msg.Kind, err)
		}
		backoff = nextBackoff(backoff, t.opts.RetryMax)
	}
}

// SetAway toggles the user's away state on the relay.
func (t *WSTransport) SetAway(away bool) error {
	state := domain.PresenceOnline
	if away {
		state = domain.PresenceAway
	}
	return t.write(Frame{Type: FramePresence, Presence: &domain.Presence{State: state}})
}

func (t *WSTransport) httpBase() (*url.URL, error) {
	u, err := url.Parse(t.opts.URL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	default:
		u.Scheme = "http"
	}
	u.Path, u.RawQuery = "", ""
	return u, nil
}

func (t *WSTransport) callRequest(ctx context.Context, method string, callID domain.CallID, suffix string) (*http.Response, error) {
	base, err := t.httpBase()
	if err != nil {
		return nil, err
	}
	base.Path = "/api/calls/" + url.PathEscape(string(callID)) + suffix
	if t.opts.Token == "" && t.opts.UID != "" {
		base.RawQuery = url.Values{"uid": {string(t.opts.UID)}}.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, base.String(), nil)
	if err != nil {
		return nil, err
	}
	if t.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+t.opts.Token)
	}
	return t.opts.HTTPClient.Do(req)
}

// CatchUp reads the durable record of callID addressed to this user.
func (t *WSTransport) CatchUp(ctx context.Context, callID domain.CallID) ([]domain.SignalingMessage, error) {
	resp, err := t.callRequest(ctx, http.MethodGet, callID, "/signals")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrSignalingDelivery, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: catch-up status %d", core.ErrSignalingDelivery, resp.StatusCode)
	}
	var body struct {
		Signals []domain.SignalingMessage `json:"signals"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode catch-up: %w", err)
	}
	return body.Signals, nil
}

// Discard deletes the call record on the relay.
func (t *WSTransport) Discard(ctx context.Context, callID domain.CallID) error {
	resp, err := t.callRequest(ctx, http.MethodDelete, callID, "")
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrSignalingDelivery, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: discard status %d", core.ErrSignalingDelivery, resp.StatusCode)
	}
	return nil
}

func nextBackoff(cur, max time.Duration) time.Duration {
	cur *= 2
	if cur > max {
		return max
	}
	return cur
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
