package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	eventQueue     = 64
	sendQueue      = 256
	tombstoneSize  = 256
	seenSize       = 1024
	defaultSendTTL = 15 * time.Second
	catchUpTimeout = 10 * time.Second
)

// Controller is the call state machine of one local user. Every transition
// happens on its event loop; intents, signaling, media and connection callbacks
// are all turned into events first.
type Controller struct {
	self domain.UserID

	transport core.SignalTransport
	presence  core.PresenceTracker
	media     core.MediaSource
	factory   core.PeerConnectionFactory
	notifier  core.Notifier
	directory core.Directory
	clock     clock.Clock
	timeouts  Timeouts
	sendTTL   time.Duration

	events chan event
	out    chan outbound

	// loop state
	sessions   map[domain.CallID]*session
	current    *session
	tombstones *lru.Cache[domain.CallID, domain.EndReason]
	seen       *lru.Cache[string, struct{}]

	snapMu  sync.RWMutex
	snap    Snapshot
	subs    map[int]chan Snapshot
	nextSub int

	ctx       context.Context
	cancel    context.CancelFunc
	loopDone  chan struct{}
	sendDone  chan struct{}
	startOnce sync.Once
	closeOnce sync.Once

	logger zerolog.Logger
}

// New fails with core.ErrNotAuthenticated when there is no current user.
func New(opts Options) (*Controller, error) {
	if opts.Auth == nil {
		return nil, core.ErrNotAuthenticated
	}
	self, ok := opts.Auth.CurrentUserID()
	if !ok || self == "" {
		return nil, core.ErrNotAuthenticated
	}
	switch {
	case opts.Transport == nil:
		return nil, errors.New("call: transport required")
	case opts.Presence == nil:
		return nil, errors.New("call: presence tracker required")
	case opts.Media == nil:
		return nil, errors.New("call: media source required")
	case opts.Factory == nil:
		return nil, errors.New("call: peer connection factory required")
	}
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	if opts.Directory == nil {
		opts.Directory = core.IDDirectory{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Timeouts == (Timeouts{}) {
		opts.Timeouts = DefaultTimeouts()
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTTL
	}

	tombstones, err := lru.New[domain.CallID, domain.EndReason](tombstoneSize)
	if err != nil {
		return nil, err
	}
	seen, err := lru.New[string, struct{}](seenSize)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		self:       self,
		transport:  opts.Transport,
		presence:   opts.Presence,
		media:      opts.Media,
		factory:    opts.Factory,
		notifier:   opts.Notifier,
		directory:  opts.Directory,
		clock:      opts.Clock,
		timeouts:   opts.Timeouts,
		sendTTL:    opts.SendTimeout,
		events:     make(chan event, eventQueue),
		out:        make(chan outbound, sendQueue),
		sessions:   make(map[domain.CallID]*session),
		tombstones: tombstones,
		seen:       seen,
		snap:       Snapshot{State: domain.StateIdle},
		subs:       make(map[int]chan Snapshot),
		ctx:        ctx,
		cancel:     cancel,
		loopDone:   make(chan struct{}),
		sendDone:   make(chan struct{}),
		logger:     log.With().Str("module", "call").Str("uid", string(self)).Logger(),
	}
	return c, nil
}

// Self is the local user.
func (c *Controller) Self() domain.UserID { return c.self }

// Start runs the event loop and the sender. Calling it twice is a no-op.
func (c *Controller) Start() {
	c.startOnce.Do(func() {
		if r, ok := c.transport.(core.Reconnector); ok {
			r.OnReconnect(func() { c.emit(event{kind: evReconnect}) })
		}
		go c.loop()
		go c.sender()
		c.logger.Debug().Msg("started")
	})
}

// Close hangs up a live call, flushes pending sends and stops the loop.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.startOnce.Do(func() {
			close(c.loopDone)
			close(c.sendDone)
		})
		c.cancel()
		<-c.loopDone
		<-c.sendDone

		c.snapMu.Lock()
		for id, ch := range c.subs {
			close(ch)
			delete(c.subs, id)
		}
		c.snapMu.Unlock()
		c.logger.Debug().Msg("closed")
	})
}

func (c *Controller) InitiateCall(ctx context.Context, peer domain.UserID, mode domain.Mode) (domain.CallID, error) {
	r := c.do(ctx, event{kind: evInitiate, peer: peer, mode: mode})
	return r.callID, r.err
}

func (c *Controller) AcceptCall(ctx context.Context) error {
	return c.do(ctx, event{kind: evAccept}).err
}

func (c *Controller) DeclineCall(ctx context.Context) error {
	return c.do(ctx, event{kind: evDecline}).err
}

func (c *Controller) HangUp(ctx context.Context) error {
	return c.do(ctx, event{kind: evHangUp}).err
}

func (c *Controller) SetAudioMuted(ctx context.Context, muted bool) error {
	return c.do(ctx, event{kind: evSetAudioMuted, flag: muted}).err
}

func (c *Controller) SetVideoEnabled(ctx context.Context, enabled bool) error {
	return c.do(ctx, event{kind: evSetVideoEnabled, flag: enabled}).err
}

// SetTimeouts applies to timers armed after the call.
func (c *Controller) SetTimeouts(t Timeouts) {
	c.emit(event{kind: evSetTimeouts, timeouts: t})
}

// do posts an intent and waits for the loop to answer it.
func (c *Controller) do(ctx context.Context, ev event) result {
	ev.reply = make(chan result, 1)
	select {
	case c.events <- ev:
	case <-ctx.Done():
		return result{err: ctx.Err()}
	case <-c.loopDone:
		return result{err: core.ErrClosed}
	}
	select {
	case r := <-ev.reply:
		return r
	case <-ctx.Done():
		return result{err: ctx.Err()}
	case <-c.loopDone:
		return result{err: core.ErrClosed}
	}
}

// emit is used by callbacks and goroutines. It reports false once the loop is gone.
func (c *Controller) emit(ev event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.loopDone:
		return false
	}
}

func (c *Controller) loop() {
	defer close(c.loopDone)
	in := c.transport.Messages()
	for {
		select {
		case <-c.ctx.Done():
			c.shutdown()
			return
		case msg, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			c.onSignal(msg)
		case ev := <-c.events:
			c.handle(ev)
		}
	}
}

func (c *Controller) shutdown() {
	if s := c.current; s != nil && s.live() {
		c.hangUp(s)
	}
	for _, s := range c.sessions {
		s.disarmAll()
		s.cancel()
	}
	close(c.out)
}

func (c *Controller) handle(ev event) {
	var r result
	switch ev.kind {
	case evInitiate:
		r.callID, r.err = c.initiate(ev.peer, ev.mode)
	case evAccept:
		r.err = c.acceptIntent()
	case evDecline:
		r.err = c.declineIntent()
	case evHangUp:
		r.err = c.hangUpIntent()
	case evSetAudioMuted:
		r.err = c.setAudioMuted(ev.flag)
	case evSetVideoEnabled:
		r.err = c.setVideoEnabled(ev.flag)
	case evSetTimeouts:
		c.timeouts = ev.timeouts
		c.logger.Info().Dur("ring", ev.timeouts.Ring).Dur("connecting", ev.timeouts.Connecting).Msg("timeouts updated")
	case evSignal:
		c.onSignal(ev.msg)
	case evCatchUp:
		for _, msg := range ev.msgs {
			c.onSignal(msg)
		}
	case evReconnect:
		c.onReconnect()
	case evTimer:
		c.onTimer(ev)
	case evSendFailed:
		c.onSendFailed(ev)
	default:
		s := c.sessions[ev.callID]
		if s == nil || !s.live() {
			if ev.stream != nil {
				ev.stream.Stop()
			}
			c.logger.Debug().Str("event", ev.kind.String()).Str("call_id", string(ev.callID)).Msg("stale event")
			break
		}
		c.onSessionEvent(s, ev)
	}
	if ev.reply != nil {
		ev.reply <- r
	}
}

func (c *Controller) onSessionEvent(s *session, ev event) {
	switch ev.kind {
	case evMediaReady:
		c.onMediaReady(s, ev.stream)
	case evMediaFailed:
		c.fail(s, core.NewCallError("media", s.call.ID, core.ErrMediaAcquisition, ev.err))
	case evLocalSDP:
		c.onLocalSDP(s, ev.sdpKind, ev.sdp)
	case evNegotiationFailed:
		c.fail(s, core.NewCallError("negotiate", s.call.ID, core.ErrNegotiation, ev.err))
	case evLocalCandidate:
		c.onLocalCandidate(s, ev)
	case evICEState:
		c.onICEState(s, ev)
	case evRemoteTrack:
		s.remote = ev.remote
		c.publish()
	}
}

func (c *Controller) displayName(uid domain.UserID) string {
	if name := c.directory.DisplayName(uid); name != "" {
		return name
	}
	return string(uid)
}

func (c *Controller) timerFunc(id domain.CallID) func(timerKind, uint64) {
	return func(k timerKind, gen uint64) {
		c.emit(event{kind: evTimer, callID: id, timer: k, gen: gen})
	}
}

func (c *Controller) arm(s *session, k timerKind) {
	var d time.Duration
	switch k {
	case timerRing:
		d = c.timeouts.Ring
	case timerIncoming:
		d = c.timeouts.Incoming
	case timerConnecting:
		d = c.timeouts.Connecting
	case timerDisconnectGrace:
		d = c.timeouts.DisconnectGrace
	case timerEndedGrace:
		d = c.timeouts.EndedGrace
	}
	s.arm(c.clock, k, d, c.timerFunc(s.call.ID))
}

func (c *Controller) live() *session {
	if c.current != nil && c.current.live() {
		return c.current
	}
	return nil
}

func invalidState(op string, s *session) error {
	return fmt.Errorf("%w: %s in %s", core.ErrInvalidState, op, s.state())
}
