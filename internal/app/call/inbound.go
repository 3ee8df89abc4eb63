package call

import (
	"context"

	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
)

// onSignal is the single entry point for messages from the transport and catch-up.
func (c *Controller) onSignal(msg domain.SignalingMessage) {
	l := c.logger.With().Str("kind", string(msg.Kind)).Str("call_id", string(msg.CallID)).Str("from", string(msg.FromUserID)).Logger()
	if err := msg.Validate(); err != nil {
		l.Warn().Err(err).Msg("invalid message")
		return
	}
	// The relay copies our own answers from other devices back to us.
	own := msg.FromUserID == c.self
	if !own && msg.ToUserID != c.self {
		l.Warn().Str("to", string(msg.ToUserID)).Msg("message for another user")
		return
	}
	if msg.ID != "" {
		if c.seen.Contains(msg.ID) {
			l.Debug().Msg("duplicate")
			return
		}
		c.seen.Add(msg.ID, struct{}{})
	}
	if c.tombstones.Contains(msg.CallID) {
		l.Debug().Msg("late message for ended call")
		return
	}
	if own {
		c.onAnsweredElsewhere(msg)
		return
	}

	if msg.Kind == domain.KindInvite {
		c.onInvite(msg)
		return
	}
	s := c.sessions[msg.CallID]
	if s == nil || msg.FromUserID != s.peer {
		l.Debug().Msg("unknown call")
		return
	}
	if !s.live() {
		return
	}

	switch msg.Kind {
	case domain.KindAccept:
		c.onAccept(s)
	case domain.KindDecline, domain.KindBusy:
		if !s.outgoing || s.state() != domain.StateOutgoingRinging {
			l.Info().Str("state", string(s.state())).Msg("ignoring answer outside ringing")
			return
		}
		if msg.Kind == domain.KindBusy {
			c.end(s, domain.EndBusy)
			return
		}
		var p domain.ReasonPayload
		_ = msg.Decode(&p)
		if p.Reason == domain.EndTimeout {
			c.end(s, domain.EndTimeout)
		} else {
			c.end(s, domain.EndDeclined)
		}
	case domain.KindEnd:
		var p domain.ReasonPayload
		_ = msg.Decode(&p)
		switch p.Reason {
		case domain.EndError:
			c.end(s, domain.EndError)
		case domain.EndTimeout:
			c.end(s, domain.EndTimeout)
		default:
			c.end(s, domain.EndHangup)
		}
	case domain.KindOffer:
		c.onOffer(s, msg)
	case domain.KindAnswer:
		c.onAnswer(s, msg)
	case domain.KindICECandidate:
		c.onRemoteCandidate(s, msg)
	}
}

// onAnsweredElsewhere stops the prompt when another device of this user took
// or refused the call. The caller already has that answer, so nothing is sent
// and the call record is left to the answering device.
func (c *Controller) onAnsweredElsewhere(msg domain.SignalingMessage) {
	s := c.sessions[msg.CallID]
	if s == nil || s.outgoing || s.peer != msg.ToUserID || s.state() != domain.StateIncomingRinging {
		return
	}
	reason := domain.EndAnsweredElsewhere
	switch msg.Kind {
	case domain.KindAccept:
	case domain.KindDecline:
		reason = domain.EndDeclined
	default:
		return
	}
	s.signaled = false
	c.logger.Info().Str("call_id", string(s.call.ID)).Str("kind", string(msg.Kind)).Msg("answered on another device")
	c.end(s, reason)
}

func (c *Controller) onInvite(msg domain.SignalingMessage) {
	var p domain.InvitePayload
	if err := msg.Decode(&p); err != nil {
		c.logger.Warn().Err(err).Str("call_id", string(msg.CallID)).Msg("bad invite")
		return
	}
	if p.Mode == "" {
		p.Mode = domain.ModeAudio
	}
	if !p.Mode.Valid() {
		c.logger.Warn().Str("mode", string(p.Mode)).Msg("bad invite mode")
		return
	}
	if _, ok := c.sessions[msg.CallID]; ok {
		return
	}

	if s := c.live(); s != nil {
		if s.state() == domain.StateOutgoingRinging && s.peer == msg.FromUserID {
			c.onGlare(s, msg, p)
			return
		}
		c.reply(msg, domain.KindBusy)
		c.logger.Info().Str("call_id", string(msg.CallID)).Str("from", string(msg.FromUserID)).Msg("busy")
		return
	}
	c.ring(msg, p, true)
}

// onGlare resolves two simultaneous invites between the same pair. The smaller
// user id gives up its own call and becomes the callee of the other one.
func (c *Controller) onGlare(own *session, msg domain.SignalingMessage, p domain.InvitePayload) {
	if !c.self.Less(msg.FromUserID) {
		c.reply(msg, domain.KindBusy)
		c.logger.Info().Str("call_id", string(msg.CallID)).Msg("glare: keeping own call")
		return
	}
	c.logger.Info().Str("own", string(own.call.ID)).Str("call_id", string(msg.CallID)).Msg("glare: yielding")
	c.end(own, domain.EndBusy)
	auto := c.timeouts.AutoAcceptGlare
	s := c.ring(msg, p, !auto)
	if auto {
		c.accept(s)
	}
}

func (c *Controller) ring(msg domain.SignalingMessage, p domain.InvitePayload, notify bool) *session {
	call := domain.CallSession{
		ID:        msg.CallID,
		CallerID:  msg.FromUserID,
		CalleeID:  c.self,
		Mode:      p.Mode,
		State:     domain.StateIncomingRinging,
		CreatedAt: c.clock.Now(),
	}
	name := p.CallerName
	if name == "" {
		name = c.displayName(msg.FromUserID)
	}
	s := newSession(call, c.self, name)
	s.signaled = true
	c.sessions[call.ID] = s
	c.current = s
	if notify {
		c.notifier.NotifyIncomingCall(name, p.Mode.IsVideo())
	}
	c.arm(s, timerIncoming)
	c.logger.Info().Str("call_id", string(call.ID)).Str("from", string(call.CallerID)).Str("mode", string(call.Mode)).Msg("incoming call")
	c.publish()
	return s
}

func (c *Controller) onAccept(s *session) {
	if !s.outgoing || s.state() != domain.StateOutgoingRinging {
		return
	}
	s.disarm(timerRing)
	s.peerAccepted = true
	s.call.State = domain.StateConnecting
	c.arm(s, timerConnecting)
	if s.stream != nil {
		c.connect(s)
	}
	c.logger.Info().Str("call_id", string(s.call.ID)).Msg("peer accepted")
	c.publish()
}

func (c *Controller) onOffer(s *session, msg domain.SignalingMessage) {
	if s.outgoing || s.state() != domain.StateConnecting {
		return
	}
	var p domain.SDPPayload
	if err := msg.Decode(&p); err != nil || p.SDP == "" {
		c.logger.Warn().Err(err).Str("call_id", string(s.call.ID)).Msg("bad offer")
		return
	}
	if s.pc == nil {
		s.pendingOffer = p.SDP
		return
	}
	if s.negotiating || s.localSDP {
		return
	}
	c.negotiate(s, domain.KindAnswer, p.SDP)
}

func (c *Controller) onAnswer(s *session, msg domain.SignalingMessage) {
	if !s.outgoing || s.pc == nil || s.remoteSDP {
		return
	}
	var p domain.SDPPayload
	if err := msg.Decode(&p); err != nil || p.SDP == "" {
		c.logger.Warn().Err(err).Str("call_id", string(s.call.ID)).Msg("bad answer")
		return
	}
	if err := s.pc.ApplyRemoteDescription(p.SDP); err != nil {
		c.fail(s, core.NewCallError("answer", s.call.ID, core.ErrNegotiation, err))
		return
	}
	s.remoteSDP = true
	c.maybeActivate(s)
}

func (c *Controller) onRemoteCandidate(s *session, msg domain.SignalingMessage) {
	var p domain.CandidatePayload
	if err := msg.Decode(&p); err != nil {
		c.logger.Debug().Err(err).Msg("bad candidate")
		return
	}
	if s.pc == nil {
		s.pendingCandidates = append(s.pendingCandidates, p.Candidate)
		return
	}
	if err := s.pc.AddICECandidate(p.Candidate); err != nil {
		c.logger.Debug().Err(err).Str("call_id", string(s.call.ID)).Msg("add candidate")
	}
}

// reply answers a message without creating a session for it.
func (c *Controller) reply(msg domain.SignalingMessage, kind domain.Kind) {
	out, err := domain.NewMessage(kind, c.self, msg.FromUserID, msg.CallID, nil)
	if err != nil {
		c.logger.Error().Err(err).Msg("build reply")
		return
	}
	c.enqueue(outbound{msg: out})
}

// onReconnect replays the durable record of the live call, which covers
// offers, answers and candidates relayed while the carrier was down.
func (c *Controller) onReconnect() {
	cu, ok := c.transport.(core.CatchUpper)
	if !ok {
		return
	}
	s := c.live()
	if s == nil {
		return
	}
	id := s.call.ID
	c.logger.Info().Str("call_id", string(id)).Msg("catching up")
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), catchUpTimeout)
		defer cancel()
		msgs, err := cu.CatchUp(ctx, id)
		if err != nil {
			c.logger.Warn().Err(err).Str("call_id", string(id)).Msg("catch-up failed")
			return
		}
		if len(msgs) > 0 {
			c.emit(event{kind: evCatchUp, callID: id, msgs: msgs})
		}
	}()
}
