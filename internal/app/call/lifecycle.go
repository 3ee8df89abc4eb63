package call

import (
	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/pion/webrtc/v4"
)

// acquire asks for local media off the loop. The result comes back as an event.
func (c *Controller) acquire(s *session) {
	if s.mediaPending || s.stream != nil {
		return
	}
	s.mediaPending = true
	ctx, id, mode := s.ctx, s.call.ID, s.call.Mode
	go func() {
		stream, err := c.media.Acquire(ctx, mode)
		if err != nil {
			c.emit(event{kind: evMediaFailed, callID: id, err: err})
			return
		}
		if !c.emit(event{kind: evMediaReady, callID: id, stream: stream}) {
			stream.Stop()
		}
	}()
}

func (c *Controller) onMediaReady(s *session, stream core.LocalStream) {
	s.mediaPending = false
	if s.stream != nil {
		stream.Stop()
		return
	}
	s.stream = stream
	stream.SetAudioEnabled(!s.audioMuted)
	stream.SetVideoEnabled(s.videoEnabled)

	switch {
	case s.outgoing && s.peerAccepted:
		c.connect(s)
	case !s.outgoing && s.state() == domain.StateConnecting:
		c.send(s, domain.KindAccept, nil)
		c.connect(s)
	}
	c.publish()
}

// connect builds the peer connection once both local media and the peer's consent exist.
func (c *Controller) connect(s *session) {
	if s.pc != nil || !s.live() {
		return
	}
	id := s.call.ID
	pc, err := c.factory.NewConnection(id, s.call.Mode)
	if err != nil {
		c.fail(s, core.NewCallError("connect", id, core.ErrNegotiation, err))
		return
	}
	pc.OnICECandidate(func(cand webrtc.ICECandidateInit) {
		c.emit(event{kind: evLocalCandidate, callID: id, candidate: cand})
	})
	pc.OnICEStateChange(func(st webrtc.ICEConnectionState) {
		c.emit(event{kind: evICEState, callID: id, iceState: st})
	})
	pc.OnRemoteTrack(func(rs core.RemoteStream) {
		c.emit(event{kind: evRemoteTrack, callID: id, remote: rs})
	})
	if err := pc.AttachLocalMedia(s.stream); err != nil {
		pc.Close()
		c.fail(s, core.NewCallError("connect", id, core.ErrNegotiation, err))
		return
	}
	s.pc = pc
	pc.ToggleAudio(!s.audioMuted)
	pc.ToggleVideo(s.videoEnabled)

	for _, cand := range s.pendingCandidates {
		if err := pc.AddICECandidate(cand); err != nil {
			c.logger.Debug().Err(err).Str("call_id", string(id)).Msg("add candidate")
		}
	}
	s.pendingCandidates = nil

	switch {
	case s.outgoing:
		c.negotiate(s, domain.KindOffer, "")
	case s.pendingOffer != "":
		offer := s.pendingOffer
		s.pendingOffer = ""
		c.negotiate(s, domain.KindAnswer, offer)
	}
}

func (c *Controller) negotiate(s *session, kind domain.Kind, remote string) {
	s.negotiating = true
	pc, ctx, id := s.pc, s.ctx, s.call.ID
	go func() {
		var (
			sdp string
			err error
		)
		if kind == domain.KindOffer {
			sdp, err = pc.CreateOffer(ctx)
		} else {
			sdp, err = pc.CreateAnswer(ctx, remote)
		}
		if err != nil {
			c.emit(event{kind: evNegotiationFailed, callID: id, err: err})
			return
		}
		c.emit(event{kind: evLocalSDP, callID: id, sdpKind: kind, sdp: sdp})
	}()
}

func (c *Controller) onLocalSDP(s *session, kind domain.Kind, sdp string) {
	s.negotiating = false
	c.send(s, kind, domain.SDPPayload{SDP: sdp})
	s.localSDP = true
	if kind == domain.KindAnswer {
		s.remoteSDP = true
	}
	// Candidates gathered before the description went out follow it.
	for _, cand := range s.localCandidates {
		c.send(s, domain.KindICECandidate, domain.CandidatePayload{Candidate: cand})
	}
	s.localCandidates = nil
	c.maybeActivate(s)
}

func (c *Controller) onLocalCandidate(s *session, ev event) {
	if !s.localSDP {
		s.localCandidates = append(s.localCandidates, ev.candidate)
		return
	}
	c.send(s, domain.KindICECandidate, domain.CandidatePayload{Candidate: ev.candidate})
}

func (c *Controller) onICEState(s *session, ev event) {
	l := c.logger.With().Str("call_id", string(s.call.ID)).Str("ice", ev.iceState.String()).Logger()
	switch ev.iceState {
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		s.iceConnected = true
		if _, armed := s.timers[timerDisconnectGrace]; armed {
			s.disarm(timerDisconnectGrace)
			l.Info().Msg("connection recovered")
		}
		c.maybeActivate(s)
	case webrtc.ICEConnectionStateDisconnected:
		if s.state() == domain.StateActive {
			l.Warn().Msg("connection interrupted")
			c.arm(s, timerDisconnectGrace)
		}
	case webrtc.ICEConnectionStateFailed:
		if s.state() == domain.StateActive {
			l.Warn().Msg("connection lost")
			c.end(s, domain.EndRemoteDisconnected)
			return
		}
		c.fail(s, core.NewCallError("ice", s.call.ID, core.ErrNegotiation, nil))
	}
}

func (c *Controller) maybeActivate(s *session) {
	if s.state() != domain.StateConnecting || !s.localSDP || !s.remoteSDP || !s.iceConnected {
		return
	}
	now := c.clock.Now()
	s.call.State = domain.StateActive
	s.call.ConnectedAt = &now
	s.disarm(timerConnecting)
	c.logger.Info().Str("call_id", string(s.call.ID)).Msg("active")
	c.publish()
}

func (c *Controller) onTimer(ev event) {
	s := c.sessions[ev.callID]
	if s == nil || !s.fired(ev.timer, ev.gen) {
		return
	}
	c.logger.Debug().Str("call_id", string(ev.callID)).Str("timer", ev.timer.String()).Msg("timer fired")
	switch ev.timer {
	case timerRing:
		if s.state() == domain.StateOutgoingRinging {
			c.send(s, domain.KindEnd, domain.ReasonPayload{Reason: domain.EndTimeout})
			c.end(s, domain.EndTimeout)
		}
	case timerIncoming:
		if s.state() == domain.StateIncomingRinging {
			c.decline(s, domain.EndTimeout)
		}
	case timerConnecting:
		if s.state() == domain.StateConnecting {
			s.err = core.NewCallError("connect", s.call.ID, core.ErrNegotiation, nil)
			c.send(s, domain.KindEnd, domain.ReasonPayload{Reason: domain.EndError})
			c.end(s, domain.EndError)
		}
	case timerDisconnectGrace:
		if s.state() == domain.StateActive {
			c.end(s, domain.EndRemoteDisconnected)
		}
	case timerEndedGrace:
		delete(c.sessions, s.call.ID)
		if c.current == s {
			c.current = nil
			c.publish()
		}
	}
}

func (c *Controller) onSendFailed(ev event) {
	s := c.sessions[ev.callID]
	if s == nil || !s.live() {
		return
	}
	c.fail(s, core.NewCallError("send", s.call.ID, core.ErrSignalingDelivery, ev.err))
}

// fail ends a live call in error and tells the peer so.
func (c *Controller) fail(s *session, err error) {
	if !s.live() {
		return
	}
	s.err = err
	c.logger.Error().Err(err).Str("call_id", string(s.call.ID)).Msg("call failed")
	c.send(s, domain.KindEnd, domain.ReasonPayload{Reason: domain.EndError})
	c.end(s, domain.EndError)
}

// end is the single terminal transition. It runs once per session.
func (c *Controller) end(s *session, reason domain.EndReason) {
	if s.call.State.Terminal() {
		return
	}
	prev := s.state()
	s.disarmAll()
	s.cancel()
	if prev == domain.StateIncomingRinging {
		c.notifier.StopIncomingCall()
	}
	s.releaseMedia()
	s.pc = nil
	s.remote = nil

	now := c.clock.Now()
	s.call.State = domain.StateEnded
	s.call.EndedAt = &now
	s.call.EndReason = reason
	c.tombstones.Add(s.call.ID, reason)
	if s.signaled {
		c.enqueue(outbound{discard: s.call.ID})
	}
	c.arm(s, timerEndedGrace)
	c.logger.Info().Str("call_id", string(s.call.ID)).Str("from", string(prev)).Str("reason", string(reason)).Msg("ended")
	c.publish()
}

func (c *Controller) send(s *session, kind domain.Kind, payload any) {
	msg, err := domain.NewMessage(kind, c.self, s.peer, s.call.ID, payload)
	if err != nil {
		c.logger.Error().Err(err).Str("kind", string(kind)).Msg("build message")
		return
	}
	s.signaled = true
	c.enqueue(outbound{msg: msg})
}
