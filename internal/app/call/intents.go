package call

import (
	"fmt"

	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
)

func (c *Controller) initiate(peer domain.UserID, mode domain.Mode) (domain.CallID, error) {
	if peer == "" || peer == c.self {
		return "", fmt.Errorf("%w: cannot call %q", core.ErrInvalidState, peer)
	}
	if !mode.Valid() {
		return "", fmt.Errorf("%w: mode %q", core.ErrInvalidState, mode)
	}
	if s := c.live(); s != nil {
		// Calling someone who is already calling us answers their call.
		if s.state() == domain.StateIncomingRinging && s.peer == peer {
			c.accept(s)
			return s.call.ID, nil
		}
		return "", core.ErrAlreadyInCall
	}

	call := domain.CallSession{
		ID:        domain.NewCallID(),
		CallerID:  c.self,
		CalleeID:  peer,
		Mode:      mode,
		State:     domain.StateOutgoingRinging,
		CreatedAt: c.clock.Now(),
	}
	s := newSession(call, c.self, c.displayName(peer))
	c.sessions[call.ID] = s
	c.current = s

	if !c.presence.IsReachable(peer) {
		err := core.NewCallError("initiate", call.ID, core.ErrPeerUnreachable, nil)
		s.err = err
		c.end(s, domain.EndError)
		c.logger.Info().Str("call_id", string(call.ID)).Str("peer", string(peer)).Msg("peer unreachable")
		return call.ID, err
	}

	c.send(s, domain.KindInvite, domain.InvitePayload{Mode: mode, CallerName: c.displayName(c.self)})
	c.arm(s, timerRing)
	c.acquire(s)
	c.logger.Info().Str("call_id", string(call.ID)).Str("peer", string(peer)).Str("mode", string(mode)).Msg("calling")
	c.publish()
	return call.ID, nil
}

func (c *Controller) acceptIntent() error {
	s := c.live()
	if s == nil {
		return core.ErrNoCall
	}
	if s.state() != domain.StateIncomingRinging {
		return invalidState("accept", s)
	}
	c.accept(s)
	return nil
}

// accept moves an incoming call to connecting. The accept message goes out once media is ready.
func (c *Controller) accept(s *session) {
	s.disarm(timerIncoming)
	c.notifier.StopIncomingCall()
	s.call.State = domain.StateConnecting
	c.arm(s, timerConnecting)
	c.acquire(s)
	c.logger.Info().Str("call_id", string(s.call.ID)).Msg("accepted")
	c.publish()
}

func (c *Controller) declineIntent() error {
	s := c.live()
	if s == nil {
		return core.ErrNoCall
	}
	if s.state() != domain.StateIncomingRinging {
		return invalidState("decline", s)
	}
	c.decline(s, domain.EndDeclined)
	return nil
}

func (c *Controller) decline(s *session, reason domain.EndReason) {
	c.send(s, domain.KindDecline, domain.ReasonPayload{Reason: reason})
	c.end(s, reason)
}

func (c *Controller) hangUpIntent() error {
	s := c.live()
	if s == nil {
		return core.ErrNoCall
	}
	c.hangUp(s)
	return nil
}

func (c *Controller) hangUp(s *session) {
	if s.state() == domain.StateIncomingRinging {
		c.decline(s, domain.EndDeclined)
		return
	}
	c.send(s, domain.KindEnd, domain.ReasonPayload{Reason: domain.EndHangup})
	c.end(s, domain.EndHangup)
}

func (c *Controller) setAudioMuted(muted bool) error {
	s := c.live()
	if s == nil {
		return core.ErrNoCall
	}
	s.audioMuted = muted
	switch {
	case s.pc != nil:
		s.pc.ToggleAudio(!muted)
	case s.stream != nil:
		s.stream.SetAudioEnabled(!muted)
	}
	c.publish()
	return nil
}

func (c *Controller) setVideoEnabled(enabled bool) error {
	s := c.live()
	if s == nil {
		return core.ErrNoCall
	}
	if !s.call.Mode.IsVideo() {
		return invalidState("toggle video", s)
	}
	s.videoEnabled = enabled
	switch {
	case s.pc != nil:
		s.pc.ToggleVideo(enabled)
	case s.stream != nil:
		s.stream.SetVideoEnabled(enabled)
	}
	c.publish()
	return nil
}
