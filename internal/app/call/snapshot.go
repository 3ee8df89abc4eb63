package call

import (
	"time"

	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
)

// Snapshot is the read model for the call UI. Every field derives from the current session.
type Snapshot struct {
	CallID         domain.CallID         `json:"call_id,omitempty"`
	State          domain.State          `json:"state"`
	EndReason      domain.EndReason      `json:"end_reason,omitempty"`
	EndText        string                `json:"end_text,omitempty"`
	Error          string                `json:"error,omitempty"`
	Mode           domain.Mode           `json:"mode,omitempty"`
	Outgoing       bool                  `json:"outgoing"`
	PeerID         domain.UserID         `json:"peer_id,omitempty"`
	PeerName       string                `json:"peer_name,omitempty"`
	Media          domain.PeerMediaState `json:"media"`
	IsMuted        bool                  `json:"is_muted"`
	IsVideoEnabled bool                  `json:"is_video_enabled"`
	CreatedAt      time.Time             `json:"created_at,omitzero"`
	ConnectedAt    *time.Time            `json:"connected_at,omitempty"`

	LocalStream  core.LocalStream  `json:"-"`
	RemoteStream core.RemoteStream `json:"-"`
}

func (s Snapshot) InCall() bool { return s.State.Live() }

// Snapshot returns the latest published state.
func (c *Controller) Snapshot() Snapshot {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snap
}

// Subscribe delivers the latest snapshot on every change. Slow readers only see the newest one.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	c.snapMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.snap
	c.snapMu.Unlock()
	return ch, func() {
		c.snapMu.Lock()
		if _, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(ch)
		}
		c.snapMu.Unlock()
	}
}

func (c *Controller) publish() {
	snap := c.snapshotOf(c.current)
	c.snapMu.Lock()
	defer c.snapMu.Unlock()
	c.snap = snap
	for _, ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

func (c *Controller) snapshotOf(s *session) Snapshot {
	if s == nil {
		return Snapshot{State: domain.StateIdle}
	}
	media := s.mediaState()
	snap := Snapshot{
		CallID:         s.call.ID,
		State:          s.call.State,
		EndReason:      s.call.EndReason,
		EndText:        s.call.EndReason.Text(),
		Mode:           s.call.Mode,
		Outgoing:       s.outgoing,
		PeerID:         s.peer,
		PeerName:       s.peerName,
		Media:          media,
		IsMuted:        media.AudioMuted,
		IsVideoEnabled: media.VideoEnabled,
		CreatedAt:      s.call.CreatedAt,
		ConnectedAt:    s.call.ConnectedAt,
	}
	if s.err != nil {
		snap.Error = s.err.Error()
	}
	if s.live() {
		snap.LocalStream = s.stream
		snap.RemoteStream = s.remote
	}
	return snap
}
