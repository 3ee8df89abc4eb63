package signal

import (
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/rs/zerolog/log"
)

func (h *Hub) handlePing(c *Conn) {
	_ = c.SendFrame(Frame{Type: FramePong})
}

// handlePresence lets a client switch between online and away. Offline is derived from disconnects.
func (h *Hub) handlePresence(c *Conn, p *domain.Presence) {
	if p == nil || (p.State != domain.PresenceOnline && p.State != domain.PresenceAway) {
		_ = c.SendFrame(errorFrame(ErrCodeBadFrame, ""))
		return
	}
	h.Presence.Set(c.uid, p.State)
}

func (h *Hub) sendSnapshot(c *Conn) {
	if err := c.SendFrame(Frame{Type: FramePresenceSnapshot, Snapshot: h.Presence.Snapshot()}); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("uid", string(c.uid)).Msg("snapshot not sent")
	}
}

func (h *Hub) broadcastPresence(p domain.Presence) {
	f := Frame{Type: FramePresence, Presence: &p}
	for _, sc := range h.Registry.All(p.UserID) {
		if err := sendTo(sc, f); err != nil {
			log.Debug().Err(err).Str("module", "signal").Str("conn", sc.ID()).Msg("presence dropped")
		}
	}
}
