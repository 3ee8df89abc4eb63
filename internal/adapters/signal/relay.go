package signal

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/voicecall/internal/app"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/rs/zerolog/log"
)

func (h *Hub) handleSignal(ctx context.Context, c *Conn, msg *domain.SignalingMessage) {
	if msg == nil {
		_ = c.SendFrame(errorFrame(ErrCodeBadMessage, ""))
		return
	}
	logger := log.With().Str("module", "signal").Str("call_id", string(msg.CallID)).
		Str("kind", string(msg.Kind)).Str("from", string(msg.FromUserID)).Str("to", string(msg.ToUserID)).Logger()

	if err := msg.Validate(); err != nil {
		logger.Warn().Err(err).Msg("invalid message")
		_ = c.SendFrame(errorFrame(ErrCodeBadMessage, msg.ID))
		return
	}
	if msg.FromUserID != c.uid {
		logger.Warn().Str("uid", string(c.uid)).Msg("sender does not match connection")
		_ = c.SendFrame(errorFrame(ErrCodeFromMismatch, msg.ID))
		return
	}

	if msg.Kind.Durable() {
		if err := h.Store.AppendSignal(ctx, *msg); err != nil {
			logger.Error().Err(err).Msg("append signal")
		}
	}

	h.Route(ctx, *msg)
	if msg.Kind == domain.KindAccept || msg.Kind == domain.KindDecline {
		h.mirror(c, *msg)
	}

	if msg.Kind.Closing() {
		if err := h.Store.DeleteCall(ctx, msg.CallID); err != nil {
			logger.Error().Err(err).Msg("delete call record")
		}
	}
}

// Route hands msg to every connection of its recipient, applying the policy
// to slow connections and to recipients that are not connected at all.
func (h *Hub) Route(ctx context.Context, msg domain.SignalingMessage) {
	logger := log.With().Str("module", "signal").Str("call_id", string(msg.CallID)).
		Str("kind", string(msg.Kind)).Str("to", string(msg.ToUserID)).Logger()

	f := signalFrame(msg)
	delivered := 0
	for _, sc := range h.Registry.Conns(msg.ToUserID) {
		err := sendTo(sc, f)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, ErrBackpressure):
			action := h.Policy.OnBackPressure(msg.Kind)
			logger.Warn().Str("conn", sc.ID()).Str("action", action.String()).Msg("send queue full")
			if action == app.KickConn {
				sc.Close()
			}
		default:
			logger.Debug().Err(err).Str("conn", sc.ID()).Msg("send failed")
		}
	}
	if delivered > 0 {
		logger.Debug().Int("conns", delivered).Msg("relayed")
		return
	}

	switch action := h.Policy.OnUndelivered(msg.Kind); action {
	case app.QueueFrame:
		if err := h.Store.Enqueue(ctx, msg); err != nil {
			logger.Error().Err(err).Msg("enqueue")
			return
		}
		logger.Info().Msg("recipient offline, queued")
	default:
		logger.Debug().Str("action", action.String()).Msg("recipient offline, dropped")
	}
}

// mirror hands a callee's answer to the callee's other connections so they
// stop ringing. Nothing is queued for devices that are not connected.
func (h *Hub) mirror(from *Conn, msg domain.SignalingMessage) {
	f := signalFrame(msg)
	for _, sc := range h.Registry.Conns(msg.FromUserID) {
		if sc.ID() == from.ID() {
			continue
		}
		if err := sendTo(sc, f); err != nil {
			log.Debug().Err(err).Str("module", "signal").Str("conn", sc.ID()).Str("call_id", string(msg.CallID)).Msg("mirror answer")
		}
	}
}

// flushOutbox delivers what was queued while the user had no connection.
// Invites older than the ring timeout are dropped; their caller gave up already.
func (h *Hub) flushOutbox(ctx context.Context, c *Conn) {
	queued, err := h.Store.TakeOutbox(ctx, c.uid)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("uid", string(c.uid)).Msg("take outbox")
		return
	}
	cutoff := time.Now().Add(-h.ringTimeout)
	msgs := queued[:0]
	for _, msg := range queued {
		if msg.Kind == domain.KindInvite && msg.SentAt.Before(cutoff) {
			log.Info().Str("module", "signal").Str("call_id", string(msg.CallID)).Str("uid", string(c.uid)).Msg("stale invite dropped")
			continue
		}
		msgs = append(msgs, msg)
	}
	for i, msg := range msgs {
		if err := c.SendFrame(signalFrame(msg)); err != nil {
			log.Warn().Err(err).Str("module", "signal").Int("left", len(msgs)-i).Msg("outbox flush interrupted, requeue")
			for _, rest := range msgs[i:] {
				if err := h.Store.Enqueue(ctx, rest); err != nil {
					log.Error().Err(err).Str("module", "signal").Msg("requeue")
				}
			}
			return
		}
	}
	if len(msgs) > 0 {
		log.Info().Str("module", "signal").Str("uid", string(c.uid)).Int("count", len(msgs)).Msg("outbox flushed")
	}
}
