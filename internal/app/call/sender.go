package call

import (
	"context"

	"github.com/dkeye/voicecall/internal/domain"
)

// outbound is either a message or a request to discard a call record.
type outbound struct {
	msg     domain.SignalingMessage
	discard domain.CallID
}

// enqueue never blocks the loop. Only the loop writes to out.
func (c *Controller) enqueue(ob outbound) {
	select {
	case c.out <- ob:
	default:
		c.logger.Error().Str("kind", string(ob.msg.Kind)).Str("call_id", string(ob.msg.CallID)).Msg("send queue full, dropped")
	}
}

// sender delivers in FIFO order so a call's messages reach the peer in the order they were produced.
func (c *Controller) sender() {
	defer close(c.sendDone)
	for ob := range c.out {
		ctx, cancel := context.WithTimeout(context.Background(), c.sendTTL)
		if ob.discard != "" {
			if err := c.transport.Discard(ctx, ob.discard); err != nil {
				c.logger.Debug().Err(err).Str("call_id", string(ob.discard)).Msg("discard record")
			}
			cancel()
			continue
		}
		err := c.transport.Send(ctx, ob.msg)
		cancel()
		if err == nil {
			continue
		}
		l := c.logger.With().Err(err).Str("kind", string(ob.msg.Kind)).Str("call_id", string(ob.msg.CallID)).Logger()
		// Candidates are best effort; ICE copes with missing ones.
		if ob.msg.Kind == domain.KindICECandidate {
			l.Debug().Msg("candidate not delivered")
			continue
		}
		l.Warn().Msg("send failed")
		c.emit(event{kind: evSendFailed, callID: ob.msg.CallID, err: err})
	}
}
