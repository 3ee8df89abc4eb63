package signal

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (h *Hub) writePump(ctx context.Context, c *Conn) {
	ticker := time.NewTicker(h.pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("uid", string(c.uid)).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Str("uid", string(c.uid)).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(c.codec.MessageType(), data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("ping failed")
				return
			}
		}
	}
}

func (h *Hub) readPump(ctx context.Context, cancel context.CancelFunc, c *Conn) {
	defer func() {
		log.Info().Str("module", "signal").Str("uid", string(c.uid)).Msg("readPump closing")
		cancel()
		h.disconnect(c)
		c.Close()
	}()

	if h.readLimit > 0 {
		c.conn.SetReadLimit(h.readLimit)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(h.pongWait()))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.pongWait()))
	})

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("uid", string(c.uid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Str("module", "signal").Str("uid", string(c.uid)).Msg("readPump read error")
				}
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(h.pongWait()))
			h.handleFrame(ctx, c, data)
		}
	}
}

func (h *Hub) handleFrame(ctx context.Context, c *Conn, data []byte) {
	var f Frame
	if err := c.codec.Unmarshal(data, &f); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("uid", string(c.uid)).Msg("bad frame")
		_ = c.SendFrame(errorFrame(ErrCodeBadFrame, ""))
		return
	}

	switch f.Type {
	case FrameSignal:
		h.handleSignal(ctx, c, f.Signal)
	case FramePresence:
		h.handlePresence(c, f.Presence)
	case FramePing:
		h.handlePing(c)
	default:
		log.Warn().Str("module", "signal").Str("type", string(f.Type)).Msg("unknown frame")
		_ = c.SendFrame(errorFrame(ErrCodeUnknownType, ""))
	}
}
