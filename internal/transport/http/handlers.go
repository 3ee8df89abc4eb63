package http

import (
	"context"
	"net/http"

	"github.com/dkeye/voicecall/internal/app/presence"
	"github.com/dkeye/voicecall/internal/auth"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// CallRecords is the read and delete side of the durable call record.
type CallRecords interface {
	Signals(ctx context.Context, callID domain.CallID, uid domain.UserID) ([]domain.SignalingMessage, error)
	IsParticipant(ctx context.Context, callID domain.CallID, uid domain.UserID) (bool, error)
	DeleteCall(ctx context.Context, callID domain.CallID) error
}

type PresenceResponse struct {
	Presence []domain.Presence `json:"presence"`
}

type SignalsResponse struct {
	CallID  domain.CallID             `json:"call_id"`
	Signals []domain.SignalingMessage `json:"signals"`
}

type Handlers struct {
	Presence *presence.Tracker
	Calls    CallRecords
}

// Register mounts the REST endpoints on g. Call endpoints expect an authenticated user.
func (h *Handlers) Register(g *gin.RouterGroup) {
	g.GET("/presence", h.listPresence)
	g.GET("/presence/:uid", h.getPresence)
	g.GET("/calls/:id/signals", h.callSignals)
	g.DELETE("/calls/:id", h.deleteCall)
}

func Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handlers) listPresence(c *gin.Context) {
	c.JSON(http.StatusOK, PresenceResponse{Presence: h.Presence.Snapshot()})
}

func (h *Handlers) getPresence(c *gin.Context) {
	uid, err := domain.ParseUserID(c.Param("uid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, ok := h.Presence.Get(uid)
	if !ok {
		p = domain.Presence{UserID: uid, State: domain.PresenceOffline}
	}
	c.JSON(http.StatusOK, p)
}

func currentUser(c *gin.Context) (domain.User, bool) {
	v, ok := c.Get(auth.ContextUserKey)
	if !ok {
		return domain.User{}, false
	}
	u, ok := v.(domain.User)
	return u, ok && u.ID != ""
}

// authorizeCall resolves the caller and checks it took part in the call.
func (h *Handlers) authorizeCall(c *gin.Context) (domain.User, domain.CallID, bool) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return domain.User{}, "", false
	}
	callID := domain.CallID(c.Param("id"))
	if callID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing call id"})
		return domain.User{}, "", false
	}
	member, err := h.Calls.IsParticipant(c.Request.Context(), callID, user.ID)
	if err != nil {
		log.Error().Err(err).Str("module", "transport.http").Str("call_id", string(callID)).Msg("participant check")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return domain.User{}, "", false
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant"})
		return domain.User{}, "", false
	}
	return user, callID, true
}

func (h *Handlers) callSignals(c *gin.Context) {
	user, callID, ok := h.authorizeCall(c)
	if !ok {
		return
	}
	msgs, err := h.Calls.Signals(c.Request.Context(), callID, user.ID)
	if err != nil {
		log.Error().Err(err).Str("module", "transport.http").Str("call_id", string(callID)).Msg("read signals")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	if msgs == nil {
		msgs = []domain.SignalingMessage{}
	}
	c.JSON(http.StatusOK, SignalsResponse{CallID: callID, Signals: msgs})
}

func (h *Handlers) deleteCall(c *gin.Context) {
	user, callID, ok := h.authorizeCall(c)
	if !ok {
		return
	}
	if err := h.Calls.DeleteCall(c.Request.Context(), callID); err != nil {
		log.Error().Err(err).Str("module", "transport.http").Str("call_id", string(callID)).Msg("delete call")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	log.Info().Str("module", "transport.http").Str("call_id", string(callID)).Str("uid", string(user.ID)).Msg("call record discarded")
	c.Status(http.StatusNoContent)
}
