package http

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/dkeye/voicecall/internal/adapters/signal"
	"github.com/dkeye/voicecall/internal/auth"
	"github.com/dkeye/voicecall/internal/config"
	"github.com/dkeye/voicecall/internal/domain"
	transport "github.com/dkeye/voicecall/internal/transport/http"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
)

const sessionUIDKey = "uid"

func genClientToken() string {
	return uuid.NewString()
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	if t := c.Query("token"); t != "" {
		return t
	}
	h := c.GetHeader("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// AuthMiddleware resolves the signaling identity: a JWT when present, otherwise,
// in anonymous mode, the uid query, the uid remembered in the session or the client token.
func AuthMiddleware(issuer *auth.Issuer, allowAnonymous bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw := bearerToken(c); raw != "" {
			user, err := issuer.Verify(raw)
			if err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("token rejected")
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
			c.Set(auth.ContextUserKey, user)
			c.Next()
			return
		}
		if !allowAnonymous {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token required"})
			return
		}

		session := sessions.Default(c)
		raw := c.Query("uid")
		if raw == "" {
			raw, _ = session.Get(sessionUIDKey).(string)
		}
		if raw == "" {
			raw = c.GetString("client_token")
		}
		uid, err := domain.ParseUserID(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if session.Get(sessionUIDKey) != string(uid) {
			session.Set(sessionUIDKey, string(uid))
			if err := session.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("session save")
			}
		}
		user, _ := domain.NewUser(uid, "")
		c.Set(auth.ContextUserKey, *user)
		c.Next()
	}
}

type Deps struct {
	Hub      *signal.Hub
	Handlers *transport.Handlers
	Issuer   *auth.Issuer
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("VoiceCallSessions", store))
	r.Use(ClientTokenMiddleware())

	if cfg.StaticPath != "" {
		if _, err := os.Stat(cfg.StaticPath); err == nil {
			r.Static("/static", cfg.StaticPath)
			r.GET("/", func(c *gin.Context) {
				c.File(cfg.StaticPath + "/index.html")
			})
		}
	}
	r.GET("/healthz", transport.Healthz)

	log.Info().Str("module", "adapters.http").Bool("anonymous", cfg.Auth.AllowAnonymous).Msg("router setup")

	api := r.Group("/api")
	api.Use(AuthMiddleware(deps.Issuer, cfg.Auth.AllowAnonymous))

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("client_token", c.GetString("client_token")).Msg("ws signal endpoint hit")
		deps.Hub.HandleSignal(ctx, c)
	})
	deps.Handlers.Register(api)

	return r
}

// WithCORS wraps h for browser clients on other origins.
func WithCORS(cfg *config.Config, h http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(h)
}
