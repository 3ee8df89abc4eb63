package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	router "github.com/dkeye/voicecall/internal/adapters/http"
	relay "github.com/dkeye/voicecall/internal/adapters/signal"
	"github.com/dkeye/voicecall/internal/adapters/store"
	"github.com/dkeye/voicecall/internal/app"
	"github.com/dkeye/voicecall/internal/app/presence"
	"github.com/dkeye/voicecall/internal/auth"
	"github.com/dkeye/voicecall/internal/config"
	"github.com/dkeye/voicecall/internal/logging"
	transport "github.com/dkeye/voicecall/internal/transport/http"
)

const (
	outboxMaxAge  = 24 * time.Hour
	purgeInterval = time.Hour
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize the global logger early so config.Load can use it.
	logging.Init("info", true)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Init(cfg.Log.Level, cfg.Log.Pretty)

	if dir := filepath.Dir(cfg.DBPath); cfg.DBPath != ":memory:" && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatal().Err(err).Str("dir", dir).Msg("failed to create data dir")
		}
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to open store")
	}
	defer st.Close()

	tracker := presence.NewTracker()
	hub := relay.NewHub(cfg, app.NewRegistry(), tracker, st, app.SimplePolicy{})
	defer hub.Close()

	r := router.SetupRouter(ctx, cfg, router.Deps{
		Hub:      hub,
		Handlers: &transport.Handlers{Presence: tracker, Calls: st},
		Issuer:   auth.NewIssuer(cfg.Secret, cfg.Auth.TokenTTL),
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: router.WithCORS(cfg, r),
	}

	go purgeOutbox(ctx, st)

	go func() {
		log.Info().Str("addr", addr).Msg("voicecall relay started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}

// purgeOutbox drops control messages nobody came back for.
func purgeOutbox(ctx context.Context, st *store.Store) {
	t := time.NewTicker(purgeInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := st.PurgeOutbox(ctx, outboxMaxAge)
			if err != nil {
				log.Warn().Err(err).Str("module", "store").Msg("purge outbox")
				continue
			}
			if n > 0 {
				log.Info().Str("module", "store").Int64("purged", n).Msg("purged outbox")
			}
		}
	}
}
