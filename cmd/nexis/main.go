package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/ankur-the-analyst/nexis/internal/adapters/http"
	"github.com/ankur-the-analyst/nexis/internal/adapters/rtc"
	"github.com/ankur-the-analyst/nexis/internal/adapters/store"
	"github.com/ankur-the-analyst/nexis/internal/adapters/transport"
	"github.com/ankur-the-analyst/nexis/internal/call"
	"github.com/ankur-the-analyst/nexis/internal/config"
	"github.com/ankur-the-analyst/nexis/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.UserID == "" {
		log.Fatal().Msg("user_id is required")
	}
	localID := domain.UserID(cfg.UserID)
	username := cfg.Username
	if username == "" {
		username = cfg.UserID
	}
	user, err := domain.NewUser(localID, username)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid username")
	}

	recordStore := store.New(cfg.StoreURL, cfg.StoreAPIKey)
	engine := rtc.NewEngine(rtc.DefaultWebRTCConfig(cfg.STUNServers))
	relay := transport.New(cfg.SignalURL, localID, cfg.PingPeriod, cfg.ReadLimit)

	queue := call.NewOutboundSignalQueue(relay)
	mgr := call.NewManager(user, engine, queue, recordStore)
	mgr.Start(ctx)
	sigRouter := call.NewSignalRouter(localID, mgr)
	mgr.BindStaging(sigRouter)

	relay.OnMessage(sigRouter.Route)
	relay.OnReady(func() {
		queue.SetReady()
		mgr.AnnounceOnline()
	})
	mgr.OnIncoming(func(inv domain.IncomingInvite) {
		log.Info().Str("caller", string(inv.CallerID)).Bool("video", inv.IsVideo).Msg("ringing")
	})
	go relay.Run(ctx)

	r := router.SetupRouter(cfg, mgr)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("user", cfg.UserID).Msg("Nexis call client started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	mgr.Close()
	relay.Close()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
