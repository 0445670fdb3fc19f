package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/codearena/go/internal/arena/eventbus"
	"github.com/mcdev12/codearena/go/internal/arena/gateway"
	"github.com/mcdev12/codearena/go/internal/arena/identity"
	"github.com/mcdev12/codearena/go/internal/arena/orchestrator"
	"github.com/mcdev12/codearena/go/internal/arena/room"
	"github.com/mcdev12/codearena/go/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	cfg := config.NewConfigFromEnv()
	if path := os.Getenv("ARENA_CONFIG"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("failed to load config file")
		}
	}

	setupLogging(cfg)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	log.Info().
		Str("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Int("max_players", cfg.Contest.MaxPlayers).
		Dur("contest_duration", cfg.Contest.Duration).
		Bool("nats_mirror", cfg.NATS.URL != "").
		Int("identity_tokens", len(cfg.Identity.Tokens)).
		Bool("require_token", cfg.Identity.RequireToken).
		Msg("starting arena gateway")

	var policy room.EvictionPolicy = room.NeverEvict{}
	if cfg.Rooms.IdleTTL > 0 {
		policy = room.IdleEvict{TTL: cfg.Rooms.IdleTTL}
	}
	registry := room.NewMemoryRegistry(cfg.Contest.MaxPlayers, policy)

	gatewayConfig := gateway.DefaultConfig()
	gatewayConfig.AllowedOrigins = cfg.AllowedOrigins
	gatewayConfig.ConnectionConfig.CheckOrigin = originChecker(cfg.AllowedOrigins)
	gatewayConfig.Coordinator = orchestrator.Config{
		MaxPlayers:           cfg.Contest.MaxPlayers,
		MinPlayers:           cfg.Contest.MinPlayers,
		CountdownSeconds:     cfg.Contest.CountdownSeconds,
		ContestDuration:      cfg.Contest.Duration,
		AllowRestartAfterEnd: cfg.Contest.AllowRestartAfterEnd,
		RoomIdleTTL:          cfg.Rooms.IdleTTL,
		SweepInterval:        cfg.Rooms.SweepInterval,
		InboxSize:            cfg.Rooms.InboxSize,
	}

	resolver := identity.NewResolver(cfg.Identity.Tokens, cfg.Identity.RequireToken)
	gatewayService := gateway.NewService(gatewayConfig, registry, clockwork.NewRealClock(), resolver)

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.NATS.URL != "" {
		jsConfig := eventbus.DefaultJetStreamConfig()
		jsConfig.URL = cfg.NATS.URL
		jsConfig.StreamName = cfg.NATS.StreamName
		jsConfig.SubjectPrefix = cfg.NATS.SubjectPrefix

		publisher, err := eventbus.NewJetStreamPublisher(jsConfig)
		if err != nil {
			log.Fatal().Err(err).Str("nats_url", cfg.NATS.URL).Msg("failed to create event mirror")
		}
		defer publisher.Close()

		gatewayService.SetMirror(publisher)
		go publisher.Run(ctx)
	}

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     gatewayService.Handler(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	// Start gateway service (connection manager and coordinator loop)
	go func() {
		if err := gatewayService.Start(ctx); err != nil {
			log.Error().Err(err).Msg("gateway service failed")
		}
	}()

	// Start HTTP server
	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Stops the coordinator, which cancels every room timer
	cancel()

	// Give services time to clean up
	time.Sleep(1 * time.Second)

	log.Info().Msg("arena gateway shutdown complete")
}

func setupLogging(cfg config.Config) {
	if cfg.LogFormat != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

// originChecker allows requests without an Origin header (non-browser
// clients) and browsers from the allowed list
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || slices.Contains(allowed, "*") {
			return true
		}
		return slices.Contains(allowed, origin)
	}
}
