package gateway

import (
	"context"
	"net/http"

	"github.com/mcdev12/codearena/go/internal/arena/identity"
	"github.com/mcdev12/codearena/go/internal/arena/orchestrator"
	"github.com/mcdev12/codearena/go/internal/arena/room"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Service wires the connection manager, coordinator and HTTP handlers
type Service struct {
	connectionManager *ConnectionManager
	coordinator       *orchestrator.Coordinator
	wsHandler         *WebSocketHandler
	stateHandler      *StateHandler
	allowedOrigins    []string
}

// Config holds configuration for the arena gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
	Coordinator      orchestrator.Config
	AllowedOrigins   []string
}

// DefaultConfig returns default configuration for the arena gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		Coordinator:      orchestrator.DefaultConfig(),
		AllowedOrigins:   []string{"*"},
	}
}

// NewService creates a new arena gateway service
func NewService(config Config, registry room.Registry, clock orchestrator.Clock, resolver identity.Resolver) *Service {
	connectionManager := NewConnectionManager(config.ConnectionConfig)
	coordinator := orchestrator.NewCoordinator(registry, connectionManager, clock, config.Coordinator)
	router := NewMessageRouter(coordinator, resolver, connectionManager)
	connectionManager.SetMessageHandler(router)

	return &Service{
		connectionManager: connectionManager,
		coordinator:       coordinator,
		wsHandler:         NewWebSocketHandler(connectionManager),
		stateHandler:      NewStateHandler(coordinator),
		allowedOrigins:    config.AllowedOrigins,
	}
}

// SetMirror copies every room broadcast to m
func (s *Service) SetMirror(m Mirror) {
	s.connectionManager.SetMirror(m)
}

// Start runs the broadcast loop and the coordinator until ctx is done
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting arena gateway service")

	go s.connectionManager.Start(ctx)

	err := s.coordinator.Run(ctx)

	log.Info().Msg("arena gateway service stopped")
	return err
}

// RegisterRoutes registers the WebSocket and REST routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.stateHandler.RegisterStateRoutes(mux)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})
	log.Info().Msg("arena gateway routes registered")
}

// Handler returns the full HTTP handler with CORS and h2c applied
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins:   s.allowedOrigins,
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	return h2c.NewHandler(c.Handler(mux), &http2.Server{})
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() ConnectionStats {
	return s.connectionManager.GetConnectionStats()
}
