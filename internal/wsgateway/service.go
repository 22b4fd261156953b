package wsgateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Service is the room gateway: it fans relayed outbox events out to
// WebSocket clients and serves authoritative state snapshots over HTTP.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	eventConsumer     *EventConsumer
	stateHandler      *StateHandler
	stateProvider     StateProvider
}

// Config holds configuration for the room gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
	JetStreamConfig  JetStreamConsumerConfig
}

// DefaultConfig returns default configuration for the room gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		JetStreamConfig:  DefaultJetStreamConsumerConfig(),
	}
}

// NewService creates a new room gateway service
func NewService(config Config, stateProvider StateProvider) (*Service, error) {
	connectionManager := NewConnectionManager(config.ConnectionConfig)
	wsHandler := NewWebSocketHandler(connectionManager)

	eventConsumer, err := NewEventConsumer(connectionManager, config.JetStreamConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create event consumer: %w", err)
	}

	stateHandler := NewStateHandler(stateProvider)

	return &Service{
		connectionManager: connectionManager,
		wsHandler:         wsHandler,
		eventConsumer:     eventConsumer,
		stateHandler:      stateHandler,
		stateProvider:     stateProvider,
	}, nil
}

// OnRoomEmpty registers a callback for when a room's last socket closes.
func (s *Service) OnRoomEmpty(fn func(roomID uuid.UUID)) {
	s.connectionManager.OnRoomEmpty(fn)
}

// Start begins the gateway service
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting room gateway service")

	go s.connectionManager.Start(ctx)

	go func() {
		if err := s.eventConsumer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("event consumer failed")
		}
	}()

	<-ctx.Done()

	log.Info().Msg("room gateway service shutting down")
	return s.Stop()
}

// Stop gracefully shuts down the gateway service
func (s *Service) Stop() error {
	if err := s.eventConsumer.Stop(); err != nil {
		log.Error().Err(err).Msg("failed to stop event consumer")
	}

	// Connection manager stops when the context is cancelled
	log.Info().Msg("room gateway service stopped")
	return nil
}

// RegisterRoutes registers the WebSocket, state and stats HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.stateHandler.RegisterStateRoutes(mux)
	mux.HandleFunc("/ws/stats", s.handleStats)
	log.Info().Msg("room gateway routes registered")
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() map[string]interface{} {
	stats := s.connectionManager.GetConnectionStats()
	stats["service"] = "room_gateway"
	stats["status"] = "running"
	return stats
}

// handleStats serves the gateway's connection statistics.
func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(s.GetStats()); err != nil {
		log.Error().Err(err).Msg("failed to encode gateway stats")
	}
}
