// Package gateway pushes live session state to websocket clients.
package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mcdev12/livequiz/go/internal/player"
	"github.com/mcdev12/livequiz/go/internal/session"
	"github.com/rs/zerolog/log"
)

// Service wires the connection manager, websocket routes and the optional event consumer.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	eventConsumer     *EventConsumer
}

// Config holds configuration for the gateway service.
type Config struct {
	ConnectionConfig ConnectionConfig
	JetStreamConfig  JetStreamConsumerConfig
	// ConsumeEvents enables forwarding of JetStream events to clients.
	ConsumeEvents bool
}

// DefaultConfig returns the default gateway configuration.
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		JetStreamConfig:  DefaultJetStreamConsumerConfig(),
	}
}

// NewService creates the gateway service.
// cm is shared with the apps when events are delivered in-process.
func NewService(ctx context.Context, config Config, cm *ConnectionManager, sessions *session.App, players *player.App) (*Service, error) {
	s := &Service{
		connectionManager: cm,
		wsHandler:         NewWebSocketHandler(cm, sessions, players),
	}

	if config.ConsumeEvents {
		consumer, err := NewEventConsumer(ctx, cm, config.JetStreamConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create event consumer: %w", err)
		}
		s.eventConsumer = consumer
	}
	return s, nil
}

// Start runs the gateway until ctx is done.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Bool("consume_events", s.eventConsumer != nil).Msg("starting gateway service")

	go s.connectionManager.Start(ctx)

	if s.eventConsumer != nil {
		go func() {
			if err := s.eventConsumer.Start(ctx); err != nil {
				log.Error().Err(err).Msg("event consumer failed")
			}
		}()
	}

	<-ctx.Done()

	log.Info().Msg("gateway service shutting down")
	return s.Stop()
}

// Stop releases the event consumer.
func (s *Service) Stop() error {
	if s.eventConsumer != nil {
		if err := s.eventConsumer.Stop(); err != nil {
			log.Error().Err(err).Msg("failed to stop event consumer")
		}
	}
	return nil
}

// RegisterRoutes registers the gateway HTTP routes.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	log.Info().Msg("gateway routes registered")
}

// Stats returns statistics about active connections.
func (s *Service) Stats() Stats {
	return s.connectionManager.Stats()
}
