package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/livequiz/go/internal/config"
	"github.com/mcdev12/livequiz/go/internal/events"
	"github.com/mcdev12/livequiz/go/internal/gateway"
	"github.com/mcdev12/livequiz/go/internal/identity"
	"github.com/mcdev12/livequiz/go/internal/models"
	"github.com/mcdev12/livequiz/go/internal/player"
	"github.com/mcdev12/livequiz/go/internal/quiz"
	"github.com/mcdev12/livequiz/go/internal/session"
	"github.com/mcdev12/livequiz/go/internal/store"
	"github.com/rs/zerolog/log"
)

type Services struct {
	Identity *identity.Service
	Sessions *session.Service
	Players  *player.Service
	Gateway  *gateway.Service
	Sweeper  *session.Sweeper

	Issuer    *identity.Issuer
	Publisher events.Publisher
}

func setupServices(ctx context.Context, cfg config.Config, st store.Store, rules config.Rules, catalog *quiz.Catalog) (*Services, error) {
	// Wire up dependency injection chain
	// Store → App layer → Service layer
	clock := clockwork.NewRealClock()
	instanceID := uuid.NewString()

	issuer, err := identity.NewIssuer(cfg.TokenSecret, cfg.TokenTTL, clock)
	if err != nil {
		return nil, fmt.Errorf("failed to create identity issuer: %w", err)
	}

	// Without a broker the gateway receives events straight from the apps.
	cm := gateway.NewConnectionManager(gateway.DefaultConnectionConfig(), clock.Now)
	var publisher events.Publisher = cm
	if cfg.NATSURL != "" {
		js, err := events.NewJetStreamPublisher(ctx, jetStreamConfig(cfg))
		if err != nil {
			return nil, fmt.Errorf("failed to create event publisher: %w", err)
		}
		publisher = js
		log.Info().Str("nats_url", cfg.NATSURL).Msg("publishing events to JetStream")
	}

	// Sessions
	pins := session.NewPinAllocator(st, rules.PinAttempts)
	sessionApp := session.NewApp(st, pins, catalog, publisher, clock, sessionRules(rules))
	sweeper := session.NewSweeper(sessionApp, st, clock, session.DefaultSweeperConfig())
	sessionApp.OnCreate(func(*models.Session) { sweeper.Wake() })

	// Players
	playerApp := player.NewApp(st, sessionApp, publisher)

	// Gateway
	gw, err := gateway.NewService(ctx, gatewayConfig(cfg, instanceID), cm, sessionApp, playerApp)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway: %w", err)
	}

	return &Services{
		Identity:  identity.NewService(issuer),
		Sessions:  session.NewService(sessionApp),
		Players:   player.NewService(playerApp),
		Gateway:   gw,
		Sweeper:   sweeper,
		Issuer:    issuer,
		Publisher: publisher,
	}, nil
}
