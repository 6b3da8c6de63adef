package main

import (
	"fmt"
	"time"

	"github.com/mcdev12/livequiz/go/internal/config"
	"github.com/mcdev12/livequiz/go/internal/events"
	"github.com/mcdev12/livequiz/go/internal/gateway"
	"github.com/mcdev12/livequiz/go/internal/quiz"
	"github.com/mcdev12/livequiz/go/internal/session"
	"github.com/rs/zerolog/log"
)

func sessionRules(r config.Rules) session.Rules {
	return session.Rules{
		SessionTTL:             r.SessionTTL,
		Intermission:           r.Intermission,
		DefaultQuestionTimeSec: int(r.DefaultQuestionTime / time.Second),
	}
}

func jetStreamConfig(cfg config.Config) events.JetStreamConfig {
	js := events.DefaultJetStreamConfig()
	js.URL = cfg.NATSURL
	return js
}

// gatewayConfig gives every process its own consumer so each one sees every event.
func gatewayConfig(cfg config.Config, instanceID string) gateway.Config {
	gc := gateway.DefaultConfig()
	gc.JetStreamConfig.JetStreamConfig = jetStreamConfig(cfg)
	gc.JetStreamConfig.ConsumerName = fmt.Sprintf("quiz-gateway-%s", instanceID)
	gc.ConsumeEvents = cfg.NATSURL != ""
	return gc
}

func loadGameConfig(cfg config.Config) (config.Rules, *quiz.Catalog, error) {
	rules, err := config.LoadRules(cfg.RulesPath)
	if err != nil {
		return config.Rules{}, nil, err
	}
	catalog, err := quiz.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return config.Rules{}, nil, err
	}
	log.Info().
		Dur("session_ttl", rules.SessionTTL).
		Dur("intermission", rules.Intermission).
		Int("quizzes", len(catalog.List())).
		Msg("game configuration loaded")
	return rules, catalog, nil
}
