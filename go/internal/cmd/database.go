package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/mcdev12/livequiz/go/internal/config"
	"github.com/mcdev12/livequiz/go/internal/store"
	"github.com/mcdev12/livequiz/go/internal/store/memory"
	"github.com/mcdev12/livequiz/go/internal/store/postgres"
	"github.com/mcdev12/livequiz/go/internal/store/sqlite"
	"github.com/rs/zerolog/log"
)

// Database is the selected store plus its lifecycle hooks.
type Database struct {
	Store store.Store
	// Start runs background work the store needs and blocks until ctx is done.
	Start func(ctx context.Context) error
	Close func() error
}

// setupDatabase opens the store named by QUIZ_STORE.
func setupDatabase(cfg config.Config) (*Database, error) {
	idle := func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}

	switch cfg.Store {
	case config.StoreSQLite:
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", cfg.SQLitePath).Msg("using sqlite store")
		return &Database{Store: s, Start: idle, Close: s.Close}, nil

	case config.StorePostgres:
		dsn := cfg.DB.DSN()
		database, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to create database connection: %w", err)
		}
		if err := database.Ping(); err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		s := postgres.New(database)

		listenerCfg := postgres.DefaultListenerConfig()
		listenerCfg.DatabaseURL = dsn
		listener, err := postgres.NewListener(s, listenerCfg)
		if err != nil {
			database.Close()
			return nil, err
		}

		log.Info().
			Str("host", cfg.DB.Host).
			Int("port", cfg.DB.Port).
			Str("database", cfg.DB.Database).
			Msg("using postgres store")
		return &Database{
			Store: s,
			Start: listener.Start,
			Close: func() error {
				s.Close()
				return database.Close()
			},
		}, nil

	default:
		log.Info().Msg("using in-memory store")
		s := memory.New()
		return &Database{Store: s, Start: idle, Close: s.Close}, nil
	}
}
