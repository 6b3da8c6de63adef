package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/mcdev12/livequiz/go/internal/dbconfig"
	"github.com/mcdev12/livequiz/go/internal/store/postgres"
)

func main() {
	_ = godotenv.Load()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	// 1) Connect using shared dbconfig
	cfg, err := dbconfig.NewConfigFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// 2) Apply the schema; every statement is idempotent
	if _, err := pool.Exec(ctx, postgres.Schema); err != nil {
		fmt.Fprintf(os.Stderr, "apply schema: %v\n", err)
		os.Exit(1)
	}

	// 3) Print summary
	var sessions, players int64
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM quiz_sessions`).Scan(&sessions); err != nil {
		fmt.Fprintf(os.Stderr, "count sessions: %v\n", err)
		os.Exit(1)
	}
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM quiz_players`).Scan(&players); err != nil {
		fmt.Fprintf(os.Stderr, "count players: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf(
		"Migration complete on %s/%s: %d sessions, %d players\n",
		cfg.Host, cfg.Database, sessions, players,
	)
}
