package postgres

import (
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"
	"github.com/mcdev12/livequiz/go/internal/store"
	"github.com/mcdev12/livequiz/go/internal/store/storetest"
)

// Set QUIZ_TEST_POSTGRES_DSN to run these against a scratch database.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("QUIZ_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("QUIZ_TEST_POSTGRES_DSN not set")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Exec(Schema); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return db
}

func TestStoreContract(t *testing.T) {
	db := openTestDB(t)
	storetest.Run(t, func(t *testing.T) store.Store {
		if _, err := db.Exec(`TRUNCATE quiz_players, quiz_sessions`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return New(db)
	})
}
