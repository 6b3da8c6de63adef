// Package sqlite is a single-node Store backed by an embedded SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/livequiz/go/internal/models"
	"github.com/mcdev12/livequiz/go/internal/sqlutil"
	"github.com/mcdev12/livequiz/go/internal/store"
	"github.com/rs/zerolog/log"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

//go:embed schema.sql
var schema string

// Store persists sessions and players in SQLite. Writes are serialized on a
// single connection, so every read-modify-write transaction is atomic.
type Store struct {
	db  *sql.DB
	hub *store.Hub
}

var _ store.Store = (*Store)(nil)

// Open opens the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db, hub: store.NewHub()}, nil
}

func (s *Store) CreateSession(ctx context.Context, session *models.Session) error {
	row, err := store.EncodeSession(session)
	if err != nil {
		return err
	}

	var expired []string
	err = sqlutil.Run(ctx, s.db, newQueries, func(q *queries) error {
		ids, err := q.expireStaleLobbies(ctx, row.Pin, row.CreatedMs)
		if err != nil {
			return err
		}
		expired = ids
		if err := q.insertSession(ctx, row); err != nil {
			if isUniqueViolation(err) {
				return store.ErrPinTaken
			}
			return err
		}
		return nil
	})
	if err != nil {
		return classify("create session", err)
	}

	for _, id := range expired {
		s.refreshSession(id)
	}
	s.refreshSession(row.ID)
	return nil
}

func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	session, err := s.loadSession(ctx, id.String())
	if err != nil {
		return nil, classify("get session", err)
	}
	return session, nil
}

func (s *Store) GetSessionByPin(ctx context.Context, pin string) (*models.Session, error) {
	row, err := newQueries(s.db).getSessionByPin(ctx, pin)
	if err != nil {
		return nil, classify("get session by pin", err)
	}
	return store.DecodeSession(row)
}

func (s *Store) ListActiveSessionsByHost(ctx context.Context, hostIdentity string) ([]*models.Session, error) {
	rows, err := newQueries(s.db).listActiveByHost(ctx, hostIdentity)
	if err != nil {
		return nil, classify("list host sessions", err)
	}
	out := make([]*models.Session, 0, len(rows))
	for _, row := range rows {
		session, err := store.DecodeSession(row)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, nil
}

func (s *Store) UpdateSession(ctx context.Context, id uuid.UUID, mutate store.SessionMutator) (*models.Session, error) {
	var (
		out     *models.Session
		mutErr  error
		changed bool
	)
	err := sqlutil.Run(ctx, s.db, newQueries, func(q *queries) error {
		row, err := q.getSession(ctx, id.String())
		if err != nil {
			return err
		}
		current, err := store.DecodeSession(row)
		if err != nil {
			return err
		}
		next := current.Clone()
		if err := mutate(next); err != nil {
			if errors.Is(err, store.ErrNoChange) {
				out = current
				return nil
			}
			mutErr = err
			return err
		}
		next.ID = id
		updated, err := store.EncodeSession(next)
		if err != nil {
			return err
		}
		if err := q.updateSession(ctx, updated); err != nil {
			if isUniqueViolation(err) {
				return store.ErrPinTaken
			}
			return err
		}
		out, changed = next, true
		return nil
	})
	if mutErr != nil {
		return nil, mutErr
	}
	if err != nil {
		return nil, classify("update session", err)
	}

	if changed {
		s.refreshSession(id.String())
	}
	return out.Clone(), nil
}

func (s *Store) UpsertPlayer(ctx context.Context, sessionID uuid.UUID, identity string, mutate store.PlayerMutator) (*models.Player, error) {
	var (
		out     *models.Player
		mutErr  error
		changed bool
	)
	err := sqlutil.Run(ctx, s.db, newQueries, func(q *queries) error {
		var current *models.Player
		row, err := q.getPlayer(ctx, sessionID.String(), identity)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return err
		default:
			if current, err = store.DecodePlayer(row); err != nil {
				return err
			}
		}

		created := current == nil
		next := &models.Player{SessionID: sessionID, Identity: identity, Answers: []models.Answer{}}
		if !created {
			next = current.Clone()
		}
		if err := mutate(next, created); err != nil {
			if errors.Is(err, store.ErrNoChange) && !created {
				out = current
				return nil
			}
			mutErr = err
			return err
		}
		next.SessionID = sessionID
		next.Identity = identity

		encoded, err := store.EncodePlayer(next)
		if err != nil {
			return err
		}
		if created {
			err = q.insertPlayer(ctx, encoded)
		} else {
			err = q.updatePlayer(ctx, encoded)
		}
		if err != nil {
			return err
		}
		out, changed = next, true
		return nil
	})
	if mutErr != nil {
		return nil, mutErr
	}
	if err != nil {
		return nil, classify("upsert player", err)
	}

	if changed {
		s.refreshPlayers(sessionID.String())
	}
	return out.Clone(), nil
}

func (s *Store) ListPlayers(ctx context.Context, sessionID uuid.UUID) ([]*models.Player, error) {
	players, err := s.loadPlayers(ctx, sessionID.String())
	if err != nil {
		return nil, classify("list players", err)
	}
	return players, nil
}

func (s *Store) SubscribeSession(ctx context.Context, id uuid.UUID) (*store.Stream[*models.Session], error) {
	stream, err := s.hub.SubscribeSession(ctx, id, func() (*models.Session, error) {
		return s.loadSession(ctx, id.String())
	})
	if err != nil {
		return nil, classify("subscribe session", err)
	}
	return stream, nil
}

func (s *Store) SubscribePlayers(ctx context.Context, sessionID uuid.UUID) (*store.Stream[[]*models.Player], error) {
	stream, err := s.hub.SubscribePlayers(ctx, sessionID, func() ([]*models.Player, error) {
		return s.loadPlayers(ctx, sessionID.String())
	})
	if err != nil {
		return nil, classify("subscribe players", err)
	}
	return stream, nil
}

func (s *Store) NextExpiry(ctx context.Context) (*time.Time, error) {
	ms, err := newQueries(s.db).nextExpiry(ctx)
	if err != nil {
		return nil, classify("next expiry", err)
	}
	return sqlutil.FromNullMillis(ms), nil
}

func (s *Store) ListExpiredSessions(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = math.MaxInt32
	}
	raw, err := newQueries(s.db).listExpired(ctx, sqlutil.ToMillis(now), limit)
	if err != nil {
		return nil, classify("list expired sessions", err)
	}
	ids := make([]uuid.UUID, 0, len(raw))
	for _, r := range raw {
		id, err := uuid.Parse(r)
		if err != nil {
			return nil, &store.DeserializationError{Entity: "session", Key: r, Field: "id", Err: err}
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Close releases every open stream and closes the database.
func (s *Store) Close() error {
	s.hub.Close()
	return s.db.Close()
}

func (s *Store) loadSession(ctx context.Context, id string) (*models.Session, error) {
	row, err := newQueries(s.db).getSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return store.DecodeSession(row)
}

func (s *Store) loadPlayers(ctx context.Context, sessionID string) ([]*models.Player, error) {
	rows, err := newQueries(s.db).listPlayers(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	players := make([]*models.Player, 0, len(rows))
	for _, r := range rows {
		p, err := store.DecodePlayer(r)
		if err != nil {
			return nil, err
		}
		players = append(players, p)
	}
	return players, nil
}

// refreshSession publishes the committed state. Subscribers are
// notified with a background context so a cancelled writer still fans out.
func (s *Store) refreshSession(id string) {
	sid, err := uuid.Parse(id)
	if err != nil {
		return
	}
	err = s.hub.RefreshSession(sid, func() (*models.Session, error) {
		return s.loadSession(context.Background(), id)
	})
	if err != nil {
		log.Warn().Err(err).Str("session_id", id).Msg("failed to refresh session subscribers")
	}
}

func (s *Store) refreshPlayers(sessionID string) {
	sid, err := uuid.Parse(sessionID)
	if err != nil {
		return
	}
	err = s.hub.RefreshPlayers(sid, func() ([]*models.Player, error) {
		return s.loadPlayers(context.Background(), sessionID)
	})
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("failed to refresh player subscribers")
	}
}

// classify leaves domain errors untouched and wraps everything else as ErrUnavailable.
func classify(op string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrPinTaken),
		errors.Is(err, store.ErrUnavailable),
		store.IsDeserialization(err):
		return err
	}
	return store.Unavailable(op, err)
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
