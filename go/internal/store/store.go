// Package store defines the persistence contract the quiz core runs on: atomic
// single-record updates plus ordered, cancellable change streams.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/livequiz/go/internal/models"
)

// SessionMutator edits a session in place inside the store's atomic region.
// Returning an error aborts the update without writing.
type SessionMutator func(s *models.Session) error

// PlayerMutator edits a player in place inside the store's atomic region.
// created is true when no record existed for the (session, identity) key.
type PlayerMutator func(p *models.Player, created bool) error

// Store is implemented by every persistence adapter.
type Store interface {
	// CreateSession inserts a new session. It fails with ErrPinTaken when a
	// live session already holds the pin at s.CreatedAt.
	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	// GetSessionByPin prefers the live holder of pin, else the newest session that used it.
	GetSessionByPin(ctx context.Context, pin string) (*models.Session, error)
	UpdateSession(ctx context.Context, id uuid.UUID, mutate SessionMutator) (*models.Session, error)
	// ListActiveSessionsByHost returns the non-terminal sessions hostIdentity
	// created, newest first. Lazy expiry is not applied.
	ListActiveSessionsByHost(ctx context.Context, hostIdentity string) ([]*models.Session, error)

	UpsertPlayer(ctx context.Context, sessionID uuid.UUID, identity string, mutate PlayerMutator) (*models.Player, error)
	ListPlayers(ctx context.Context, sessionID uuid.UUID) ([]*models.Player, error)

	SubscribeSession(ctx context.Context, id uuid.UUID) (*Stream[*models.Session], error)
	SubscribePlayers(ctx context.Context, sessionID uuid.UUID) (*Stream[[]*models.Player], error)

	// NextExpiry returns the earliest expiresAt among Waiting sessions, or nil.
	NextExpiry(ctx context.Context) (*time.Time, error)
	// ListExpiredSessions returns Waiting sessions whose expiresAt is before now.
	ListExpiredSessions(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)

	Close() error
}
