// Package memory is an in-process store used by tests and single-binary dev runs.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/livequiz/go/internal/models"
	"github.com/mcdev12/livequiz/go/internal/store"
)

type playerKey struct {
	sessionID uuid.UUID
	identity  string
}

// Store keeps sessions and players in maps guarded by one mutex. Every
// mutation runs entirely under the lock, which makes it atomic per record.
type Store struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*models.Session
	players  map[playerKey]*models.Player
	roster   map[uuid.UUID][]string // join order per session
	hub      *store.Hub
}

var _ store.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		sessions: make(map[uuid.UUID]*models.Session),
		players:  make(map[playerKey]*models.Player),
		roster:   make(map[uuid.UUID][]string),
		hub:      store.NewHub(),
	}
}

func (s *Store) CreateSession(ctx context.Context, session *models.Session) error {
	if err := ctx.Err(); err != nil {
		return store.Unavailable("create session", err)
	}
	s.mu.Lock()
	for _, existing := range s.sessions {
		if existing.Pin == session.Pin && existing.Live(session.CreatedAt) {
			s.mu.Unlock()
			return store.ErrPinTaken
		}
	}
	if _, exists := s.sessions[session.ID]; exists {
		s.mu.Unlock()
		return store.ErrPinTaken
	}
	s.sessions[session.ID] = session.Clone()
	s.mu.Unlock()

	s.refreshSession(session.ID)
	return nil
}

func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.Unavailable("get session", err)
	}
	return s.loadSession(id)
}

func (s *Store) GetSessionByPin(ctx context.Context, pin string) (*models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.Unavailable("get session by pin", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *models.Session
	for _, session := range s.sessions {
		if session.Pin != pin {
			continue
		}
		if best == nil || preferSession(session, best) {
			best = session
		}
	}
	if best == nil {
		return nil, store.ErrNotFound
	}
	return best.Clone(), nil
}

// preferSession reports whether a should be returned over b for the same pin:
// non-terminal sessions first, then the newest.
func preferSession(a, b *models.Session) bool {
	aLive, bLive := !a.Status.Terminal(), !b.Status.Terminal()
	if aLive != bLive {
		return aLive
	}
	return a.CreatedAt.After(b.CreatedAt)
}

func (s *Store) ListActiveSessionsByHost(ctx context.Context, hostIdentity string) ([]*models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.Unavailable("list host sessions", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Session
	for _, session := range s.sessions {
		if session.HostIdentity == hostIdentity && !session.Status.Terminal() {
			out = append(out, session.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpdateSession(ctx context.Context, id uuid.UUID, mutate store.SessionMutator) (*models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.Unavailable("update session", err)
	}
	s.mu.Lock()
	current, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return nil, store.ErrNotFound
	}
	next := current.Clone()
	if err := mutate(next); err != nil {
		s.mu.Unlock()
		if errors.Is(err, store.ErrNoChange) {
			return current.Clone(), nil
		}
		return nil, err
	}
	next.ID = id
	s.sessions[id] = next
	out := next.Clone()
	s.mu.Unlock()

	s.refreshSession(id)
	return out, nil
}

func (s *Store) UpsertPlayer(ctx context.Context, sessionID uuid.UUID, identity string, mutate store.PlayerMutator) (*models.Player, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.Unavailable("upsert player", err)
	}
	key := playerKey{sessionID: sessionID, identity: identity}

	s.mu.Lock()
	current, exists := s.players[key]
	var next *models.Player
	if exists {
		next = current.Clone()
	} else {
		next = &models.Player{SessionID: sessionID, Identity: identity, Answers: []models.Answer{}}
	}
	if err := mutate(next, !exists); err != nil {
		s.mu.Unlock()
		if errors.Is(err, store.ErrNoChange) && exists {
			return current.Clone(), nil
		}
		return nil, err
	}
	next.SessionID = sessionID
	next.Identity = identity
	s.players[key] = next
	if !exists {
		s.roster[sessionID] = append(s.roster[sessionID], identity)
	}
	out := next.Clone()
	s.mu.Unlock()

	s.refreshPlayers(sessionID)
	return out, nil
}

func (s *Store) ListPlayers(ctx context.Context, sessionID uuid.UUID) ([]*models.Player, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.Unavailable("list players", err)
	}
	return s.loadPlayers(sessionID)
}

func (s *Store) SubscribeSession(ctx context.Context, id uuid.UUID) (*store.Stream[*models.Session], error) {
	return s.hub.SubscribeSession(ctx, id, func() (*models.Session, error) { return s.loadSession(id) })
}

func (s *Store) SubscribePlayers(ctx context.Context, sessionID uuid.UUID) (*store.Stream[[]*models.Player], error) {
	return s.hub.SubscribePlayers(ctx, sessionID, func() ([]*models.Player, error) { return s.loadPlayers(sessionID) })
}

func (s *Store) NextExpiry(ctx context.Context) (*time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.Unavailable("next expiry", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var next *time.Time
	for _, session := range s.sessions {
		if session.Status != models.SessionStatusWaiting || session.ExpiresAt == nil {
			continue
		}
		if next == nil || session.ExpiresAt.Before(*next) {
			t := *session.ExpiresAt
			next = &t
		}
	}
	return next, nil
}

func (s *Store) ListExpiredSessions(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.Unavailable("list expired sessions", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*models.Session
	for _, session := range s.sessions {
		if session.ExpiredAt(now) {
			due = append(due, session)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ExpiresAt.Before(*due[j].ExpiresAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	ids := make([]uuid.UUID, len(due))
	for i, session := range due {
		ids[i] = session.ID
	}
	return ids, nil
}

func (s *Store) Close() error {
	s.hub.Close()
	return nil
}

func (s *Store) loadSession(id uuid.UUID) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return session.Clone(), nil
}

func (s *Store) loadPlayers(sessionID uuid.UUID) ([]*models.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	identities := s.roster[sessionID]
	out := make([]*models.Player, 0, len(identities))
	for _, identity := range identities {
		out = append(out, s.players[playerKey{sessionID: sessionID, identity: identity}].Clone())
	}
	return out, nil
}

func (s *Store) refreshSession(id uuid.UUID) {
	_ = s.hub.RefreshSession(id, func() (*models.Session, error) { return s.loadSession(id) })
}

func (s *Store) refreshPlayers(sessionID uuid.UUID) {
	_ = s.hub.RefreshPlayers(sessionID, func() ([]*models.Player, error) { return s.loadPlayers(sessionID) })
}
