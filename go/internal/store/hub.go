package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/mcdev12/livequiz/go/internal/models"
)

// Hub fans committed snapshots out to in-process subscribers. Adapters call
// the Refresh methods after every committed write; loads and publishes run
// under one lock so subscribers never see an older snapshot after a newer one.
type Hub struct {
	mu       sync.Mutex
	nextID   uint64
	sessions map[uuid.UUID]map[uint64]*Stream[*models.Session]
	players  map[uuid.UUID]map[uint64]*Stream[[]*models.Player]
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{
		sessions: make(map[uuid.UUID]map[uint64]*Stream[*models.Session]),
		players:  make(map[uuid.UUID]map[uint64]*Stream[[]*models.Player]),
	}
}

// SubscribeSession registers a stream for id and seeds it with load's result.
func (h *Hub) SubscribeSession(ctx context.Context, id uuid.UUID, load func() (*models.Session, error)) (*Stream[*models.Session], error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, err := load()
	if err != nil {
		return nil, err
	}

	h.nextID++
	subID := h.nextID
	stream := NewStream[*models.Session](ctx, func() { h.removeSession(id, subID) })
	if h.sessions[id] == nil {
		h.sessions[id] = make(map[uint64]*Stream[*models.Session])
	}
	h.sessions[id][subID] = stream
	stream.Publish(s.Clone())
	return stream, nil
}

// SubscribePlayers registers a stream for the players of sessionID and seeds it.
func (h *Hub) SubscribePlayers(ctx context.Context, sessionID uuid.UUID, load func() ([]*models.Player, error)) (*Stream[[]*models.Player], error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	players, err := load()
	if err != nil {
		return nil, err
	}

	h.nextID++
	subID := h.nextID
	stream := NewStream[[]*models.Player](ctx, func() { h.removePlayers(sessionID, subID) })
	if h.players[sessionID] == nil {
		h.players[sessionID] = make(map[uint64]*Stream[[]*models.Player])
	}
	h.players[sessionID][subID] = stream
	stream.Publish(clonePlayers(players))
	return stream, nil
}

// RefreshSession reloads id and publishes it when anyone is subscribed.
func (h *Hub) RefreshSession(id uuid.UUID, load func() (*models.Session, error)) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.sessions[id]
	if len(subs) == 0 {
		return nil
	}
	s, err := load()
	if err != nil {
		return err
	}
	for _, stream := range subs {
		stream.Publish(s.Clone())
	}
	return nil
}

// RefreshPlayers reloads the players of sessionID and publishes them when anyone is subscribed.
func (h *Hub) RefreshPlayers(sessionID uuid.UUID, load func() ([]*models.Player, error)) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.players[sessionID]
	if len(subs) == 0 {
		return nil
	}
	players, err := load()
	if err != nil {
		return err
	}
	for _, stream := range subs {
		stream.Publish(clonePlayers(players))
	}
	return nil
}

// SessionTopics returns the session ids that currently have subscribers.
func (h *Hub) SessionTopics() []uuid.UUID {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	return ids
}

// PlayerTopics returns the session ids whose players currently have subscribers.
func (h *Hub) PlayerTopics() []uuid.UUID {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(h.players))
	for id := range h.players {
		ids = append(ids, id)
	}
	return ids
}

// Close releases every open stream.
func (h *Hub) Close() {
	h.mu.Lock()
	var streams []interface{ Close() error }
	for _, subs := range h.sessions {
		for _, s := range subs {
			streams = append(streams, s)
		}
	}
	for _, subs := range h.players {
		for _, s := range subs {
			streams = append(streams, s)
		}
	}
	h.mu.Unlock()

	for _, s := range streams {
		_ = s.Close()
	}
}

func (h *Hub) removeSession(id uuid.UUID, subID uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions[id], subID)
	if len(h.sessions[id]) == 0 {
		delete(h.sessions, id)
	}
}

func (h *Hub) removePlayers(sessionID uuid.UUID, subID uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.players[sessionID], subID)
	if len(h.players[sessionID]) == 0 {
		delete(h.players, sessionID)
	}
}

func clonePlayers(players []*models.Player) []*models.Player {
	out := make([]*models.Player, len(players))
	for i, p := range players {
		out[i] = p.Clone()
	}
	return out
}
