package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/mcdev12/livequiz/go/internal/models"
	"github.com/mcdev12/livequiz/go/internal/player"
	"github.com/mcdev12/livequiz/go/internal/session"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler serves the session websocket and the state endpoints.
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	sessions          *session.App
	players           *player.App
}

// NewWebSocketHandler creates a websocket handler.
func NewWebSocketHandler(cm *ConnectionManager, sessions *session.App, players *player.App) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		sessions:          sessions,
		players:           players,
	}
}

// HandleSessionConnection upgrades a client watching the session behind ?pin=.
func (h *WebSocketHandler) HandleSessionConnection(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}

	identity := r.URL.Query().Get("identity")
	if identity == "" {
		identity = "anonymous"
	}

	ctx, conn, err := h.connectionManager.Upgrade(w, r, identity, s.ID)
	if err != nil {
		// The upgrader has already replied to the client.
		log.Error().
			Err(err).
			Str("session_id", s.ID.String()).
			Str("identity", identity).
			Msg("failed to upgrade websocket connection")
		return
	}

	go h.pushState(ctx, conn, s.ID)
}

// pushState writes a state frame whenever the session or its players change.
func (h *WebSocketHandler) pushState(ctx context.Context, conn *Connection, sessionID uuid.UUID) {
	defer h.connectionManager.unregisterConnection(conn)

	sessionSub, err := h.sessions.WatchSession(ctx, sessionID)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID.String()).Msg("failed to watch session")
		return
	}
	defer sessionSub.Close()

	playerSub, err := h.players.WatchPlayers(ctx, sessionID)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID.String()).Msg("failed to watch players")
		return
	}
	defer playerSub.Close()

	var (
		current *models.Session
		players []player.View
	)
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-sessionSub.Changes():
			if !ok {
				return
			}
			current = s
		case list, ok := <-playerSub.Changes():
			if !ok {
				return
			}
			players = player.Leaderboard(list)
		}
		if current == nil {
			continue
		}
		if !conn.Send(stateFrame(session.NewView(current, h.sessions.Now()), players)) {
			return
		}
	}
}

// HandleSessionState returns the current state frame for ?pin= as plain JSON.
func (h *WebSocketHandler) HandleSessionState(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	list, err := h.players.ListPlayers(r.Context(), s.ID)
	if err != nil {
		log.Error().Err(err).Str("session_id", s.ID.String()).Msg("failed to list players")
		http.Error(w, "failed to load players", http.StatusInternalServerError)
		return
	}
	writeJSON(w, stateFrame(session.NewView(s, h.sessions.Now()), player.Leaderboard(list)))
}

// HandleConnectionStats returns statistics about active connections.
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.connectionManager.Stats())
}

func (h *WebSocketHandler) lookup(w http.ResponseWriter, r *http.Request) (*models.Session, bool) {
	pin := r.URL.Query().Get("pin")
	if pin == "" {
		http.Error(w, "pin is required", http.StatusBadRequest)
		return nil, false
	}
	s, err := h.sessions.GetSessionByPin(r.Context(), pin)
	if err != nil {
		if session.IsNotFound(err) {
			http.Error(w, "session not found", http.StatusNotFound)
			return nil, false
		}
		log.Error().Err(err).Str("pin", pin).Msg("failed to look up session")
		http.Error(w, "failed to look up session", http.StatusInternalServerError)
		return nil, false
	}
	return s, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write JSON response")
	}
}

// RegisterRoutes registers the gateway routes with mux.
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/session", h.HandleSessionConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
	mux.HandleFunc("/api/sessions/state", h.HandleSessionState)
}
