package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/livequiz/go/internal/events"
	"github.com/rs/zerolog/log"
)

// ConnectionManager tracks websocket clients per session and fans frames out to them.
type ConnectionManager struct {
	sessionConnections map[uuid.UUID]map[*Connection]bool
	mu                 sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan events.Event
	now         func() time.Time
}

// Connection is one websocket client watching a session.
type Connection struct {
	ID        string
	Identity  string
	SessionID uuid.UUID
	Conn      *websocket.Conn
	Manager   *ConnectionManager

	ConnectedAt time.Time

	send   chan []byte
	mu     sync.Mutex
	closed bool
	cancel context.CancelFunc
}

// ConnectionConfig holds configuration for websocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns the default websocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      64,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a connection manager. now stamps event frames.
func NewConnectionManager(config ConnectionConfig, now func() time.Time) *ConnectionManager {
	if now == nil {
		now = time.Now
	}
	return &ConnectionManager{
		sessionConnections: make(map[uuid.UUID]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan events.Event, 1000),
		now:         now,
	}
}

// Start processes broadcast events until ctx is done.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case event := <-cm.broadcastCh:
			cm.handleBroadcast(event)
		}
	}
}

// Upgrade upgrades an HTTP request to a websocket registered under sessionID.
// The returned connection's context is cancelled once the socket closes.
func (cm *ConnectionManager) Upgrade(w http.ResponseWriter, r *http.Request, identity string, sessionID uuid.UUID) (context.Context, *Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	connection := &Connection{
		ID:          uuid.New().String(),
		Identity:    identity,
		SessionID:   sessionID,
		Conn:        conn,
		Manager:     cm,
		ConnectedAt: time.Now(),
		send:        make(chan []byte, cm.config.SendBuffer),
		cancel:      cancel,
	}

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("identity", identity).
		Str("session_id", sessionID.String()).
		Msg("websocket connection established")

	return ctx, connection, nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.sessionConnections[conn.SessionID] == nil {
		cm.sessionConnections[conn.SessionID] = make(map[*Connection]bool)
	}
	cm.sessionConnections[conn.SessionID][conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("session_id", conn.SessionID.String()).
		Int("total_connections", len(cm.sessionConnections[conn.SessionID])).
		Msg("connection registered")
}

func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	connections, exists := cm.sessionConnections[conn.SessionID]
	if exists {
		delete(connections, conn)
		if len(connections) == 0 {
			delete(cm.sessionConnections, conn.SessionID)
		}
	}
	cm.mu.Unlock()

	if conn.close() {
		log.Info().
			Str("connection_id", conn.ID).
			Str("identity", conn.Identity).
			Str("session_id", conn.SessionID.String()).
			Msg("connection unregistered")
	}
}

// BroadcastEvent queues event for every connection watching its session.
func (cm *ConnectionManager) BroadcastEvent(event events.Event) {
	select {
	case cm.broadcastCh <- event:
	default:
		log.Warn().Str("session_id", event.SessionID.String()).Msg("broadcast channel full, dropping event")
	}
}

var _ events.Publisher = (*ConnectionManager)(nil)

// Publish broadcasts event in-process. It never fails.
func (cm *ConnectionManager) Publish(_ context.Context, event events.Event) error {
	cm.BroadcastEvent(event)
	return nil
}

func (cm *ConnectionManager) handleBroadcast(event events.Event) {
	cm.mu.RLock()
	var targets []*Connection
	for conn := range cm.sessionConnections[event.SessionID] {
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	data, err := json.Marshal(eventFrame(event, cm.now()))
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event frame")
		return
	}

	for _, conn := range targets {
		conn.enqueue(data)
	}

	log.Debug().
		Str("event_type", string(event.Type)).
		Str("session_id", event.SessionID.String()).
		Int("connections", len(targets)).
		Msg("event broadcasted")
}

// Stats summarizes the active connections.
type Stats struct {
	TotalConnections   int            `json:"total_connections"`
	ActiveSessions     int            `json:"active_sessions"`
	SessionConnections map[string]int `json:"session_connections"`
}

// Stats returns statistics about active connections.
func (cm *ConnectionManager) Stats() Stats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := Stats{SessionConnections: make(map[string]int, len(cm.sessionConnections))}
	for sessionID, connections := range cm.sessionConnections {
		stats.TotalConnections += len(connections)
		stats.SessionConnections[sessionID.String()] = len(connections)
	}
	stats.ActiveSessions = len(cm.sessionConnections)
	return stats
}

// Send marshals frame and queues it for the client.
func (c *Connection) Send(frame Frame) bool {
	data, err := json.Marshal(frame)
	if err != nil {
		log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to marshal frame")
		return false
	}
	return c.enqueue(data)
}

// enqueue drops a client whose buffer is full.
func (c *Connection) enqueue(data []byte) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	select {
	case c.send <- data:
		c.mu.Unlock()
		return true
	default:
	}
	c.mu.Unlock()

	log.Warn().
		Str("connection_id", c.ID).
		Str("identity", c.Identity).
		Msg("connection send buffer full, closing connection")
	c.Manager.unregisterConnection(c)
	return false
}

func (c *Connection) close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.send)
	c.cancel()
	return true
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to websocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump only services control frames; clients have nothing to say.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected websocket close error")
			}
			return
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
