package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/livequiz/go/internal/events"
	"github.com/mcdev12/livequiz/go/internal/identity"
	"github.com/mcdev12/livequiz/go/internal/models"
	"github.com/mcdev12/livequiz/go/internal/player"
	"github.com/mcdev12/livequiz/go/internal/session"
	"github.com/mcdev12/livequiz/go/internal/store/memory"
	"github.com/mcdev12/livequiz/go/internal/store/storetest"
)

type testEnv struct {
	sessions *session.App
	players  *player.App
	cm       *ConnectionManager
	server   *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := memory.New()
	t.Cleanup(func() { st.Close() })
	clock := clockwork.NewFakeClockAt(storetest.T0)

	cm := NewConnectionManager(DefaultConnectionConfig(), clock.Now)
	sessions := session.NewApp(st, session.NewPinAllocator(st, 0), nil, cm, clock, session.DefaultRules())
	players := player.NewApp(st, sessions, cm)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	svc, err := NewService(ctx, DefaultConfig(), cm, sessions, players)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	go svc.Start(ctx)

	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &testEnv{sessions: sessions, players: players, cm: cm, server: server}
}

func (e *testEnv) create(t *testing.T) *models.Session {
	t.Helper()
	ctx := identity.WithIdentity(context.Background(), identity.Identity{ID: "host-1", Name: "Quizmaster"})
	s, err := e.sessions.CreateSession(ctx, session.CreateSessionRequest{Quiz: &models.Quiz{
		Title: "Capitals",
		Questions: []models.Question{
			{Text: "Capital of France?", Options: []string{"Paris", "Lyon", "Nice", "Lille"}, CorrectAnswerIndex: 0, TimeLimitSec: 20},
		},
	}})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return s
}

func (e *testEnv) dial(t *testing.T, pin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws/session?pin=" + pin
	return websocket.DefaultDialer.Dial(url, nil)
}

// readUntil reads frames until match accepts one.
func readUntil(t *testing.T, conn *websocket.Conn, match func(Frame) bool) Frame {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		conn.SetReadDeadline(deadline)
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("ReadJSON: %v", err)
		}
		if match(frame) {
			return frame
		}
	}
}

func waitForConnections(t *testing.T, cm *ConnectionManager, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for cm.Stats().TotalConnections != want {
		if time.Now().After(deadline) {
			t.Fatalf("connections = %d, want %d", cm.Stats().TotalConnections, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSessionSocketPushesStateAndEvents(t *testing.T) {
	env := newTestEnv(t)
	s := env.create(t)

	conn, _, err := env.dial(t, s.Pin)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	first := readUntil(t, conn, func(f Frame) bool { return f.Type == FrameState })
	if first.Session.Status != models.SessionStatusWaiting || first.Session.Pin != s.Pin {
		t.Fatalf("initial state = %+v", first.Session)
	}
	if len(first.Players) != 0 {
		t.Fatalf("initial players = %v", first.Players)
	}
	if first.Session.Question != nil {
		t.Fatal("lobby state must not carry a question")
	}

	playerCtx := identity.WithIdentity(context.Background(), identity.Identity{ID: "anon-1", Anonymous: true})
	if _, err := env.players.Join(playerCtx, player.JoinRequest{Pin: s.Pin, DisplayName: "Ada"}); err != nil {
		t.Fatalf("Join: %v", err)
	}

	var joined *events.Event
	var leaderboard []player.View
	readUntil(t, conn, func(f Frame) bool {
		switch {
		case f.Type == FrameEvent:
			joined = f.Event
		case f.Type == FrameState && len(f.Players) == 1:
			leaderboard = f.Players
		}
		return joined != nil && leaderboard != nil
	})
	if joined.Type != events.TypePlayerJoined || joined.SessionID != s.ID {
		t.Fatalf("event = %+v", joined)
	}
	if leaderboard[0].DisplayName != "Ada" || leaderboard[0].Rank != 1 {
		t.Fatalf("leaderboard = %+v", leaderboard)
	}

	waitForConnections(t, env.cm, 1)
	stats := env.cm.Stats()
	if stats.ActiveSessions != 1 || stats.SessionConnections[s.ID.String()] != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	conn.Close()
	waitForConnections(t, env.cm, 0)
}

func TestSessionSocketUnknownPin(t *testing.T) {
	env := newTestEnv(t)

	_, resp, err := env.dial(t, "123456")
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("response = %v, want 404", resp)
	}

	res, err := http.Get(env.server.URL + "/ws/session")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing pin status = %d", res.StatusCode)
	}
}

func TestSessionStateEndpoint(t *testing.T) {
	env := newTestEnv(t)
	s := env.create(t)

	res, err := http.Get(env.server.URL + "/api/sessions/state?pin=" + s.Pin)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}

	var frame Frame
	if err := json.NewDecoder(res.Body).Decode(&frame); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if frame.Type != FrameState || frame.Session.ID != s.ID.String() || frame.Session.QuestionCount != 1 {
		t.Fatalf("frame = %+v", frame)
	}
	if !frame.ServerTime.Equal(storetest.T0) {
		t.Fatalf("server time = %v, want %v", frame.ServerTime, storetest.T0)
	}
}

func TestEventConsumerRejectsMalformedEvents(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig(), nil)
	ec := &EventConsumer{connectionManager: cm}

	for _, data := range []string{`not json`, `{"event_type":"PlayerJoined"}`, `{"session_id":"` + uuid.NewString() + `"}`} {
		if err := ec.processMessage([]byte(data)); !errors.Is(err, errMalformedEvent) {
			t.Fatalf("processMessage(%s) = %v, want malformed", data, err)
		}
	}

	event := events.Event{ID: uuid.New(), Type: events.TypeGameStarted, SessionID: uuid.New(), Payload: json.RawMessage(`{}`)}
	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if err := ec.processMessage(data); err != nil {
		t.Fatalf("processMessage(valid): %v", err)
	}
	select {
	case got := <-cm.broadcastCh:
		if got.ID != event.ID {
			t.Fatalf("broadcast %v, want %v", got.ID, event.ID)
		}
	default:
		t.Fatal("valid event was not queued for broadcast")
	}
}
