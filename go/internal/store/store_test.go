package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/livequiz/go/internal/models"
)

var t0 = time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)

func testSession() *models.Session {
	expires := t0.Add(10 * time.Minute)
	return &models.Session{
		ID:     uuid.New(),
		Pin:    "482913",
		Status: models.SessionStatusWaiting,
		Quiz: models.Quiz{
			ID:    "capitals",
			Title: "Capitals",
			Questions: []models.Question{
				{Text: "Capital of France?", Options: []string{"Paris", "Lyon", "Nice", "Lille"}, CorrectAnswerIndex: 0, TimeLimitSec: 20},
			},
		},
		HostIdentity: "host-1",
		CreatedAt:    t0,
		ExpiresAt:    &expires,
		UpdatedAt:    t0,
	}
}

func TestStreamCoalescesToLatest(t *testing.T) {
	s := NewStream[int](context.Background(), nil)
	for i := 1; i <= 5; i++ {
		if !s.Publish(i) {
			t.Fatalf("Publish(%d) returned false", i)
		}
	}
	if got := <-s.Changes(); got != 5 {
		t.Fatalf("got %d, want latest 5", got)
	}
	s.Publish(6)
	if got := <-s.Changes(); got != 6 {
		t.Fatalf("got %d, want 6", got)
	}
}

func TestStreamCloseIsIdempotentAndReleases(t *testing.T) {
	released := 0
	s := NewStream[int](context.Background(), func() { released++ })
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if released != 1 {
		t.Fatalf("onClose ran %d times, want 1", released)
	}
	if s.Publish(1) {
		t.Fatal("Publish after Close should fail")
	}
	if _, ok := <-s.Changes(); ok {
		t.Fatal("Changes should be closed")
	}
}

func TestStreamClosesWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewStream[int](ctx, nil)
	cancel()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stream not released after context cancel")
	}
}

func TestHubDeliversInitialSnapshotAndUpdates(t *testing.T) {
	hub := NewHub()
	current := testSession()

	sub, err := hub.SubscribeSession(context.Background(), current.ID, func() (*models.Session, error) {
		return current, nil
	})
	if err != nil {
		t.Fatalf("SubscribeSession: %v", err)
	}
	defer sub.Close()

	first := <-sub.Changes()
	if first.Status != models.SessionStatusWaiting {
		t.Fatalf("initial status = %q", first.Status)
	}

	current.Status = models.SessionStatusPlaying
	if err := hub.RefreshSession(current.ID, func() (*models.Session, error) { return current, nil }); err != nil {
		t.Fatalf("RefreshSession: %v", err)
	}
	if got := <-sub.Changes(); got.Status != models.SessionStatusPlaying {
		t.Fatalf("updated status = %q", got.Status)
	}

	// Subscribers get copies.
	current.Status = models.SessionStatusFinished
	if first.Status != models.SessionStatusWaiting {
		t.Fatal("published snapshot aliases the source")
	}
}

func TestHubUnsubscribeStopsRefreshLoads(t *testing.T) {
	hub := NewHub()
	id := uuid.New()
	sub, err := hub.SubscribePlayers(context.Background(), id, func() ([]*models.Player, error) { return nil, nil })
	if err != nil {
		t.Fatalf("SubscribePlayers: %v", err)
	}
	if len(hub.PlayerTopics()) != 1 {
		t.Fatal("expected one player topic")
	}
	sub.Close()
	if len(hub.PlayerTopics()) != 0 {
		t.Fatal("topic not removed after Close")
	}

	loads := 0
	if err := hub.RefreshPlayers(id, func() ([]*models.Player, error) { loads++; return nil, nil }); err != nil {
		t.Fatalf("RefreshPlayers: %v", err)
	}
	if loads != 0 {
		t.Fatal("refresh loaded with no subscribers")
	}
}

func TestHubSubscribeLoadError(t *testing.T) {
	hub := NewHub()
	_, err := hub.SubscribeSession(context.Background(), uuid.New(), func() (*models.Session, error) {
		return nil, ErrNotFound
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if len(hub.SessionTopics()) != 0 {
		t.Fatal("failed subscription left a topic behind")
	}
}

func TestDecodeSessionRejectsMalformedRows(t *testing.T) {
	row, err := EncodeSession(testSession())
	if err != nil {
		t.Fatalf("EncodeSession: %v", err)
	}
	if _, err := DecodeSession(row); err != nil {
		t.Fatalf("DecodeSession(valid): %v", err)
	}

	tests := []struct {
		name   string
		mutate func(r *SessionRow)
	}{
		{"unknown status", func(r *SessionRow) { r.Status = "paused" }},
		{"short pin", func(r *SessionRow) { r.Pin = "12345" }},
		{"leading zero pin", func(r *SessionRow) { r.Pin = "012345" }},
		{"bad id", func(r *SessionRow) { r.ID = "not-a-uuid" }},
		{"unknown quiz field", func(r *SessionRow) { r.Quiz = []byte(`{"title":"x","questions":[],"secret":1}`) }},
		{"quiz without questions", func(r *SessionRow) { r.Quiz = []byte(`{"title":"x","questions":[]}`) }},
		{"index past quiz", func(r *SessionRow) { r.CurrentQuestionIndex = 3 }},
		{"playing without start", func(r *SessionRow) { r.Status = "playing" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bad := row
			tt.mutate(&bad)
			_, err := DecodeSession(bad)
			if !IsDeserialization(err) {
				t.Fatalf("err = %v, want DeserializationError", err)
			}
		})
	}
}

func TestDecodePlayerChecksScoreInvariant(t *testing.T) {
	p := &models.Player{
		SessionID:   uuid.New(),
		SessionPin:  "482913",
		Identity:    "anon-1",
		DisplayName: "Ada",
		Score:       1375,
		Answers: []models.Answer{
			{QuestionIndex: 0, AnswerIndex: 0, TimeLeftSec: 15, IsCorrect: true, PointsEarned: 1375, AnsweredAt: t0},
		},
		JoinedAt:  t0,
		UpdatedAt: t0,
	}
	row, err := EncodePlayer(p)
	if err != nil {
		t.Fatalf("EncodePlayer: %v", err)
	}
	if _, err := DecodePlayer(row); err != nil {
		t.Fatalf("DecodePlayer(valid): %v", err)
	}

	bad := row
	bad.Score = 2000
	if _, err := DecodePlayer(bad); !IsDeserialization(err) {
		t.Fatalf("score mismatch err = %v", err)
	}

	bad = row
	bad.Answers = []byte(`[{"question_index":0,"points_earned":0},{"question_index":0,"points_earned":0}]`)
	bad.Score = 0
	if _, err := DecodePlayer(bad); !IsDeserialization(err) {
		t.Fatalf("duplicate answer err = %v", err)
	}

	bad = row
	bad.LastAnswer = []byte(`{"answer_index":"two"}`)
	if _, err := DecodePlayer(bad); !IsDeserialization(err) {
		t.Fatalf("bad last answer err = %v", err)
	}
}
