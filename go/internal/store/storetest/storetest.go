// Package storetest holds behaviour every store.Store adapter must share.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/livequiz/go/internal/models"
	"github.com/mcdev12/livequiz/go/internal/store"
)

// T0 is the reference instant fixtures are built around.
var T0 = time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)

// NewSession returns a Waiting session with a two question quiz created at created.
func NewSession(pin string, created time.Time) *models.Session {
	expires := created.Add(10 * time.Minute)
	return &models.Session{
		ID:     uuid.New(),
		Pin:    pin,
		Status: models.SessionStatusWaiting,
		Quiz: models.Quiz{
			ID:    "capitals",
			Title: "Capitals",
			Questions: []models.Question{
				{Text: "Capital of France?", Options: []string{"Paris", "Lyon", "Nice", "Lille"}, CorrectAnswerIndex: 0, TimeLimitSec: 20},
				{Text: "Capital of Peru?", Options: []string{"Cusco", "Lima", "Arequipa", "Puno"}, CorrectAnswerIndex: 1, TimeLimitSec: 15},
			},
		},
		HostIdentity: "host-1",
		CreatedAt:    created,
		ExpiresAt:    &expires,
		UpdatedAt:    created,
	}
}

// Run exercises open against the shared adapter contract. open must return
// an empty store; Run closes it.
func Run(t *testing.T, open func(t *testing.T) store.Store) {
	t.Run("PinUniqueAmongLiveSessions", func(t *testing.T) { testPinUnique(t, open(t)) })
	t.Run("UpdateSession", func(t *testing.T) { testUpdateSession(t, open(t)) })
	t.Run("ActiveSessionsByHost", func(t *testing.T) { testActiveSessionsByHost(t, open(t)) })
	t.Run("UpsertPlayer", func(t *testing.T) { testUpsertPlayer(t, open(t)) })
	t.Run("ConcurrentUpserts", func(t *testing.T) { testConcurrentUpserts(t, open(t)) })
	t.Run("Subscriptions", func(t *testing.T) { testSubscriptions(t, open(t)) })
	t.Run("Expiry", func(t *testing.T) { testExpiry(t, open(t)) })
}

func testPinUnique(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	first := NewSession("482913", T0)
	if err := s.CreateSession(ctx, first); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := s.CreateSession(ctx, NewSession("482913", T0.Add(time.Minute))); !errors.Is(err, store.ErrPinTaken) {
		t.Fatalf("err = %v, want ErrPinTaken", err)
	}

	reuse := NewSession("482913", T0.Add(11*time.Minute))
	if err := s.CreateSession(ctx, reuse); err != nil {
		t.Fatalf("CreateSession after expiry: %v", err)
	}
	got, err := s.GetSessionByPin(ctx, "482913")
	if err != nil {
		t.Fatalf("GetSessionByPin: %v", err)
	}
	if got.ID != reuse.ID {
		t.Fatalf("GetSessionByPin returned %s, want the new holder %s", got.ID, reuse.ID)
	}
	if len(got.Quiz.Questions) != 2 || got.Quiz.Questions[1].Options[1] != "Lima" {
		t.Fatalf("quiz snapshot not preserved: %+v", got.Quiz)
	}

	if _, err := s.GetSessionByPin(ctx, "111111"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if _, err := s.GetSession(ctx, uuid.New()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func testUpdateSession(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	session := NewSession("482913", T0)
	if err := s.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	boom := errors.New("boom")
	if _, err := s.UpdateSession(ctx, session.ID, func(sess *models.Session) error {
		sess.Status = models.SessionStatusFinished
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	got, err := s.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != models.SessionStatusWaiting {
		t.Fatalf("status = %q after aborted update", got.Status)
	}

	start := T0.Add(time.Minute)
	updated, err := s.UpdateSession(ctx, session.ID, func(sess *models.Session) error {
		sess.Status = models.SessionStatusPlaying
		sess.QuestionStartTime = &start
		sess.QuestionDurationSec = 20
		sess.QuestionPlayerCount = 3
		sess.ExpiresAt = nil
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	if updated.Status != models.SessionStatusPlaying || updated.QuestionPlayerCount != 3 {
		t.Fatalf("updated = %+v", updated)
	}
	got, _ = s.GetSession(ctx, session.ID)
	if got.QuestionStartTime == nil || !got.QuestionStartTime.Equal(start) || got.ExpiresAt != nil {
		t.Fatalf("stored session = %+v", got)
	}

	same, err := s.UpdateSession(ctx, session.ID, func(*models.Session) error { return store.ErrNoChange })
	if err != nil || same.Status != models.SessionStatusPlaying {
		t.Fatalf("ErrNoChange update = %+v, %v", same, err)
	}

	if _, err := s.UpdateSession(ctx, uuid.New(), func(*models.Session) error { return nil }); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func testActiveSessionsByHost(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	older := NewSession("111111", T0)
	newer := NewSession("222222", T0.Add(time.Minute))
	done := NewSession("333333", T0.Add(2*time.Minute))
	other := NewSession("444444", T0.Add(3*time.Minute))
	other.HostIdentity = "host-2"
	for _, session := range []*models.Session{older, newer, done, other} {
		if err := s.CreateSession(ctx, session); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
	}
	if _, err := s.UpdateSession(ctx, done.ID, func(sess *models.Session) error {
		sess.Status = models.SessionStatusFinished
		return nil
	}); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}

	got, err := s.ListActiveSessionsByHost(ctx, "host-1")
	if err != nil {
		t.Fatalf("ListActiveSessionsByHost: %v", err)
	}
	if len(got) != 2 || got[0].ID != newer.ID || got[1].ID != older.ID {
		t.Fatalf("active sessions = %d, want newer then older", len(got))
	}

	none, err := s.ListActiveSessionsByHost(ctx, "host-3")
	if err != nil || len(none) != 0 {
		t.Fatalf("unknown host = %d sessions, %v", len(none), err)
	}
}

func testUpsertPlayer(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	session := NewSession("482913", T0)
	if err := s.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	join := func(name string, at time.Time) (bool, *models.Player) {
		var created bool
		p, err := s.UpsertPlayer(ctx, session.ID, "anon-1", func(p *models.Player, isNew bool) error {
			created = isNew
			p.SessionPin = session.Pin
			p.DisplayName = name
			if isNew {
				p.JoinedAt = at
			}
			p.UpdatedAt = at
			return nil
		})
		if err != nil {
			t.Fatalf("UpsertPlayer: %v", err)
		}
		return created, p
	}

	created, _ := join("Ada", T0)
	if !created {
		t.Fatal("first join should create the record")
	}

	answeredAt := T0.Add(2 * time.Minute)
	if _, err := s.UpsertPlayer(ctx, session.ID, "anon-1", func(p *models.Player, isNew bool) error {
		answer, timeLeft := 0, 15
		p.Answers = append(p.Answers, models.Answer{QuestionIndex: 0, AnswerIndex: 0, TimeLeftSec: 15, IsCorrect: true, PointsEarned: 1375, AnsweredAt: answeredAt})
		p.Score += 1375
		p.LastAnswer, p.LastAnswerTime = &answer, &timeLeft
		return nil
	}); err != nil {
		t.Fatalf("record answer: %v", err)
	}

	created, p := join("Ada L.", T0.Add(3*time.Minute))
	if created {
		t.Fatal("rejoin must not create a second record")
	}
	if p.Score != 1375 || len(p.Answers) != 1 || p.DisplayName != "Ada L." {
		t.Fatalf("rejoined player = %+v", p)
	}
	if p.LastAnswer == nil || *p.LastAnswer != 0 || p.LastAnswerTime == nil || *p.LastAnswerTime != 15 {
		t.Fatalf("last answer = %v/%v", p.LastAnswer, p.LastAnswerTime)
	}
	if !p.JoinedAt.Equal(T0) {
		t.Fatalf("joinedAt = %v, want %v", p.JoinedAt, T0)
	}

	players, err := s.ListPlayers(ctx, session.ID)
	if err != nil {
		t.Fatalf("ListPlayers: %v", err)
	}
	if len(players) != 1 {
		t.Fatalf("got %d players, want 1", len(players))
	}
}

func testConcurrentUpserts(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	session := NewSession("482913", T0)
	if err := s.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	const writers = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		creates int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var created bool
			_, err := s.UpsertPlayer(ctx, session.ID, "anon-1", func(p *models.Player, isNew bool) error {
				created = isNew
				p.DisplayName = "Ada"
				p.JoinedAt = T0
				p.UpdatedAt = T0
				return nil
			})
			if err != nil {
				t.Errorf("UpsertPlayer: %v", err)
				return
			}
			if created {
				mu.Lock()
				creates++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if creates != 1 {
		t.Fatalf("record created %d times, want 1", creates)
	}
	players, err := s.ListPlayers(ctx, session.ID)
	if err != nil {
		t.Fatalf("ListPlayers: %v", err)
	}
	if len(players) != 1 {
		t.Fatalf("got %d players, want 1", len(players))
	}
}

func testSubscriptions(t *testing.T, s store.Store) {
	defer s.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := NewSession("482913", T0)
	if err := s.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	sessions, err := s.SubscribeSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("SubscribeSession: %v", err)
	}
	players, err := s.SubscribePlayers(ctx, session.ID)
	if err != nil {
		t.Fatalf("SubscribePlayers: %v", err)
	}

	if got := Next(t, sessions.Changes()); got.Status != models.SessionStatusWaiting {
		t.Fatalf("initial status = %q", got.Status)
	}
	if got := Next(t, players.Changes()); len(got) != 0 {
		t.Fatalf("initial roster = %d players", len(got))
	}

	if _, err := s.UpsertPlayer(ctx, session.ID, "anon-1", func(p *models.Player, _ bool) error {
		p.DisplayName = "Ada"
		p.JoinedAt = T0
		p.UpdatedAt = T0
		return nil
	}); err != nil {
		t.Fatalf("UpsertPlayer: %v", err)
	}
	if got := Next(t, players.Changes()); len(got) != 1 || got[0].DisplayName != "Ada" {
		t.Fatalf("roster after join = %+v", got)
	}

	if _, err := s.UpdateSession(ctx, session.ID, func(sess *models.Session) error {
		sess.Status = models.SessionStatusFinished
		return nil
	}); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	if got := Next(t, sessions.Changes()); got.Status != models.SessionStatusFinished {
		t.Fatalf("status after update = %q", got.Status)
	}

	_ = sessions.Close()
	cancel()
	select {
	case <-players.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("player stream not released after context cancel")
	}
	if _, ok := <-sessions.Changes(); ok {
		t.Fatal("closed stream still delivering")
	}
}

func testExpiry(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	a := NewSession("111111", T0)
	b := NewSession("222222", T0.Add(time.Minute))
	for _, sess := range []*models.Session{a, b} {
		if err := s.CreateSession(ctx, sess); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
	}

	next, err := s.NextExpiry(ctx)
	if err != nil {
		t.Fatalf("NextExpiry: %v", err)
	}
	if next == nil || !next.Equal(*a.ExpiresAt) {
		t.Fatalf("NextExpiry = %v, want %v", next, a.ExpiresAt)
	}

	due, err := s.ListExpiredSessions(ctx, T0.Add(10*time.Minute+time.Second), 10)
	if err != nil {
		t.Fatalf("ListExpiredSessions: %v", err)
	}
	if len(due) != 1 || due[0] != a.ID {
		t.Fatalf("due = %v, want [%s]", due, a.ID)
	}
}

// Next waits for the next value on ch.
func Next[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatal("stream closed")
		}
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream value")
	}
	var zero T
	return zero
}
