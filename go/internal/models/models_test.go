package models

import (
	"testing"
	"time"
)

func sampleQuiz() Quiz {
	return Quiz{
		ID:    "capitals",
		Title: "Capitals",
		Questions: []Question{
			{Text: "Capital of France?", Options: []string{"Paris", "Lyon", "Nice", "Lille"}, CorrectAnswerIndex: 0, TimeLimitSec: 20},
			{Text: "Capital of Peru?", Options: []string{"Cusco", "Lima", "Arequipa", "Puno"}, CorrectAnswerIndex: 1, TimeLimitSec: 15},
		},
	}
}

func TestParseSessionStatus(t *testing.T) {
	for _, s := range []string{"waiting", "playing", "intermission", "finished", "expired"} {
		got, err := ParseSessionStatus(s)
		if err != nil {
			t.Fatalf("ParseSessionStatus(%q): %v", s, err)
		}
		if string(got) != s {
			t.Fatalf("ParseSessionStatus(%q) = %q", s, got)
		}
	}
	for _, s := range []string{"", "WAITING", "intermesso", "paused"} {
		if _, err := ParseSessionStatus(s); err == nil {
			t.Fatalf("ParseSessionStatus(%q) expected error", s)
		}
	}
}

func TestSessionLazyExpiry(t *testing.T) {
	created := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	expires := created.Add(10 * time.Minute)
	s := &Session{Status: SessionStatusWaiting, CreatedAt: created, ExpiresAt: &expires}

	if got := s.EffectiveStatus(expires); got != SessionStatusWaiting {
		t.Fatalf("status at expiresAt = %q, want waiting", got)
	}
	later := expires.Add(time.Millisecond)
	if got := s.EffectiveStatus(later); got != SessionStatusExpired {
		t.Fatalf("status after expiresAt = %q, want expired", got)
	}
	observed := s.Observe(later)
	if observed.Status != SessionStatusExpired {
		t.Fatalf("observed status = %q", observed.Status)
	}
	if s.Status != SessionStatusWaiting {
		t.Fatal("Observe must not mutate the receiver")
	}
	if s.Live(later) {
		t.Fatal("expired lobby must not be live")
	}

	s.Status = SessionStatusPlaying
	if got := s.EffectiveStatus(later); got != SessionStatusPlaying {
		t.Fatalf("playing session status = %q", got)
	}
}

func TestQuizValidate(t *testing.T) {
	q := sampleQuiz()
	if err := q.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	bad := q.Clone()
	bad.Questions[1].Options = bad.Questions[1].Options[:3]
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for three options")
	}

	bad = q.Clone()
	bad.Questions[0].CorrectAnswerIndex = 4
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for correct index out of range")
	}

	bad = q.Clone()
	bad.Questions[0].TimeLimitSec = 0
	bad.Normalize()
	if bad.Questions[0].TimeLimitSec != DefaultQuestionTimeSec {
		t.Fatalf("Normalize time limit = %d", bad.Questions[0].TimeLimitSec)
	}
}

func TestQuizCloneIsDeep(t *testing.T) {
	q := sampleQuiz()
	c := q.Clone()
	c.Questions[0].Options[0] = "Marseille"
	if q.Questions[0].Options[0] != "Paris" {
		t.Fatal("clone shares option storage with original")
	}
}

func TestSortLeaderboard(t *testing.T) {
	t0 := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	players := []*Player{
		{Identity: "a", Score: 1000, JoinedAt: t0.Add(2 * time.Second)},
		{Identity: "b", Score: 1375, JoinedAt: t0.Add(3 * time.Second)},
		{Identity: "c", Score: 1000, JoinedAt: t0.Add(time.Second)},
	}
	SortLeaderboard(players)
	got := players[0].Identity + players[1].Identity + players[2].Identity
	if got != "bca" {
		t.Fatalf("leaderboard order = %q, want bca", got)
	}
}
