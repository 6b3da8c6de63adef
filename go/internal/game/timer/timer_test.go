package timer

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/livequiz/go/internal/models"
)

var t0 = time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)

func TestRemaining(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		want    int
	}{
		{"at start", 0, 20},
		{"just under a second", 999 * time.Millisecond, 20},
		{"one second", time.Second, 19},
		{"five and a half seconds", 5500 * time.Millisecond, 15},
		{"exactly at deadline", 20 * time.Second, 0},
		{"long after deadline", 3 * time.Minute, 0},
		{"start in the future", -4 * time.Second, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Remaining(t0, 20, t0.Add(tt.elapsed)); got != tt.want {
				t.Fatalf("Remaining after %s = %d, want %d", tt.elapsed, got, tt.want)
			}
		})
	}
}

func TestQuestionRemainingOnlyWhilePlaying(t *testing.T) {
	start := t0
	s := &models.Session{Status: models.SessionStatusPlaying, QuestionStartTime: &start, QuestionDurationSec: 20}
	if got := QuestionRemaining(s, t0.Add(5*time.Second)); got != 15 {
		t.Fatalf("QuestionRemaining = %d, want 15", got)
	}
	s.Status = models.SessionStatusIntermission
	if got := QuestionRemaining(s, t0.Add(5*time.Second)); got != 0 {
		t.Fatalf("QuestionRemaining in intermission = %d, want 0", got)
	}
	s.IntermissionStartTime = &start
	s.IntermissionDurationSec = 15
	if got := IntermissionRemaining(s, t0.Add(3*time.Second)); got != 12 {
		t.Fatalf("IntermissionRemaining = %d, want 12", got)
	}
}

func waitKey(t *testing.T, ch <-chan Key) Key {
	t.Helper()
	select {
	case k := <-ch:
		return k
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for countdown")
		return Key{}
	}
}

func assertQuiet(t *testing.T, ch <-chan Key) {
	t.Helper()
	select {
	case k := <-ch:
		t.Fatalf("unexpected expiry for %+v", k)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCountdownFiresOncePerKey(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	fired := make(chan Key, 10)
	c := NewCountdown(clock, func(k Key) { fired <- k })

	key := Key{Phase: PhaseQuestion, QuestionIndex: 0}
	deadline := Deadline(t0, 20)
	if !c.Arm(key, deadline) {
		t.Fatal("first Arm returned false")
	}
	// Change notifications re-arm the same window repeatedly.
	c.Arm(key, deadline)
	c.Arm(key, deadline)

	clock.Advance(20 * time.Second)
	if got := waitKey(t, fired); got != key {
		t.Fatalf("fired %+v, want %+v", got, key)
	}

	if c.Arm(key, deadline) {
		t.Fatal("Arm after expiry should be refused")
	}
	clock.Advance(time.Minute)
	assertQuiet(t, fired)
	if !c.Fired(key) {
		t.Fatal("Fired reported false")
	}
}

func TestCountdownReplacesPendingKey(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	fired := make(chan Key, 10)
	c := NewCountdown(clock, func(k Key) { fired <- k })

	question := Key{Phase: PhaseQuestion, QuestionIndex: 0}
	intermission := Key{Phase: PhaseIntermission, QuestionIndex: 0}
	c.Arm(question, t0.Add(20*time.Second))
	c.Arm(intermission, t0.Add(5*time.Second))

	clock.Advance(30 * time.Second)
	if got := waitKey(t, fired); got != intermission {
		t.Fatalf("fired %+v, want %+v", got, intermission)
	}
	assertQuiet(t, fired)
}

func TestCountdownRetry(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	fired := make(chan Key, 10)
	c := NewCountdown(clock, func(k Key) { fired <- k })

	key := Key{Phase: PhaseIntermission, QuestionIndex: 1}
	c.Arm(key, t0)
	waitKey(t, fired)

	c.Retry(key, time.Second)
	clock.Advance(time.Second)
	if got := waitKey(t, fired); got != key {
		t.Fatalf("retry fired %+v", got)
	}
}

func TestCountdownStop(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	fired := make(chan Key, 10)
	c := NewCountdown(clock, func(k Key) { fired <- k })

	c.Arm(Key{Phase: PhaseQuestion}, t0.Add(time.Second))
	c.Stop()
	clock.Advance(time.Minute)
	assertQuiet(t, fired)
}
