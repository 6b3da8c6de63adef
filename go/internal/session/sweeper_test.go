package session

import (
	"context"
	"testing"
	"time"

	"github.com/mcdev12/livequiz/go/internal/events"
	"github.com/mcdev12/livequiz/go/internal/models"
)

func TestSweeperExpiresIdleLobbies(t *testing.T) {
	env := newTestEnv(t)
	idle := env.create(t)
	started := env.create(t)
	env.addPlayer(t, started, "anon-1")
	if _, err := env.app.StartGame(hostCtx(), started.ID); err != nil {
		t.Fatalf("StartGame: %v", err)
	}

	sw := NewSweeper(env.app, env.store, env.clock, SweeperConfig{Workers: 2, BatchSize: 10, IdleInterval: time.Minute, MaxRetries: 3})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx) }()

	for i := 0; i < 11; i++ {
		if err := env.clock.BlockUntilContext(ctx, 1); err != nil {
			t.Fatalf("BlockUntilContext: %v", err)
		}
		env.clock.Advance(time.Minute)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		s, err := env.store.GetSession(context.Background(), idle.ID)
		if err != nil {
			t.Fatalf("GetSession: %v", err)
		}
		if s.Status == models.SessionStatusExpired {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("idle lobby still %q", s.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}

	s, err := env.store.GetSession(context.Background(), started.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if s.Status != models.SessionStatusPlaying {
		t.Fatalf("started session swept to %q", s.Status)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}

	expired := 0
	for _, typ := range env.recorder.Types() {
		if typ == events.TypeSessionExpired {
			expired++
		}
	}
	if expired != 1 {
		t.Fatalf("SessionExpired emitted %d times, want 1", expired)
	}
}
