package host

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/livequiz/go/internal/events"
	"github.com/mcdev12/livequiz/go/internal/identity"
	"github.com/mcdev12/livequiz/go/internal/models"
	"github.com/mcdev12/livequiz/go/internal/player"
	"github.com/mcdev12/livequiz/go/internal/session"
	"github.com/mcdev12/livequiz/go/internal/store"
	"github.com/mcdev12/livequiz/go/internal/store/memory"
	"github.com/mcdev12/livequiz/go/internal/store/storetest"
)

type testEnv struct {
	store    *memory.Store
	clock    *clockwork.FakeClock
	recorder *events.Recorder
	sessions *session.App
	players  *player.App
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := memory.New()
	t.Cleanup(func() { st.Close() })
	clock := clockwork.NewFakeClockAt(storetest.T0)
	recorder := &events.Recorder{}
	sessions := session.NewApp(st, session.NewPinAllocator(st, 0), nil, recorder, clock, session.DefaultRules())
	return &testEnv{
		store:    st,
		clock:    clock,
		recorder: recorder,
		sessions: sessions,
		players:  player.NewApp(st, sessions, recorder),
	}
}

func hostCtx() context.Context {
	return identity.WithIdentity(context.Background(), identity.Identity{ID: "host-1", Name: "Quizmaster"})
}

func (e *testEnv) lobby(t *testing.T, players ...string) *models.Session {
	t.Helper()
	q := storetest.NewSession("100000", storetest.T0).Quiz
	s, err := e.sessions.CreateSession(hostCtx(), session.CreateSessionRequest{Quiz: &q})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	for _, id := range players {
		ctx := identity.WithIdentity(context.Background(), identity.Identity{ID: id, Anonymous: true})
		if _, err := e.players.Join(ctx, player.JoinRequest{Pin: s.Pin, DisplayName: id}); err != nil {
			t.Fatalf("Join: %v", err)
		}
	}
	return s
}

func (e *testEnv) run(t *testing.T, s *models.Session) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(hostCtx())
	driver := NewDriver(NewLocal(s.ID, e.sessions, e.players), e.clock, DefaultConfig())
	done := make(chan error, 1)
	go func() { done <- driver.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func (e *testEnv) waitTimers(t *testing.T, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.clock.BlockUntilContext(ctx, n); err != nil {
		t.Fatalf("waiting for %d timers: %v", n, err)
	}
}

func (e *testEnv) waitStatus(t *testing.T, s *models.Session, want models.SessionStatus, index int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := e.store.GetSession(context.Background(), s.ID)
		if err != nil {
			t.Fatalf("GetSession: %v", err)
		}
		if got.Status == want && got.CurrentQuestionIndex == index {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("session is %s/%d, want %s/%d", got.Status, got.CurrentQuestionIndex, want, index)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitDone(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("driver did not stop")
	}
}

func TestDriverRunsGameToFinish(t *testing.T) {
	env := newTestEnv(t)
	s := env.lobby(t, "anon-1")
	if _, err := env.sessions.StartGame(hostCtx(), s.ID); err != nil {
		t.Fatalf("StartGame: %v", err)
	}
	_, done := env.run(t, s)

	steps := []struct {
		advance time.Duration
		status  models.SessionStatus
		index   int
	}{
		{20 * time.Second, models.SessionStatusIntermission, 0},
		{15 * time.Second, models.SessionStatusPlaying, 1},
		{15 * time.Second, models.SessionStatusIntermission, 1},
		{15 * time.Second, models.SessionStatusFinished, 1},
	}
	for _, step := range steps {
		env.waitTimers(t, 1)
		env.clock.Advance(step.advance)
		env.waitStatus(t, s, step.status, step.index)
	}
	waitDone(t, done)

	ended := 0
	for _, ev := range env.recorder.Events() {
		if ev.Type != events.TypeQuestionEnded {
			continue
		}
		ended++
		var p events.QuestionEndedPayload
		if err := ev.DecodePayload(&p); err != nil {
			t.Fatalf("DecodePayload: %v", err)
		}
		if p.Cause != events.CauseTimeUp {
			t.Fatalf("question %d ended by %s", p.QuestionIndex, p.Cause)
		}
	}
	if ended != 2 {
		t.Fatalf("QuestionEnded emitted %d times, want 2", ended)
	}
}

func TestDriverAdvancesAtThreshold(t *testing.T) {
	env := newTestEnv(t)
	s := env.lobby(t, "anon-1", "anon-2")
	if _, err := env.sessions.StartGame(hostCtx(), s.ID); err != nil {
		t.Fatalf("StartGame: %v", err)
	}
	cancel, done := env.run(t, s)
	env.waitTimers(t, 1)

	for _, id := range []string{"anon-1", "anon-2"} {
		ctx := identity.WithIdentity(context.Background(), identity.Identity{ID: id, Anonymous: true})
		if _, err := env.players.SubmitAnswer(ctx, player.SubmitAnswerRequest{SessionID: s.ID, QuestionIndex: 0, AnswerIndex: 0, TimeLeftSec: 20}); err != nil {
			t.Fatalf("SubmitAnswer: %v", err)
		}
	}

	// Question countdown plus the grace period.
	env.waitTimers(t, 2)
	env.clock.Advance(time.Second)
	env.waitStatus(t, s, models.SessionStatusIntermission, 0)

	var cause events.QuestionEndedPayload
	for _, ev := range env.recorder.Events() {
		if ev.Type == events.TypeQuestionEnded {
			if err := ev.DecodePayload(&cause); err != nil {
				t.Fatalf("DecodePayload: %v", err)
			}
		}
	}
	if cause.Cause != events.CauseThreshold {
		t.Fatalf("cause = %q, want threshold", cause.Cause)
	}

	cancel()
	waitDone(t, done)
}

func TestDriverExpiresIdleLobby(t *testing.T) {
	env := newTestEnv(t)
	s := env.lobby(t)
	_, done := env.run(t, s)

	env.waitTimers(t, 1)
	env.clock.Advance(10*time.Minute + time.Millisecond)
	env.waitStatus(t, s, models.SessionStatusExpired, 0)
	waitDone(t, done)
}

type fakeBackend struct {
	sessions chan session.View
	players  chan []player.View

	mu     sync.Mutex
	timeUp []int
	fail   int
}

func (f *fakeBackend) WatchSession(context.Context) (<-chan session.View, error) { return f.sessions, nil }
func (f *fakeBackend) WatchPlayers(context.Context) (<-chan []player.View, error) { return f.players, nil }
func (f *fakeBackend) Refresh(context.Context) (session.View, error)             { return session.View{}, nil }
func (f *fakeBackend) AdvanceNow(context.Context, int) error                     { return nil }
func (f *fakeBackend) EndIntermission(context.Context, int) error                { return nil }

func (f *fakeBackend) TimeUp(_ context.Context, questionIndex int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timeUp = append(f.timeUp, questionIndex)
	if f.fail > 0 {
		f.fail--
		return store.Unavailable("update session", errors.New("connection reset"))
	}
	return nil
}

func (f *fakeBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timeUp)
}

func TestDriverRetriesTransientFailures(t *testing.T) {
	clock := clockwork.NewFakeClockAt(storetest.T0)
	backend := &fakeBackend{
		sessions: make(chan session.View, 4),
		players:  make(chan []player.View, 4),
		fail:     1,
	}
	driver := NewDriver(backend, clock, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- driver.Run(ctx) }()

	start := storetest.T0
	playing := session.View{ID: "s-1", Status: models.SessionStatusPlaying, QuestionStartTime: &start, QuestionDurationSec: 20, QuestionPlayerCount: 1}
	backend.sessions <- playing
	// A duplicate snapshot must not re-arm a second window.
	backend.sessions <- playing

	waitCtx, waitCancel := context.WithTimeout(ctx, 2*time.Second)
	defer waitCancel()
	if err := clock.BlockUntilContext(waitCtx, 1); err != nil {
		t.Fatalf("BlockUntilContext: %v", err)
	}
	clock.Advance(20 * time.Second)
	if err := clock.BlockUntilContext(waitCtx, 1); err != nil {
		t.Fatalf("retry not scheduled: %v", err)
	}
	if got := backend.calls(); got != 1 {
		t.Fatalf("TimeUp called %d times before retry, want 1", got)
	}
	clock.Advance(DefaultConfig().RetryDelay)

	deadline := time.Now().Add(2 * time.Second)
	for backend.calls() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("TimeUp was not retried")
		}
		time.Sleep(5 * time.Millisecond)
	}

	backend.sessions <- session.View{ID: "s-1", Status: models.SessionStatusFinished}
	waitDone(t, done)
	if got := backend.calls(); got != 2 {
		t.Fatalf("TimeUp called %d times, want 2", got)
	}
}

func TestDriverStopsWhenRetriesRunOut(t *testing.T) {
	clock := clockwork.NewFakeClockAt(storetest.T0)
	backend := &fakeBackend{
		sessions: make(chan session.View, 4),
		players:  make(chan []player.View, 4),
		fail:     6,
	}
	cfg := DefaultConfig()
	driver := NewDriver(backend, clock, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- driver.Run(ctx) }()

	start := storetest.T0
	backend.sessions <- session.View{ID: "s-1", Status: models.SessionStatusPlaying, QuestionStartTime: &start, QuestionDurationSec: 20, QuestionPlayerCount: 1}

	waitCtx, waitCancel := context.WithTimeout(ctx, 2*time.Second)
	defer waitCancel()
	if err := clock.BlockUntilContext(waitCtx, 1); err != nil {
		t.Fatalf("BlockUntilContext: %v", err)
	}
	clock.Advance(20 * time.Second)
	for i := 0; i < cfg.MaxRetries; i++ {
		if err := clock.BlockUntilContext(waitCtx, 1); err != nil {
			t.Fatalf("retry %d not scheduled: %v", i+1, err)
		}
		clock.Advance(cfg.RetryDelay)
	}

	select {
	case err := <-done:
		if !errors.Is(err, ErrCommandFailed) {
			t.Fatalf("Run error = %v, want ErrCommandFailed", err)
		}
		if !errors.Is(err, store.ErrUnavailable) {
			t.Fatalf("Run error = %v, want it to wrap ErrUnavailable", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("driver kept running after retries ran out")
	}
	if got := backend.calls(); got != cfg.MaxRetries+1 {
		t.Fatalf("TimeUp called %d times, want %d", got, cfg.MaxRetries+1)
	}
}
