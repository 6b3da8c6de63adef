package session

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/livequiz/go/internal/events"
	"github.com/mcdev12/livequiz/go/internal/identity"
	"github.com/mcdev12/livequiz/go/internal/models"
	"github.com/mcdev12/livequiz/go/internal/quiz"
	"github.com/mcdev12/livequiz/go/internal/store"
	"github.com/mcdev12/livequiz/go/internal/store/memory"
	"github.com/mcdev12/livequiz/go/internal/store/storetest"
)

type testEnv struct {
	app      *App
	store    *memory.Store
	clock    *clockwork.FakeClock
	recorder *events.Recorder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	catalog, err := quiz.NewCatalog([]models.Quiz{capitalsQuiz()})
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	st := memory.New()
	t.Cleanup(func() { st.Close() })
	clock := clockwork.NewFakeClockAt(storetest.T0)
	recorder := &events.Recorder{}
	app := NewApp(st, NewPinAllocator(st, 0), catalog, recorder, clock, DefaultRules())
	return &testEnv{app: app, store: st, clock: clock, recorder: recorder}
}

func capitalsQuiz() models.Quiz {
	return models.Quiz{
		ID:    "capitals",
		Title: "Capitals",
		Questions: []models.Question{
			{Text: "Capital of France?", Options: []string{"Paris", "Lyon", "Nice", "Lille"}, CorrectAnswerIndex: 0, TimeLimitSec: 20},
			{Text: "Capital of Peru?", Options: []string{"Cusco", "Lima", "Arequipa", "Puno"}, CorrectAnswerIndex: 1, TimeLimitSec: 15},
		},
	}
}

func hostCtx() context.Context {
	return identity.WithIdentity(context.Background(), identity.Identity{ID: "host-1", Name: "Quizmaster"})
}

func (e *testEnv) create(t *testing.T) *models.Session {
	t.Helper()
	s, err := e.app.CreateSession(hostCtx(), CreateSessionRequest{QuizID: "capitals"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return s
}

func (e *testEnv) addPlayer(t *testing.T, s *models.Session, id string) {
	t.Helper()
	now := e.app.Now()
	_, err := e.store.UpsertPlayer(context.Background(), s.ID, id, func(p *models.Player, created bool) error {
		p.SessionPin = s.Pin
		p.DisplayName = id
		p.JoinedAt = now
		p.UpdatedAt = now
		return nil
	})
	if err != nil {
		t.Fatalf("UpsertPlayer: %v", err)
	}
}

func TestCreateSession(t *testing.T) {
	env := newTestEnv(t)
	s := env.create(t)

	if !store.ValidPin(s.Pin) {
		t.Fatalf("pin %q is not six digits", s.Pin)
	}
	if s.Status != models.SessionStatusWaiting || s.HostIdentity != "host-1" {
		t.Fatalf("session = %+v", s)
	}
	if s.ExpiresAt == nil || !s.ExpiresAt.Equal(storetest.T0.Add(10*time.Minute)) {
		t.Fatalf("expiresAt = %v", s.ExpiresAt)
	}
	if s.Quiz.QuestionCount() != 2 {
		t.Fatalf("snapshot has %d questions", s.Quiz.QuestionCount())
	}
	if got := env.recorder.Types(); !slices.Equal(got, []events.Type{events.TypeSessionCreated}) {
		t.Fatalf("events = %v", got)
	}

	byPin, err := env.app.GetSessionByPin(context.Background(), s.Pin)
	if err != nil {
		t.Fatalf("GetSessionByPin: %v", err)
	}
	if byPin.ID != s.ID {
		t.Fatal("pin lookup returned another session")
	}
}

func TestCreateSessionInlineQuizIsSnapshotted(t *testing.T) {
	env := newTestEnv(t)
	inline := capitalsQuiz()
	inline.Questions[1].TimeLimitSec = 0

	s, err := env.app.CreateSession(hostCtx(), CreateSessionRequest{Quiz: &inline})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	inline.Questions[0].Options[0] = "Marseille"

	if s.Quiz.Questions[0].Options[0] != "Paris" {
		t.Fatal("session shares quiz storage with the caller")
	}
	if s.Quiz.Questions[1].TimeLimitSec != models.DefaultQuestionTimeSec {
		t.Fatalf("default time limit = %d", s.Quiz.Questions[1].TimeLimitSec)
	}
}

func TestCreateSessionRejects(t *testing.T) {
	env := newTestEnv(t)
	bad := capitalsQuiz()
	bad.Questions[0].Options = bad.Questions[0].Options[:2]

	tests := []struct {
		name string
		ctx  context.Context
		req  CreateSessionRequest
		want error
	}{
		{"no identity", context.Background(), CreateSessionRequest{QuizID: "capitals"}, ErrNotHost},
		{"anonymous host", identity.WithIdentity(context.Background(), identity.Identity{ID: "anon-1", Anonymous: true}), CreateSessionRequest{QuizID: "capitals"}, ErrNotHost},
		{"unknown quiz", hostCtx(), CreateSessionRequest{QuizID: "history"}, ErrInvalidQuiz},
		{"no quiz", hostCtx(), CreateSessionRequest{}, ErrInvalidQuiz},
		{"invalid quiz", hostCtx(), CreateSessionRequest{Quiz: &bad}, ErrInvalidQuiz},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.app.CreateSession(tt.ctx, tt.req); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLobbyExpiresLazily(t *testing.T) {
	env := newTestEnv(t)
	s := env.create(t)
	ctx := context.Background()

	env.clock.Advance(10 * time.Minute)
	got, err := env.app.GetSession(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != models.SessionStatusWaiting {
		t.Fatalf("status at expiresAt = %q, want waiting", got.Status)
	}

	env.clock.Advance(time.Millisecond)
	got, err = env.app.GetSessionByPin(ctx, s.Pin)
	if err != nil {
		t.Fatalf("GetSessionByPin: %v", err)
	}
	if got.Status != models.SessionStatusExpired {
		t.Fatalf("status after ttl = %q, want expired", got.Status)
	}

	stored, err := env.store.GetSession(ctx, s.ID)
	if err != nil {
		t.Fatalf("store.GetSession: %v", err)
	}
	if stored.Status != models.SessionStatusExpired {
		t.Fatalf("expiry not persisted, stored status %q", stored.Status)
	}

	if _, err := env.app.GetSession(ctx, s.ID); err != nil {
		t.Fatalf("GetSession: %v", err)
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

	env.addPlayer(t, s, "anon-1")
	if _, err := env.app.StartGame(hostCtx(), s.ID); !errors.Is(err, ErrExpired) {
		t.Fatalf("StartGame on expired lobby: err = %v", err)
	}
}

func TestStartGameRequiresPlayers(t *testing.T) {
	env := newTestEnv(t)
	s := env.create(t)

	_, err := env.app.StartGame(hostCtx(), s.ID)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	stored, _ := env.store.GetSession(context.Background(), s.ID)
	if stored.Status != models.SessionStatusWaiting {
		t.Fatalf("rejected start changed status to %q", stored.Status)
	}
}

func TestHostCommandsRejectOtherCallers(t *testing.T) {
	env := newTestEnv(t)
	s := env.create(t)
	env.addPlayer(t, s, "anon-1")

	player := identity.WithIdentity(context.Background(), identity.Identity{ID: "anon-1", Anonymous: true})
	if _, err := env.app.StartGame(player, s.ID); !errors.Is(err, ErrNotHost) {
		t.Fatalf("StartGame by player: err = %v", err)
	}
	if _, err := env.app.StartGame(context.Background(), s.ID); !errors.Is(err, ErrNotHost) {
		t.Fatalf("StartGame without identity: err = %v", err)
	}
	if _, err := env.app.StartGame(hostCtx(), s.ID); err != nil {
		t.Fatalf("StartGame by host: %v", err)
	}
	if _, err := env.app.TimeUp(player, s.ID, 0); !errors.Is(err, ErrNotHost) {
		t.Fatalf("TimeUp by player: err = %v", err)
	}
}

func TestLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := hostCtx()
	s := env.create(t)
	env.addPlayer(t, s, "anon-1")
	env.addPlayer(t, s, "anon-2")

	started, err := env.app.StartGame(ctx, s.ID)
	if err != nil {
		t.Fatalf("StartGame: %v", err)
	}
	if started.Status != models.SessionStatusPlaying || started.CurrentQuestionIndex != 0 {
		t.Fatalf("started = %q/%d", started.Status, started.CurrentQuestionIndex)
	}
	if started.QuestionDurationSec != 20 || started.QuestionPlayerCount != 2 || started.ExpiresAt != nil {
		t.Fatalf("started = %+v", started)
	}
	if !started.QuestionStartTime.Equal(storetest.T0) {
		t.Fatalf("questionStartTime = %v", started.QuestionStartTime)
	}
	if _, err := env.app.StartGame(ctx, s.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second StartGame: err = %v", err)
	}

	env.clock.Advance(20 * time.Second)
	ended, err := env.app.TimeUp(ctx, s.ID, 0)
	if err != nil {
		t.Fatalf("TimeUp: %v", err)
	}
	if ended.Status != models.SessionStatusIntermission || ended.IntermissionDurationSec != 15 {
		t.Fatalf("after TimeUp = %+v", ended)
	}
	if _, err := env.app.TimeUp(ctx, s.ID, 0); err != nil {
		t.Fatalf("repeated TimeUp should be a no-op: %v", err)
	}
	if _, err := env.app.AdvanceNow(ctx, s.ID, 0); err != nil {
		t.Fatalf("AdvanceNow after TimeUp should be a no-op: %v", err)
	}
	if _, err := env.app.TimeUp(ctx, s.ID, 1); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("TimeUp for a future question: err = %v", err)
	}

	env.addPlayer(t, s, "anon-3")
	env.clock.Advance(15 * time.Second)
	next, err := env.app.EndIntermission(ctx, s.ID, 0)
	if err != nil {
		t.Fatalf("EndIntermission: %v", err)
	}
	if next.Status != models.SessionStatusPlaying || next.CurrentQuestionIndex != 1 || next.QuestionDurationSec != 15 {
		t.Fatalf("after EndIntermission = %+v", next)
	}
	if next.IntermissionStartTime != nil || next.QuestionPlayerCount != 3 {
		t.Fatalf("intermission fields not reset: %+v", next)
	}
	if _, err := env.app.EndIntermission(ctx, s.ID, 0); err != nil {
		t.Fatalf("repeated EndIntermission should be a no-op: %v", err)
	}

	if _, err := env.app.AdvanceNow(ctx, s.ID, 1); err != nil {
		t.Fatalf("AdvanceNow: %v", err)
	}
	finished, err := env.app.EndIntermission(ctx, s.ID, 1)
	if err != nil {
		t.Fatalf("final EndIntermission: %v", err)
	}
	if finished.Status != models.SessionStatusFinished {
		t.Fatalf("status = %q, want finished", finished.Status)
	}
	if _, err := env.app.EndIntermission(ctx, s.ID, 1); err != nil {
		t.Fatalf("repeated final EndIntermission: %v", err)
	}
	if _, err := env.app.TimeUp(ctx, s.ID, 1); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("TimeUp after finish: err = %v", err)
	}

	want := []events.Type{
		events.TypeSessionCreated,
		events.TypeGameStarted,
		events.TypeQuestionStarted,
		events.TypeQuestionEnded,
		events.TypeQuestionStarted,
		events.TypeQuestionEnded,
		events.TypeGameFinished,
	}
	if got := env.recorder.Types(); !slices.Equal(got, want) {
		t.Fatalf("events = %v\nwant %v", got, want)
	}

	var cause events.QuestionEndedPayload
	if err := env.recorder.Events()[5].DecodePayload(&cause); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if cause.Cause != events.CauseThreshold || cause.QuestionIndex != 1 {
		t.Fatalf("question ended payload = %+v", cause)
	}
}

func TestWatchSessionObservesExpiry(t *testing.T) {
	env := newTestEnv(t)
	s := env.create(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env.clock.Advance(11 * time.Minute)
	sub, err := env.app.WatchSession(ctx, s.ID)
	if err != nil {
		t.Fatalf("WatchSession: %v", err)
	}
	defer sub.Close()

	got := storetest.Next(t, sub.Changes())
	if got.Status != models.SessionStatusExpired {
		t.Fatalf("watched status = %q, want expired", got.Status)
	}

	if _, err := env.app.WatchSession(ctx, uuid.New()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("watch unknown: err = %v", err)
	}
}

func TestViewHidesCorrectAnswerWhilePlaying(t *testing.T) {
	env := newTestEnv(t)
	s := env.create(t)
	env.addPlayer(t, s, "anon-1")
	started, err := env.app.StartGame(hostCtx(), s.ID)
	if err != nil {
		t.Fatalf("StartGame: %v", err)
	}

	env.clock.Advance(5500 * time.Millisecond)
	v := NewView(started, env.app.Now())
	if v.Question == nil || v.Question.CorrectAnswerIndex != nil {
		t.Fatalf("playing view question = %+v", v.Question)
	}
	if v.QuestionRemainingSec != 15 {
		t.Fatalf("remaining = %d, want 15", v.QuestionRemainingSec)
	}

	ended, err := env.app.TimeUp(hostCtx(), s.ID, 0)
	if err != nil {
		t.Fatalf("TimeUp: %v", err)
	}
	v = NewView(ended, env.app.Now())
	if v.Question == nil || v.Question.CorrectAnswerIndex == nil || *v.Question.CorrectAnswerIndex != 0 {
		t.Fatalf("intermission view question = %+v", v.Question)
	}
	if v.IntermissionRemainingSec != 15 || v.QuestionRemainingSec != 0 {
		t.Fatalf("remaining = %d/%d", v.QuestionRemainingSec, v.IntermissionRemainingSec)
	}
}

func TestActiveSessionForHost(t *testing.T) {
	env := newTestEnv(t)
	ctx := hostCtx()

	if _, err := env.app.ActiveSessionForHost(ctx); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("no sessions: err = %v, want ErrNotFound", err)
	}

	stale := env.create(t)
	env.clock.Advance(10*time.Minute + time.Millisecond)
	if _, err := env.app.ActiveSessionForHost(ctx); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("only a stale lobby: err = %v, want ErrNotFound", err)
	}
	stored, err := env.store.GetSession(context.Background(), stale.ID)
	if err != nil {
		t.Fatalf("store.GetSession: %v", err)
	}
	if stored.Status != models.SessionStatusExpired {
		t.Fatalf("stale lobby stored as %q, want expired", stored.Status)
	}

	live := env.create(t)
	env.addPlayer(t, live, "anon-1")
	if _, err := env.app.StartGame(ctx, live.ID); err != nil {
		t.Fatalf("StartGame: %v", err)
	}
	got, err := env.app.ActiveSessionForHost(ctx)
	if err != nil {
		t.Fatalf("ActiveSessionForHost: %v", err)
	}
	if got.ID != live.ID || got.Status != models.SessionStatusPlaying {
		t.Fatalf("resumed %s (%s), want %s playing", got.ID, got.Status, live.ID)
	}

	other := identity.WithIdentity(context.Background(), identity.Identity{ID: "host-2", Name: "Other"})
	if _, err := env.app.ActiveSessionForHost(other); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("other host: err = %v, want ErrNotFound", err)
	}
	anon := identity.WithIdentity(context.Background(), identity.Identity{ID: "anon-1", Anonymous: true})
	if _, err := env.app.ActiveSessionForHost(anon); !errors.Is(err, ErrNotHost) {
		t.Fatalf("anonymous caller: err = %v, want ErrNotHost", err)
	}
}

func TestReusingStalePinEmitsExpiry(t *testing.T) {
	env := newTestEnv(t)
	env.app.pins.draw = func() string { return "111111" }

	stale := env.create(t)
	env.clock.Advance(11 * time.Minute)
	fresh := env.create(t)
	if fresh.Pin != stale.Pin {
		t.Fatalf("pin = %q, want reuse of %q", fresh.Pin, stale.Pin)
	}

	var expired []uuid.UUID
	for _, ev := range env.recorder.Events() {
		if ev.Type == events.TypeSessionExpired {
			expired = append(expired, ev.SessionID)
		}
	}
	if len(expired) != 1 || expired[0] != stale.ID {
		t.Fatalf("SessionExpired for %v, want exactly %s", expired, stale.ID)
	}
}
