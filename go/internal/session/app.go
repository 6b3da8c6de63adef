package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/livequiz/go/internal/events"
	"github.com/mcdev12/livequiz/go/internal/identity"
	"github.com/mcdev12/livequiz/go/internal/models"
	"github.com/mcdev12/livequiz/go/internal/store"
	"github.com/mcdev12/livequiz/go/internal/telemetry"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// Rules are the timings the lifecycle applies.
type Rules struct {
	SessionTTL             time.Duration
	Intermission           time.Duration
	DefaultQuestionTimeSec int
}

// DefaultRules returns the lobby TTL, intermission and question time used
// when no rules file is configured.
func DefaultRules() Rules {
	return Rules{
		SessionTTL:             10 * time.Minute,
		Intermission:           15 * time.Second,
		DefaultQuestionTimeSec: models.DefaultQuestionTimeSec,
	}
}

// QuizSource resolves catalog quizzes by id.
type QuizSource interface {
	Get(id string) (models.Quiz, error)
}

type CreateSessionRequest struct {
	QuizID string       `json:"quiz_id,omitempty"`
	Quiz   *models.Quiz `json:"quiz,omitempty"`
}

// App runs the session state machine. Every transition is one atomic
// UpdateSession call whose mutator re-validates against the stored record.
type App struct {
	store     store.Store
	pins      *PinAllocator
	quizzes   QuizSource
	publisher events.Publisher
	clock     clockwork.Clock
	rules     Rules

	onCreate func(*models.Session)
}

// NewApp creates the session lifecycle app. A nil publisher drops events and
// a nil clock means the real clock.
func NewApp(st store.Store, pins *PinAllocator, quizzes QuizSource, publisher events.Publisher, clock clockwork.Clock, rules Rules) *App {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	app := &App{
		store:     st,
		pins:      pins,
		quizzes:   quizzes,
		publisher: publisher,
		clock:     clock,
		rules:     rules,
	}
	if pins != nil {
		pins.expire = app.ExpireSession
	}
	return app
}

// OnCreate registers fn to run after every successful CreateSession.
func (a *App) OnCreate(fn func(*models.Session)) {
	a.onCreate = fn
}

// Rules returns the timings the app was built with.
func (a *App) Rules() Rules {
	return a.rules
}

// Now is the app's clock truncated to the millisecond precision the stores keep.
func (a *App) Now() time.Time {
	return a.clock.Now().UTC().Truncate(time.Millisecond)
}

// CreateSession snapshots the quiz and opens a Waiting lobby under a fresh pin.
// The caller becomes the host.
func (a *App) CreateSession(ctx context.Context, req CreateSessionRequest) (_ *models.Session, err error) {
	ctx, span := telemetry.StartSpan(ctx, "session.CreateSession", attribute.String("quiz.id", req.QuizID))
	defer func() { telemetry.End(span, err) }()

	host, ok := identity.FromContext(ctx)
	if !ok || host.Anonymous {
		return nil, fmt.Errorf("%w: a named host identity is required", ErrNotHost)
	}

	quiz, err := a.resolveQuiz(req)
	if err != nil {
		return nil, err
	}

	now := a.Now()
	expires := now.Add(a.rules.SessionTTL)
	session, err := a.pins.Allocate(ctx, now, func(pin string) *models.Session {
		return &models.Session{
			ID:           uuid.New(),
			Pin:          pin,
			Status:       models.SessionStatusWaiting,
			Quiz:         quiz.Clone(),
			HostIdentity: host.ID,
			CreatedAt:    now,
			ExpiresAt:    &expires,
			UpdatedAt:    now,
		}
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("session_id", session.ID.String()).
		Str("pin", session.Pin).
		Str("host", host.ID).
		Int("questions", quiz.QuestionCount()).
		Msg("session created")

	a.emit(ctx, events.TypeSessionCreated, session, events.SessionCreatedPayload{
		QuizID:        quiz.ID,
		QuizTitle:     quiz.Title,
		QuestionCount: quiz.QuestionCount(),
		HostIdentity:  host.ID,
		ExpiresAt:     expires,
	})
	if a.onCreate != nil {
		a.onCreate(session)
	}
	return session, nil
}

func (a *App) resolveQuiz(req CreateSessionRequest) (models.Quiz, error) {
	var quiz models.Quiz
	switch {
	case req.Quiz != nil:
		quiz = req.Quiz.Clone()
	case strings.TrimSpace(req.QuizID) != "" && a.quizzes != nil:
		q, err := a.quizzes.Get(strings.TrimSpace(req.QuizID))
		if err != nil {
			return models.Quiz{}, fmt.Errorf("%w: %w", ErrInvalidQuiz, err)
		}
		quiz = q
	default:
		return models.Quiz{}, fmt.Errorf("%w: a quiz id or an inline quiz is required", ErrInvalidQuiz)
	}

	for i := range quiz.Questions {
		if quiz.Questions[i].TimeLimitSec == 0 {
			quiz.Questions[i].TimeLimitSec = a.rules.DefaultQuestionTimeSec
		}
	}
	quiz.Normalize()
	if err := quiz.Validate(); err != nil {
		return models.Quiz{}, fmt.Errorf("%w: %w", ErrInvalidQuiz, err)
	}
	return quiz, nil
}

// GetSession returns the session as it must be observed now.
func (a *App) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	session, err := a.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return a.observe(ctx, session), nil
}

// GetSessionByPin returns the live session holding pin, else the latest that used it.
func (a *App) GetSessionByPin(ctx context.Context, pin string) (*models.Session, error) {
	if !store.ValidPin(pin) {
		return nil, fmt.Errorf("%w: invalid pin %q", store.ErrNotFound, pin)
	}
	session, err := a.store.GetSessionByPin(ctx, pin)
	if err != nil {
		return nil, err
	}
	return a.observe(ctx, session), nil
}

// ActiveSessionForHost returns the newest live session the caller hosts, so a
// host that lost its view can resume it instead of opening another lobby.
// Lobbies found past their expiry are expired on the way.
func (a *App) ActiveSessionForHost(ctx context.Context) (_ *models.Session, err error) {
	ctx, span := telemetry.StartSpan(ctx, "session.ActiveSessionForHost")
	defer func() { telemetry.End(span, err) }()

	host, ok := identity.FromContext(ctx)
	if !ok || host.Anonymous {
		return nil, fmt.Errorf("%w: a named host identity is required", ErrNotHost)
	}

	sessions, err := a.store.ListActiveSessionsByHost(ctx, host.ID)
	if err != nil {
		return nil, err
	}
	now := a.Now()
	for _, session := range sessions {
		observed := a.observe(ctx, session)
		if observed.Live(now) {
			return observed, nil
		}
	}
	return nil, fmt.Errorf("%w: no active session for host %s", store.ErrNotFound, host.ID)
}

// observe applies lazy expiry and persists it best-effort.
func (a *App) observe(ctx context.Context, session *models.Session) *models.Session {
	now := a.Now()
	if !session.ExpiredAt(now) {
		return session
	}
	if _, err := a.ExpireSession(ctx, session.ID); err != nil {
		log.Warn().
			Err(err).
			Str("session_id", session.ID.String()).
			Msg("failed to persist lazy expiry")
	}
	return session.Observe(now)
}

// ExpireSession moves an expired Waiting session to Expired. It reports
// whether this call made the change.
func (a *App) ExpireSession(ctx context.Context, id uuid.UUID) (bool, error) {
	now := a.Now()
	changed := false
	session, err := a.store.UpdateSession(ctx, id, func(s *models.Session) error {
		if !s.ExpiredAt(now) {
			return store.ErrNoChange
		}
		s.Status = models.SessionStatusExpired
		s.UpdatedAt = now
		changed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if changed {
		log.Info().
			Str("session_id", id.String()).
			Str("pin", session.Pin).
			Msg("session expired")
		a.emit(ctx, events.TypeSessionExpired, session, events.SessionExpiredPayload{ExpiredAt: now})
	}
	return changed, nil
}

// StartGame moves a lobby with at least one player into question 0.
func (a *App) StartGame(ctx context.Context, id uuid.UUID) (_ *models.Session, err error) {
	ctx, span := telemetry.StartSpan(ctx, "session.StartGame", attribute.String("session.id", id.String()))
	defer func() { telemetry.End(span, err) }()

	caller, err := a.caller(ctx)
	if err != nil {
		return nil, err
	}
	players, err := a.store.ListPlayers(ctx, id)
	if err != nil {
		return nil, err
	}

	now := a.Now()
	session, err := a.store.UpdateSession(ctx, id, func(s *models.Session) error {
		if err := a.checkHost(s, caller, now); err != nil {
			return err
		}
		if s.Status != models.SessionStatusWaiting {
			return fmt.Errorf("%w: cannot start a session that is %s", ErrInvalidTransition, s.Status)
		}
		if len(players) == 0 {
			return fmt.Errorf("%w: at least one player must join before starting", ErrInvalidTransition)
		}
		first, _ := s.Quiz.Question(0)
		s.Status = models.SessionStatusPlaying
		s.CurrentQuestionIndex = 0
		s.QuestionStartTime = &now
		s.QuestionDurationSec = first.TimeLimitSec
		s.QuestionPlayerCount = len(players)
		s.IntermissionStartTime = nil
		s.IntermissionDurationSec = 0
		s.ExpiresAt = nil
		s.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("session_id", id.String()).
		Int("players", len(players)).
		Msg("game started")

	a.emit(ctx, events.TypeGameStarted, session, events.GameStartedPayload{
		PlayerCount:   len(players),
		QuestionCount: session.Quiz.QuestionCount(),
	})
	a.emitQuestionStarted(ctx, session)
	return session, nil
}

// TimeUp closes questionIndex after its countdown ran out.
func (a *App) TimeUp(ctx context.Context, id uuid.UUID, questionIndex int) (*models.Session, error) {
	return a.endQuestion(ctx, id, questionIndex, events.CauseTimeUp)
}

// AdvanceNow closes questionIndex early once enough players answered.
func (a *App) AdvanceNow(ctx context.Context, id uuid.UUID, questionIndex int) (*models.Session, error) {
	return a.endQuestion(ctx, id, questionIndex, events.CauseThreshold)
}

// endQuestion is idempotent: repeating it for a question already in
// intermission returns the current state without writing.
func (a *App) endQuestion(ctx context.Context, id uuid.UUID, questionIndex int, cause events.QuestionEndCause) (_ *models.Session, err error) {
	ctx, span := telemetry.StartSpan(ctx, "session.EndQuestion",
		attribute.String("session.id", id.String()),
		attribute.Int("question.index", questionIndex),
		attribute.String("cause", string(cause)),
	)
	defer func() { telemetry.End(span, err) }()

	caller, err := a.caller(ctx)
	if err != nil {
		return nil, err
	}

	now := a.Now()
	changed := false
	session, err := a.store.UpdateSession(ctx, id, func(s *models.Session) error {
		if err := a.checkHost(s, caller, now); err != nil {
			return err
		}
		if s.Status == models.SessionStatusIntermission && s.CurrentQuestionIndex == questionIndex {
			return store.ErrNoChange
		}
		if s.Status != models.SessionStatusPlaying {
			return fmt.Errorf("%w: no question is open while %s", ErrInvalidTransition, s.Status)
		}
		if s.CurrentQuestionIndex != questionIndex {
			return fmt.Errorf("%w: question %d is not current (current %d)", ErrInvalidTransition, questionIndex, s.CurrentQuestionIndex)
		}
		s.Status = models.SessionStatusIntermission
		s.IntermissionStartTime = &now
		s.IntermissionDurationSec = int(a.rules.Intermission / time.Second)
		s.UpdatedAt = now
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		log.Info().
			Str("session_id", id.String()).
			Int("question_index", questionIndex).
			Str("cause", string(cause)).
			Msg("question ended")
		a.emit(ctx, events.TypeQuestionEnded, session, events.QuestionEndedPayload{
			QuestionIndex:   questionIndex,
			Cause:           cause,
			IntermissionSec: session.IntermissionDurationSec,
		})
	}
	return session, nil
}

// EndIntermission opens the question after questionIndex, or finishes the
// game when none remain. Repeating it for an intermission that already
// ended returns the current state.
func (a *App) EndIntermission(ctx context.Context, id uuid.UUID, questionIndex int) (_ *models.Session, err error) {
	ctx, span := telemetry.StartSpan(ctx, "session.EndIntermission",
		attribute.String("session.id", id.String()),
		attribute.Int("question.index", questionIndex),
	)
	defer func() { telemetry.End(span, err) }()

	caller, err := a.caller(ctx)
	if err != nil {
		return nil, err
	}
	players, err := a.store.ListPlayers(ctx, id)
	if err != nil {
		return nil, err
	}

	now := a.Now()
	changed := false
	session, err := a.store.UpdateSession(ctx, id, func(s *models.Session) error {
		if s.Status == models.SessionStatusFinished && s.CurrentQuestionIndex == questionIndex {
			return store.ErrNoChange
		}
		if err := a.checkHost(s, caller, now); err != nil {
			return err
		}
		if s.Status == models.SessionStatusPlaying && s.CurrentQuestionIndex == questionIndex+1 {
			return store.ErrNoChange
		}
		if s.Status != models.SessionStatusIntermission {
			return fmt.Errorf("%w: no intermission to end while %s", ErrInvalidTransition, s.Status)
		}
		if s.CurrentQuestionIndex != questionIndex {
			return fmt.Errorf("%w: intermission after question %d is not current (current %d)", ErrInvalidTransition, questionIndex, s.CurrentQuestionIndex)
		}

		s.IntermissionStartTime = nil
		s.IntermissionDurationSec = 0
		s.UpdatedAt = now
		changed = true

		if !s.HasNextQuestion() {
			s.Status = models.SessionStatusFinished
			s.QuestionStartTime = nil
			s.QuestionDurationSec = 0
			return nil
		}
		s.CurrentQuestionIndex++
		next, _ := s.CurrentQuestion()
		s.Status = models.SessionStatusPlaying
		s.QuestionStartTime = &now
		s.QuestionDurationSec = next.TimeLimitSec
		s.QuestionPlayerCount = len(players)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !changed {
		return session, nil
	}
	if session.Status == models.SessionStatusFinished {
		log.Info().
			Str("session_id", id.String()).
			Msg("game finished")
		a.emit(ctx, events.TypeGameFinished, session, events.GameFinishedPayload{
			QuestionCount: session.Quiz.QuestionCount(),
		})
		return session, nil
	}
	a.emitQuestionStarted(ctx, session)
	return session, nil
}

// WatchSession streams the session as observed at each delivery.
func (a *App) WatchSession(ctx context.Context, id uuid.UUID) (*store.Stream[*models.Session], error) {
	src, err := a.store.SubscribeSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return store.Map(ctx, src, func(s *models.Session) *models.Session {
		return s.Observe(a.Now())
	}), nil
}

func (a *App) caller(ctx context.Context) (identity.Identity, error) {
	caller, ok := identity.FromContext(ctx)
	if !ok {
		return identity.Identity{}, fmt.Errorf("%w: no caller identity", ErrNotHost)
	}
	return caller, nil
}

// checkHost validates that caller may drive s at now.
func (a *App) checkHost(s *models.Session, caller identity.Identity, now time.Time) error {
	if err := CheckOpen(s, now); err != nil {
		return err
	}
	if s.HostIdentity != caller.ID {
		return ErrNotHost
	}
	return nil
}

// CheckOpen maps the terminal states of s at now onto their errors.
func CheckOpen(s *models.Session, now time.Time) error {
	switch s.EffectiveStatus(now) {
	case models.SessionStatusExpired:
		return ErrExpired
	case models.SessionStatusFinished:
		return ErrSessionClosed
	}
	return nil
}

func (a *App) emitQuestionStarted(ctx context.Context, session *models.Session) {
	if session.QuestionStartTime == nil {
		return
	}
	a.emit(ctx, events.TypeQuestionStarted, session, events.QuestionStartedPayload{
		QuestionIndex: session.CurrentQuestionIndex,
		DurationSec:   session.QuestionDurationSec,
		StartedAt:     *session.QuestionStartTime,
		PlayerCount:   session.QuestionPlayerCount,
	})
}

func (a *App) emit(ctx context.Context, t events.Type, session *models.Session, payload any) {
	ev, err := events.New(t, session, a.Now(), payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(t)).Msg("failed to build event")
		return
	}
	events.Emit(context.WithoutCancel(ctx), a.publisher, ev)
}

// IsTerminal reports whether err means the session accepts no more commands.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrExpired) || errors.Is(err, ErrSessionClosed)
}
