package player

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/mcdev12/livequiz/go/internal/events"
	"github.com/mcdev12/livequiz/go/internal/game/scoring"
	"github.com/mcdev12/livequiz/go/internal/game/timer"
	"github.com/mcdev12/livequiz/go/internal/identity"
	"github.com/mcdev12/livequiz/go/internal/models"
	"github.com/mcdev12/livequiz/go/internal/session"
	"github.com/mcdev12/livequiz/go/internal/store"
	"github.com/mcdev12/livequiz/go/internal/telemetry"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// MaxDisplayNameLength bounds display names in runes.
const MaxDisplayNameLength = 32

// Sessions is what the player app needs from the session lifecycle.
type Sessions interface {
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	GetSessionByPin(ctx context.Context, pin string) (*models.Session, error)
	Now() time.Time
}

type JoinRequest struct {
	Pin         string `json:"pin"`
	DisplayName string `json:"display_name"`
}

type JoinResult struct {
	Session  *models.Session
	Player   *models.Player
	Rejoined bool
}

type SelfResult struct {
	Session *models.Session
	Player  *models.Player
	Rank    int
}

type SubmitAnswerRequest struct {
	SessionID     uuid.UUID `json:"session_id"`
	QuestionIndex int       `json:"question_index"`
	AnswerIndex   int       `json:"answer_index"`
	TimeLeftSec   int       `json:"time_left_sec"`
}

type SubmitResult struct {
	Answer models.Answer
	Score  int
	// AlreadyAnswered is set when an earlier submission for the question was
	// kept; Answer and Score then describe that earlier submission.
	AlreadyAnswered bool
}

// App reconciles joins and records answers. Both go through the store's
// atomic upsert on the (session, identity) player record.
type App struct {
	store     store.Store
	sessions  Sessions
	publisher events.Publisher
}

// NewApp creates the player app. A nil publisher drops events.
func NewApp(st store.Store, sessions Sessions, publisher events.Publisher) *App {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &App{store: st, sessions: sessions, publisher: publisher}
}

// Join adds the caller to the session holding pin, or updates the display
// name of a returning player while keeping score and answers.
func (a *App) Join(ctx context.Context, req JoinRequest) (_ *JoinResult, err error) {
	ctx, span := telemetry.StartSpan(ctx, "player.Join", attribute.String("session.pin", req.Pin))
	defer func() { telemetry.End(span, err) }()

	caller, ok := identity.FromContext(ctx)
	if !ok {
		return nil, ErrIdentityRequired
	}
	name, err := normalizeName(req.DisplayName)
	if err != nil {
		return nil, err
	}

	s, err := a.sessions.GetSessionByPin(ctx, strings.TrimSpace(req.Pin))
	if err != nil {
		return nil, err
	}
	now := a.sessions.Now()
	if err := session.CheckOpen(s, now); err != nil {
		return nil, err
	}

	var created, changed bool
	p, err := a.store.UpsertPlayer(ctx, s.ID, caller.ID, func(p *models.Player, isNew bool) error {
		created = isNew
		if isNew {
			p.SessionPin = s.Pin
			p.DisplayName = name
			p.Answers = []models.Answer{}
			p.JoinedAt = now
			p.UpdatedAt = now
			return nil
		}
		if p.DisplayName == name {
			return store.ErrNoChange
		}
		p.DisplayName = name
		p.UpdatedAt = now
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if created || changed {
		log.Info().
			Str("session_id", s.ID.String()).
			Str("identity", caller.ID).
			Bool("rejoined", !created).
			Msg("player joined")
		a.emit(ctx, events.TypePlayerJoined, s, events.PlayerJoinedPayload{
			Identity:    caller.ID,
			DisplayName: name,
			Rejoined:    !created,
		})
	}
	return &JoinResult{Session: s, Player: p, Rejoined: !created}, nil
}

// SubmitAnswer records the caller's answer to questionIndex. Correctness is
// decided from the session's quiz snapshot and the time left is capped at
// what the server derives from the question start.
func (a *App) SubmitAnswer(ctx context.Context, req SubmitAnswerRequest) (_ *SubmitResult, err error) {
	ctx, span := telemetry.StartSpan(ctx, "player.SubmitAnswer",
		attribute.String("session.id", req.SessionID.String()),
		attribute.Int("question.index", req.QuestionIndex),
	)
	defer func() { telemetry.End(span, err) }()

	caller, ok := identity.FromContext(ctx)
	if !ok {
		return nil, ErrIdentityRequired
	}
	if req.AnswerIndex < 0 || req.AnswerIndex >= models.OptionsPerQuestion {
		return nil, fmt.Errorf("%w: answer index %d out of range", ErrInvalidAnswer, req.AnswerIndex)
	}

	s, err := a.sessions.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	now := a.sessions.Now()
	if err := session.CheckOpen(s, now); err != nil {
		return nil, err
	}
	if s.Status != models.SessionStatusPlaying || s.CurrentQuestionIndex != req.QuestionIndex || s.QuestionStartTime == nil {
		return nil, fmt.Errorf("%w: question %d", ErrQuestionClosed, req.QuestionIndex)
	}
	if now.After(timer.Deadline(*s.QuestionStartTime, s.QuestionDurationSec)) {
		return nil, fmt.Errorf("%w: question %d timed out", ErrQuestionClosed, req.QuestionIndex)
	}
	question, _ := s.CurrentQuestion()

	timeLeft := min(max(req.TimeLeftSec, 0), timer.QuestionRemaining(s, now))
	isCorrect := req.AnswerIndex == question.CorrectAnswerIndex
	answer := models.Answer{
		QuestionIndex: req.QuestionIndex,
		AnswerIndex:   req.AnswerIndex,
		TimeLeftSec:   timeLeft,
		IsCorrect:     isCorrect,
		PointsEarned:  scoring.Score(isCorrect, timeLeft, question.TimeLimitSec),
		AnsweredAt:    now,
	}

	var earlier models.Answer
	var earlierScore int
	p, err := a.store.UpsertPlayer(ctx, s.ID, caller.ID, func(p *models.Player, isNew bool) error {
		if isNew {
			return ErrNotJoined
		}
		if prev, ok := p.AnswerFor(req.QuestionIndex); ok {
			earlier, earlierScore = prev, p.Score
			return ErrAlreadyAnswered
		}
		p.Answers = append(p.Answers, answer)
		p.Score += answer.PointsEarned
		answerIndex, left := answer.AnswerIndex, answer.TimeLeftSec
		p.LastAnswer = &answerIndex
		p.LastAnswerTime = &left
		p.UpdatedAt = now
		return nil
	})
	if errors.Is(err, ErrAlreadyAnswered) {
		log.Debug().
			Str("session_id", s.ID.String()).
			Str("identity", caller.ID).
			Int("question_index", req.QuestionIndex).
			Msg("duplicate answer ignored")
		return &SubmitResult{Answer: earlier, Score: earlierScore, AlreadyAnswered: true}, nil
	}
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("session_id", s.ID.String()).
		Str("identity", caller.ID).
		Int("question_index", req.QuestionIndex).
		Bool("correct", answer.IsCorrect).
		Int("points", answer.PointsEarned).
		Msg("answer recorded")

	a.emit(ctx, events.TypeAnswerRecorded, s, events.AnswerRecordedPayload{
		Identity:      caller.ID,
		QuestionIndex: req.QuestionIndex,
		IsCorrect:     answer.IsCorrect,
		PointsEarned:  answer.PointsEarned,
		Score:         p.Score,
	})
	return &SubmitResult{Answer: answer, Score: p.Score}, nil
}

// GetSelf returns the caller's own record in the session holding pin, so a
// returning player can be shown the name they joined with. It fails with
// ErrNotJoined when the caller has no record there.
func (a *App) GetSelf(ctx context.Context, pin string) (_ *SelfResult, err error) {
	ctx, span := telemetry.StartSpan(ctx, "player.GetSelf", attribute.String("session.pin", pin))
	defer func() { telemetry.End(span, err) }()

	caller, ok := identity.FromContext(ctx)
	if !ok {
		return nil, ErrIdentityRequired
	}
	s, err := a.sessions.GetSessionByPin(ctx, strings.TrimSpace(pin))
	if err != nil {
		return nil, err
	}
	players, err := a.store.ListPlayers(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	models.SortLeaderboard(players)
	for i, view := range Leaderboard(players) {
		if players[i].Identity == caller.ID {
			return &SelfResult{Session: s, Player: players[i], Rank: view.Rank}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotJoined, s.Pin)
}

// ListPlayers returns the session's players in leaderboard order.
func (a *App) ListPlayers(ctx context.Context, sessionID uuid.UUID) ([]*models.Player, error) {
	if _, err := a.sessions.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	players, err := a.store.ListPlayers(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	models.SortLeaderboard(players)
	return players, nil
}

// WatchPlayers streams the leaderboard on every committed player change.
func (a *App) WatchPlayers(ctx context.Context, sessionID uuid.UUID) (*store.Stream[[]*models.Player], error) {
	if _, err := a.sessions.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	src, err := a.store.SubscribePlayers(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return store.Map(ctx, src, func(players []*models.Player) []*models.Player {
		models.SortLeaderboard(players)
		return players
	}), nil
}

func normalizeName(raw string) (string, error) {
	name := strings.Join(strings.Fields(raw), " ")
	if name == "" {
		return "", fmt.Errorf("%w: name is blank", ErrInvalidName)
	}
	if utf8.RuneCountInString(name) > MaxDisplayNameLength {
		return "", fmt.Errorf("%w: longer than %d characters", ErrInvalidName, MaxDisplayNameLength)
	}
	return name, nil
}

func (a *App) emit(ctx context.Context, t events.Type, s *models.Session, payload any) {
	ev, err := events.New(t, s, a.sessions.Now(), payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(t)).Msg("failed to build event")
		return
	}
	events.Emit(context.WithoutCancel(ctx), a.publisher, ev)
}
