// Package host runs the authoritative side of a session: it watches the
// session and its players, and issues the time- and threshold-triggered
// transitions exactly once per window.
package host

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/livequiz/go/internal/game/autoadvance"
	"github.com/mcdev12/livequiz/go/internal/game/timer"
	"github.com/mcdev12/livequiz/go/internal/models"
	"github.com/mcdev12/livequiz/go/internal/player"
	"github.com/mcdev12/livequiz/go/internal/rpc"
	"github.com/mcdev12/livequiz/go/internal/session"
	"github.com/rs/zerolog/log"
)

var (
	// ErrFeedClosed is returned when a change feed ends before the session does.
	ErrFeedClosed = errors.New("session feed closed")
	// ErrCommandFailed is returned when a transition could not be issued. The
	// session may be stuck until a new driver re-arms it from a snapshot.
	ErrCommandFailed = errors.New("host command failed")
)

// Config controls retry behaviour and the early-advance threshold.
type Config struct {
	AutoAdvance autoadvance.Config
	RetryDelay  time.Duration
	MaxRetries  int
}

// DefaultConfig returns the driver settings used by the host CLI.
func DefaultConfig() Config {
	return Config{
		AutoAdvance: autoadvance.DefaultConfig(),
		RetryDelay:  500 * time.Millisecond,
		MaxRetries:  5,
	}
}

type actionKind int

const (
	actionExpire actionKind = iota
	actionAdvance
)

type action struct {
	kind actionKind
	key  timer.Key
}

// Driver turns countdown expiries and answer thresholds into host commands.
// All commands are issued from Run's goroutine.
type Driver struct {
	backend Backend
	clock   clockwork.Clock
	cfg     Config

	countdown *timer.Countdown
	monitor   *autoadvance.Monitor
	actions   chan action
	done      chan struct{}

	current  session.View
	hasView  bool
	players  []player.View
	attempts map[action]int
}

// NewDriver creates a driver for the session behind backend. A nil clock
// means the real clock.
func NewDriver(backend Backend, clock clockwork.Clock, cfg Config) *Driver {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	d := &Driver{
		backend:  backend,
		clock:    clock,
		cfg:      cfg,
		actions:  make(chan action, 8),
		done:     make(chan struct{}),
		attempts: make(map[action]int),
	}
	d.countdown = timer.NewCountdown(clock, func(key timer.Key) {
		d.enqueue(action{kind: actionExpire, key: key})
	})
	d.monitor = autoadvance.NewMonitor(clock, cfg.AutoAdvance, func(questionIndex int) {
		d.enqueue(action{kind: actionAdvance, key: timer.Key{Phase: timer.PhaseQuestion, QuestionIndex: questionIndex}})
	})
	return d
}

func (d *Driver) enqueue(a action) {
	select {
	case d.actions <- a:
	case <-d.done:
	}
}

// Run drives the session until it finishes or expires, ctx is cancelled or
// a feed fails. Both subscriptions are released before it returns.
func (d *Driver) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer close(d.done)
	defer d.monitor.Cancel()
	defer d.countdown.Stop()

	sessions, err := d.backend.WatchSession(ctx)
	if err != nil {
		return fmt.Errorf("failed to watch session: %w", err)
	}
	players, err := d.backend.WatchPlayers(ctx)
	if err != nil {
		return fmt.Errorf("failed to watch players: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case v, ok := <-sessions:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrFeedClosed
			}
			if finished := d.onSession(v); finished {
				log.Info().
					Str("session_id", v.ID).
					Str("status", string(v.Status)).
					Msg("host driver done")
				return nil
			}
		case views, ok := <-players:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrFeedClosed
			}
			d.onPlayers(views)
		case a := <-d.actions:
			if err := d.execute(ctx, a); err != nil {
				return err
			}
		}
	}
}

// onSession re-derives every timer from the snapshot. It reports whether the
// session reached a terminal state.
func (d *Driver) onSession(v session.View) bool {
	d.current, d.hasView = v, true

	switch v.Status {
	case models.SessionStatusWaiting:
		if v.ExpiresAt != nil {
			d.countdown.Arm(timer.Key{Phase: timer.PhaseLobby, QuestionIndex: -1}, v.ExpiresAt.Add(time.Millisecond))
		}
	case models.SessionStatusPlaying:
		if v.QuestionStartTime == nil {
			return false
		}
		d.monitor.BeginQuestion(v.CurrentQuestionIndex, v.QuestionPlayerCount)
		d.countdown.Arm(
			timer.Key{Phase: timer.PhaseQuestion, QuestionIndex: v.CurrentQuestionIndex},
			timer.Deadline(*v.QuestionStartTime, v.QuestionDurationSec),
		)
		d.monitor.Observe(v.CurrentQuestionIndex, player.CountAnswered(d.players, v.CurrentQuestionIndex))
	case models.SessionStatusIntermission:
		d.monitor.Cancel()
		if v.IntermissionStartTime == nil {
			return false
		}
		d.countdown.Arm(
			timer.Key{Phase: timer.PhaseIntermission, QuestionIndex: v.CurrentQuestionIndex},
			timer.Deadline(*v.IntermissionStartTime, v.IntermissionDurationSec),
		)
	case models.SessionStatusFinished, models.SessionStatusExpired:
		return true
	}
	return false
}

func (d *Driver) onPlayers(views []player.View) {
	d.players = views
	if d.hasView && d.current.Status == models.SessionStatusPlaying {
		d.monitor.Observe(d.current.CurrentQuestionIndex, player.CountAnswered(views, d.current.CurrentQuestionIndex))
	}
}

// execute issues the command for a. Transient failures are retried after
// RetryDelay; a refused command means the session moved on and is dropped.
// Any other failure, or running out of retries, stops the driver.
func (d *Driver) execute(ctx context.Context, a action) error {
	err := d.command(ctx, a)
	if err == nil {
		delete(d.attempts, a)
		return nil
	}
	if ctx.Err() != nil {
		return nil
	}

	logger := log.With().
		Err(err).
		Str("session_id", d.current.ID).
		Str("phase", string(a.key.Phase)).
		Int("question_index", a.key.QuestionIndex).
		Logger()

	switch {
	case errors.Is(err, session.ErrNotHost):
		logger.Error().Msg("host identity rejected")
		return err
	case errors.Is(err, session.ErrInvalidTransition), session.IsTerminal(err):
		logger.Debug().Msg("command no longer applies")
		delete(d.attempts, a)
		return nil
	case !rpc.Retryable(err):
		logger.Error().Msg("host command failed")
		return fmt.Errorf("%w: %s question %d: %w", ErrCommandFailed, a.key.Phase, a.key.QuestionIndex, err)
	}

	d.attempts[a]++
	if d.attempts[a] > d.cfg.MaxRetries {
		logger.Error().Int("attempts", d.attempts[a]).Msg("host command failed after retries")
		return fmt.Errorf("%w after %d attempts: %s question %d: %w",
			ErrCommandFailed, d.attempts[a], a.key.Phase, a.key.QuestionIndex, err)
	}
	logger.Warn().Int("attempt", d.attempts[a]).Msg("host command failed, retrying")

	if a.kind == actionExpire {
		d.countdown.Retry(a.key, d.cfg.RetryDelay)
		return nil
	}
	d.clock.AfterFunc(d.cfg.RetryDelay, func() { d.enqueue(a) })
	return nil
}

func (d *Driver) command(ctx context.Context, a action) error {
	if a.kind == actionAdvance {
		log.Info().Int("question_index", a.key.QuestionIndex).Msg("advancing early")
		return d.backend.AdvanceNow(ctx, a.key.QuestionIndex)
	}
	switch a.key.Phase {
	case timer.PhaseLobby:
		_, err := d.backend.Refresh(ctx)
		return err
	case timer.PhaseQuestion:
		if d.monitor.Triggered(a.key.QuestionIndex) {
			// The threshold advance is already pending.
			return nil
		}
		log.Info().Int("question_index", a.key.QuestionIndex).Msg("question time up")
		return d.backend.TimeUp(ctx, a.key.QuestionIndex)
	case timer.PhaseIntermission:
		return d.backend.EndIntermission(ctx, a.key.QuestionIndex)
	}
	return nil
}

func logStreamError(err error) {
	log.Warn().Err(err).Msg("host feed ended with error")
}
