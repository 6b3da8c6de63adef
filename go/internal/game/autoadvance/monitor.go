// Package autoadvance ends a question early once enough players have answered.
package autoadvance

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Config tunes the early-advance policy.
type Config struct {
	// Percent of the players present at question start that must answer.
	Percent int
	// Grace is how long the last answer stays on screen before advancing.
	Grace time.Duration
}

// DefaultConfig advances once 80% have answered, after a one second grace period.
func DefaultConfig() Config {
	return Config{
		Percent: 80,
		Grace:   time.Second,
	}
}

// Threshold returns ceil(percent/100 * total) using integer arithmetic.
func Threshold(total, percent int) int {
	if total <= 0 || percent <= 0 {
		return 0
	}
	return (total*percent + 99) / 100
}

// Monitor watches answer counts for the current question and schedules a
// single advance per question. The denominator is frozen when the question
// begins; players joining mid-question do not move the threshold.
type Monitor struct {
	clock     clockwork.Clock
	cfg       Config
	onAdvance func(questionIndex int)

	mu            sync.Mutex
	started       bool
	questionIndex int
	denominator   int
	latched       bool
	timer         clockwork.Timer
	generation    uint64
}

// NewMonitor returns a Monitor that calls onAdvance from its own goroutine.
func NewMonitor(clock clockwork.Clock, cfg Config, onAdvance func(questionIndex int)) *Monitor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Monitor{
		clock:     clock,
		cfg:       cfg,
		onAdvance: onAdvance,
	}
}

// BeginQuestion starts tracking questionIndex with playersAtStart as the
// denominator. Repeated calls for the tracked question are ignored; a new
// index resets the latch and cancels any pending advance.
func (m *Monitor) BeginQuestion(questionIndex, playersAtStart int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started && m.questionIndex == questionIndex {
		return
	}
	m.stopTimer()
	m.started = true
	m.questionIndex = questionIndex
	m.denominator = playersAtStart
	m.latched = false

	log.Debug().
		Int("question_index", questionIndex).
		Int("players_at_start", playersAtStart).
		Int("threshold", Threshold(playersAtStart, m.cfg.Percent)).
		Msg("auto-advance tracking question")
}

// Observe reports the number of distinct players that have answered
// questionIndex. It returns true only for the observation that reaches the
// threshold; the advance itself fires after the grace period.
func (m *Monitor) Observe(questionIndex, answered int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started || questionIndex != m.questionIndex || m.latched {
		return false
	}
	threshold := Threshold(m.denominator, m.cfg.Percent)
	if threshold == 0 || answered < threshold {
		return false
	}

	m.latched = true
	m.generation++
	gen := m.generation
	m.timer = m.clock.AfterFunc(m.cfg.Grace, func() {
		m.fire(questionIndex, gen)
	})

	log.Info().
		Int("question_index", questionIndex).
		Int("answered", answered).
		Int("threshold", threshold).
		Dur("grace", m.cfg.Grace).
		Msg("answer threshold reached, scheduling advance")
	return true
}

// Cancel drops a pending advance without clearing the latch, so the current
// question cannot trigger again.
func (m *Monitor) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopTimer()
}

// Triggered reports whether questionIndex has already reached its threshold.
func (m *Monitor) Triggered(questionIndex int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started && m.questionIndex == questionIndex && m.latched
}

// stopTimer must be called with m.mu held.
func (m *Monitor) stopTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.generation++
}

func (m *Monitor) fire(questionIndex int, gen uint64) {
	m.mu.Lock()
	if gen != m.generation || questionIndex != m.questionIndex {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.mu.Unlock()

	m.onAdvance(questionIndex)
}
