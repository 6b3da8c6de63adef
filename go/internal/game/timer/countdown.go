package timer

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Phase distinguishes the timed windows of a session.
type Phase string

const (
	PhaseLobby        Phase = "lobby"
	PhaseQuestion     Phase = "question"
	PhaseIntermission Phase = "intermission"
)

// Key identifies one timed window of a session.
type Key struct {
	Phase         Phase
	QuestionIndex int
}

// Countdown fires onExpire at most once per Key, however many times the
// window is re-armed from change notifications. Only one key is armed at a
// time; arming a new key replaces the pending one.
type Countdown struct {
	clock    clockwork.Clock
	onExpire func(Key)

	mu         sync.Mutex
	armed      *Key
	deadline   time.Time
	timer      clockwork.Timer
	generation uint64
	fired      map[Key]bool
}

// NewCountdown returns a Countdown that calls onExpire from its own goroutine.
func NewCountdown(clock clockwork.Clock, onExpire func(Key)) *Countdown {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Countdown{
		clock:    clock,
		onExpire: onExpire,
		fired:    make(map[Key]bool),
	}
}

// Arm schedules key to expire at deadline. It returns false when the key
// already fired; re-arming the pending key with the same deadline is a no-op.
func (c *Countdown) Arm(key Key, deadline time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fired[key] {
		log.Debug().
			Str("phase", string(key.Phase)).
			Int("question_index", key.QuestionIndex).
			Msg("skipping countdown for window that already fired")
		return false
	}
	if c.armed != nil && *c.armed == key && c.deadline.Equal(deadline) {
		return true
	}

	c.replaceTimer(key, deadline)
	return true
}

// Retry re-arms a key that already fired so the expiry is delivered again
// after delay. It is used when acting on the expiry failed transiently.
func (c *Countdown) Retry(key Key, delay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.fired, key)
	c.replaceTimer(key, c.clock.Now().Add(delay))
}

// Fired reports whether key has already expired.
func (c *Countdown) Fired(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fired[key]
}

// Stop cancels the pending window, if any.
func (c *Countdown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelTimer()
}

// replaceTimer must be called with c.mu held.
func (c *Countdown) replaceTimer(key Key, deadline time.Time) {
	c.cancelTimer()

	c.generation++
	gen := c.generation
	k := key
	c.armed = &k
	c.deadline = deadline
	c.timer = c.clock.AfterFunc(deadline.Sub(c.clock.Now()), func() {
		c.expire(k, gen)
	})
}

// cancelTimer must be called with c.mu held.
func (c *Countdown) cancelTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.armed = nil
	c.generation++
}

func (c *Countdown) expire(key Key, gen uint64) {
	c.mu.Lock()
	if gen != c.generation || c.fired[key] {
		c.mu.Unlock()
		return
	}
	c.fired[key] = true
	c.armed = nil
	c.timer = nil
	c.mu.Unlock()

	log.Debug().
		Str("phase", string(key.Phase)).
		Int("question_index", key.QuestionIndex).
		Msg("countdown expired")
	c.onExpire(key)
}
