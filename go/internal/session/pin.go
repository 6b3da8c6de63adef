package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/livequiz/go/internal/models"
	"github.com/mcdev12/livequiz/go/internal/store"
	"github.com/rs/zerolog/log"
)

const (
	minPin             = 100000
	maxPin             = 999999
	DefaultPinAttempts = 10
)

// PinAllocator issues session pins that no live session holds.
type PinAllocator struct {
	store    store.Store
	attempts int
	draw     func() string
	// expire retires a stale lobby before its pin is reused.
	expire func(ctx context.Context, id uuid.UUID) (bool, error)
}

// NewPinAllocator creates an allocator that tries up to attempts pins per
// session. Zero or less means DefaultPinAttempts.
func NewPinAllocator(st store.Store, attempts int) *PinAllocator {
	if attempts <= 0 {
		attempts = DefaultPinAttempts
	}
	return &PinAllocator{store: st, attempts: attempts, draw: randomPin}
}

func randomPin() string {
	return strconv.Itoa(minPin + rand.IntN(maxPin-minPin+1))
}

// Allocate draws pins until build's session can be created under one.
// The store's pin check at insert time is authoritative.
func (p *PinAllocator) Allocate(ctx context.Context, now time.Time, build func(pin string) *models.Session) (*models.Session, error) {
	for attempt := 1; attempt <= p.attempts; attempt++ {
		pin := p.draw()

		existing, err := p.store.GetSessionByPin(ctx, pin)
		switch {
		case err == nil && existing.Live(now):
			log.Debug().Str("pin", pin).Int("attempt", attempt).Msg("pin held by a live session, redrawing")
			continue
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("failed to check pin: %w", err)
		case err == nil && existing.ExpiredAt(now) && p.expire != nil:
			// The store would otherwise retire the lobby silently at insert.
			if _, err := p.expire(ctx, existing.ID); err != nil {
				log.Warn().Err(err).Str("session_id", existing.ID.String()).Msg("failed to expire stale lobby")
			}
		}

		session := build(pin)
		err = p.store.CreateSession(ctx, session)
		if errors.Is(err, store.ErrPinTaken) {
			log.Debug().Str("pin", pin).Int("attempt", attempt).Msg("pin taken at insert, redrawing")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create session: %w", err)
		}
		return session, nil
	}

	log.Warn().Int("attempts", p.attempts).Msg("pin allocation exhausted")
	return nil, ErrAllocationExhausted
}
