package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/livequiz/go/internal/store"
	"github.com/rs/zerolog/log"
)

// SweeperConfig tunes the expiry sweeper.
type SweeperConfig struct {
	Workers      int
	BatchSize    int
	IdleInterval time.Duration
	MaxRetries   int
}

// DefaultSweeperConfig returns the sweeper settings used by the server.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Workers:      4,
		BatchSize:    50,
		IdleInterval: 30 * time.Second,
		MaxRetries:   3,
	}
}

// Sweeper persists the expiry of lobbies nobody reads anymore. It sleeps
// until the earliest expiresAt among Waiting sessions and hands due sessions
// to a worker pool.
type Sweeper struct {
	app   *App
	store store.Store
	clock clockwork.Clock
	cfg   SweeperConfig

	instanceID string
	wakeCh     chan struct{}
	workCh     chan uuid.UUID

	inFlight   map[uuid.UUID]bool
	inFlightMu sync.Mutex
}

// NewSweeper creates a sweeper that expires idle lobbies through app.
func NewSweeper(app *App, st store.Store, clock clockwork.Clock, cfg SweeperConfig) *Sweeper {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultSweeperConfig().BatchSize
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = DefaultSweeperConfig().IdleInterval
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Sweeper{
		app:        app,
		store:      st,
		clock:      clock,
		cfg:        cfg,
		instanceID: uuid.New().String()[:8],
		wakeCh:     make(chan struct{}, 1),
		workCh:     make(chan uuid.UUID, cfg.Workers*2),
		inFlight:   make(map[uuid.UUID]bool),
	}
}

// Wake makes the sweeper re-read the next deadline, e.g. after a new lobby opened.
func (sw *Sweeper) Wake() {
	select {
	case sw.wakeCh <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is cancelled or the store keeps failing.
func (sw *Sweeper) Run(ctx context.Context) error {
	log.Info().Str("instance", sw.instanceID).Int("workers", sw.cfg.Workers).Msg("expiry sweeper started")

	var wg sync.WaitGroup
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	for i := 0; i < sw.cfg.Workers; i++ {
		wg.Add(1)
		go sw.worker(workerCtx, &wg, i)
	}

	defer func() {
		cancelWorkers()
		close(sw.workCh)
		wg.Wait()
		log.Info().Str("instance", sw.instanceID).Msg("expiry sweeper stopped")
	}()

	retryCount := 0
	for {
		select {
		case <-sw.wakeCh:
		default:
		}

		next, err := sw.store.NextExpiry(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			retryCount++
			if retryCount > sw.cfg.MaxRetries {
				log.Error().Err(err).Str("instance", sw.instanceID).Msg("failed to fetch next expiry after retries")
				return err
			}
			log.Error().
				Err(err).
				Int("retry", retryCount).
				Str("instance", sw.instanceID).
				Msg("failed to fetch next expiry, retrying")
			if !sw.sleep(ctx, time.Second*time.Duration(retryCount)) {
				return nil
			}
			continue
		}
		retryCount = 0

		if next == nil {
			log.Debug().Str("instance", sw.instanceID).Msg("no open lobbies")
			if !sw.sleep(ctx, sw.cfg.IdleInterval) {
				return nil
			}
			continue
		}

		// Expiry is strict: a lobby is still open at exactly expiresAt.
		wait := next.Sub(sw.clock.Now()) + time.Millisecond
		if wait > 0 {
			if !sw.sleep(ctx, min(wait, sw.cfg.IdleInterval)) {
				return nil
			}
			continue
		}

		due, err := sw.store.ListExpiredSessions(ctx, sw.clock.Now(), sw.cfg.BatchSize)
		if err != nil {
			log.Error().Err(err).Str("instance", sw.instanceID).Msg("failed to list expired sessions")
			if !sw.sleep(ctx, time.Second) {
				return nil
			}
			continue
		}

		queued := 0
		for _, id := range due {
			if !sw.claim(id) {
				continue
			}
			select {
			case <-ctx.Done():
				sw.release(id)
				return nil
			case sw.workCh <- id:
				queued++
			}
		}
		if queued > 0 {
			log.Info().Int("count_due", queued).Str("instance", sw.instanceID).Msg("expiring lobbies")
		}
		if queued == 0 || len(due) < sw.cfg.BatchSize {
			// Workers wake the loop when they finish.
			if !sw.sleep(ctx, sw.cfg.IdleInterval) {
				return nil
			}
		}
	}
}

// sleep waits for d, a wake-up or ctx. It returns false once ctx is done.
func (sw *Sweeper) sleep(ctx context.Context, d time.Duration) bool {
	timer := sw.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.Chan():
		return true
	case <-sw.wakeCh:
		return true
	case <-ctx.Done():
		return false
	}
}

func (sw *Sweeper) claim(id uuid.UUID) bool {
	sw.inFlightMu.Lock()
	defer sw.inFlightMu.Unlock()
	if sw.inFlight[id] {
		return false
	}
	sw.inFlight[id] = true
	return true
}

func (sw *Sweeper) release(id uuid.UUID) {
	sw.inFlightMu.Lock()
	delete(sw.inFlight, id)
	sw.inFlightMu.Unlock()
}

func (sw *Sweeper) worker(ctx context.Context, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-sw.workCh:
			if !ok {
				return
			}
			_, err := sw.app.ExpireSession(ctx, id)
			sw.release(id)
			if err != nil {
				log.Error().
					Err(err).
					Str("session_id", id.String()).
					Str("instance", sw.instanceID).
					Int("worker_id", workerID).
					Msg("failed to expire session")
				continue
			}
			sw.Wake()
		}
	}
}
