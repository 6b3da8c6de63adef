package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

const (
	sessionChannel = "quiz_session_changed"
	playersChannel = "quiz_players_changed"
)

type ListenerConfig struct {
	DatabaseURL      string        // Postgres DSN for LISTEN/NOTIFY
	FallbackInterval time.Duration // How often to republish every subscribed topic
	PingInterval     time.Duration
}

// DefaultListenerConfig returns the listener's resync and ping intervals.
func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		FallbackInterval: 30 * time.Second,
		PingInterval:     90 * time.Second,
	}
}

// Listener turns row-change notifications from any process into hub refreshes.
type Listener struct {
	store    *Store
	listener *pq.Listener
	cfg      ListenerConfig
}

// NewListener creates a listener on cfg.DatabaseURL that refreshes s's hub.
func NewListener(s *Store, cfg ListenerConfig) (*Listener, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	for _, channel := range []string{sessionChannel, playersChannel} {
		if err := l.Listen(channel); err != nil {
			_ = l.Close()
			return nil, fmt.Errorf("failed to listen to channel %s: %w", channel, err)
		}
	}

	log.Info().
		Strs("channels", []string{sessionChannel, playersChannel}).
		Msg("listening for notifications")

	return &Listener{store: s, listener: l, cfg: cfg}, nil
}

// Start blocks until ctx is cancelled.
func (l *Listener) Start(ctx context.Context) error {
	log.Info().
		Dur("ping_interval", l.cfg.PingInterval).
		Dur("fallback_interval", l.cfg.FallbackInterval).
		Msg("listener started")

	pingTicker := time.NewTicker(l.cfg.PingInterval)
	fallbackTicker := time.NewTicker(l.cfg.FallbackInterval)
	defer pingTicker.Stop()
	defer fallbackTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("listener shutting down")
			return l.Stop()
		case note := <-l.listener.Notify:
			if note == nil {
				// nil notification means the connection was re-established; anything may have been missed
				l.store.resync()
				continue
			}
			l.handleNotification(note.Channel, note.Extra)
		case <-fallbackTicker.C:
			l.store.resync()
		case <-pingTicker.C:
			if err := l.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (l *Listener) Stop() error {
	return l.listener.Close()
}

func (l *Listener) handleNotification(channel, extra string) {
	switch channel {
	case sessionChannel:
		l.store.refreshSession(extra)
	case playersChannel:
		l.store.refreshPlayers(extra)
	default:
		log.Warn().Str("channel", channel).Msg("notification on unexpected channel")
	}
}
