package host

import (
	"context"
	"errors"
	"io"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/mcdev12/livequiz/go/internal/player"
	"github.com/mcdev12/livequiz/go/internal/session"
)

// Backend is the session as the host sees it: two change feeds and the
// host commands. Feeds close when ctx is done or the underlying stream ends.
type Backend interface {
	WatchSession(ctx context.Context) (<-chan session.View, error)
	WatchPlayers(ctx context.Context) (<-chan []player.View, error)
	// Refresh reads the session, persisting lazy expiry.
	Refresh(ctx context.Context) (session.View, error)
	TimeUp(ctx context.Context, questionIndex int) error
	AdvanceNow(ctx context.Context, questionIndex int) error
	EndIntermission(ctx context.Context, questionIndex int) error
}

// Local drives a session through in-process apps. ctx passed to its
// methods must carry the host identity.
type Local struct {
	sessionID uuid.UUID
	sessions  *session.App
	players   *player.App
}

// NewLocal creates a backend over the in-process apps.
func NewLocal(sessionID uuid.UUID, sessions *session.App, players *player.App) *Local {
	return &Local{sessionID: sessionID, sessions: sessions, players: players}
}

func (l *Local) WatchSession(ctx context.Context) (<-chan session.View, error) {
	sub, err := l.sessions.WatchSession(ctx, l.sessionID)
	if err != nil {
		return nil, err
	}
	out := make(chan session.View, 1)
	go func() {
		defer close(out)
		defer sub.Close()
		for s := range sub.Changes() {
			select {
			case out <- session.NewView(s, l.sessions.Now()):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (l *Local) WatchPlayers(ctx context.Context) (<-chan []player.View, error) {
	sub, err := l.players.WatchPlayers(ctx, l.sessionID)
	if err != nil {
		return nil, err
	}
	out := make(chan []player.View, 1)
	go func() {
		defer close(out)
		defer sub.Close()
		for players := range sub.Changes() {
			select {
			case out <- player.Leaderboard(players):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (l *Local) Refresh(ctx context.Context) (session.View, error) {
	s, err := l.sessions.GetSession(ctx, l.sessionID)
	if err != nil {
		return session.View{}, err
	}
	return session.NewView(s, l.sessions.Now()), nil
}

func (l *Local) TimeUp(ctx context.Context, questionIndex int) error {
	_, err := l.sessions.TimeUp(ctx, l.sessionID, questionIndex)
	return err
}

func (l *Local) AdvanceNow(ctx context.Context, questionIndex int) error {
	_, err := l.sessions.AdvanceNow(ctx, l.sessionID, questionIndex)
	return err
}

func (l *Local) EndIntermission(ctx context.Context, questionIndex int) error {
	_, err := l.sessions.EndIntermission(ctx, l.sessionID, questionIndex)
	return err
}

// Remote drives a session through the connect services.
type Remote struct {
	sessionID string
	sessions  *session.Client
	players   *player.Client
}

// NewRemote creates a backend that talks to the server over connect.
func NewRemote(sessionID string, sessions *session.Client, players *player.Client) *Remote {
	return &Remote{sessionID: sessionID, sessions: sessions, players: players}
}

func (r *Remote) WatchSession(ctx context.Context) (<-chan session.View, error) {
	stream, err := r.sessions.WatchSession(ctx, r.sessionID)
	if err != nil {
		return nil, session.RemoteError(err)
	}
	return forward(ctx, stream, func(m *session.SessionResponse) session.View { return m.Session }), nil
}

func (r *Remote) WatchPlayers(ctx context.Context) (<-chan []player.View, error) {
	stream, err := r.players.WatchPlayers(ctx, r.sessionID)
	if err != nil {
		return nil, session.RemoteError(err)
	}
	return forward(ctx, stream, func(m *player.PlayersResponse) []player.View { return m.Players }), nil
}

func (r *Remote) Refresh(ctx context.Context) (session.View, error) {
	v, err := r.sessions.GetSession(ctx, &session.GetSessionRequest{SessionID: r.sessionID})
	return v, session.RemoteError(err)
}

func (r *Remote) TimeUp(ctx context.Context, questionIndex int) error {
	_, err := r.sessions.TimeUp(ctx, r.sessionID, questionIndex)
	return session.RemoteError(err)
}

func (r *Remote) AdvanceNow(ctx context.Context, questionIndex int) error {
	_, err := r.sessions.AdvanceNow(ctx, r.sessionID, questionIndex)
	return session.RemoteError(err)
}

func (r *Remote) EndIntermission(ctx context.Context, questionIndex int) error {
	_, err := r.sessions.EndIntermission(ctx, r.sessionID, questionIndex)
	return session.RemoteError(err)
}

// forward pumps a server stream into a channel until either side is done.
func forward[M, T any](ctx context.Context, stream *connect.ServerStreamForClient[M], fn func(*M) T) <-chan T {
	out := make(chan T, 1)
	go func() {
		defer close(out)
		defer stream.Close()
		for stream.Receive() {
			select {
			case out <- fn(stream.Msg()):
			case <-ctx.Done():
				return
			}
		}
		if err := stream.Err(); err != nil && !errors.Is(err, io.EOF) && ctx.Err() == nil {
			logStreamError(err)
		}
	}()
	return out
}
