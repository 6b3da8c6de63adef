package player

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/livequiz/go/internal/identity"
	"github.com/mcdev12/livequiz/go/internal/session"
)

func TestServiceOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	s := env.create(t)

	issuer, err := identity.NewIssuer("test-secret-0123456789", time.Hour, clockwork.NewRealClock())
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	mux := http.NewServeMux()
	mux.Handle(NewHandler(NewService(env.players), connect.WithInterceptors(identity.NewInterceptor(issuer))))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	token, who, err := issuer.Anonymous("")
	if err != nil {
		t.Fatalf("Anonymous: %v", err)
	}
	client := NewClient(srv.Client(), srv.URL, connect.WithInterceptors(identity.NewClientInterceptor(token)))
	ctx := context.Background()

	_, err = client.SubmitAnswer(ctx, &SubmitAnswerMessage{SessionID: s.ID.String(), QuestionIndex: 0})
	if !errors.Is(RemoteError(err), ErrQuestionClosed) {
		t.Fatalf("answer in lobby: err = %v", err)
	}

	if _, err := client.GetSelf(ctx, s.Pin); !errors.Is(RemoteError(err), ErrNotJoined) {
		t.Fatalf("self before join: err = %v", err)
	}

	joined, err := client.Join(ctx, &JoinRequest{Pin: s.Pin, DisplayName: "Ada"})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if joined.Player.Identity != who.ID || joined.Session.Pin != s.Pin || joined.Rejoined {
		t.Fatalf("join response = %+v", joined)
	}

	self, err := client.GetSelf(ctx, s.Pin)
	if err != nil {
		t.Fatalf("GetSelf: %v", err)
	}
	if self.Player.DisplayName != "Ada" || self.Player.Rank != 1 || self.Session.ID != s.ID.String() {
		t.Fatalf("self = %+v", self)
	}

	env.start(t, s)
	env.clock.Advance(5 * time.Second)
	first, err := client.SubmitAnswer(ctx, &SubmitAnswerMessage{SessionID: s.ID.String(), QuestionIndex: 0, AnswerIndex: 0, TimeLeftSec: 15})
	if err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	if first.Score != 1375 || first.AlreadyAnswered {
		t.Fatalf("first = %+v", first)
	}
	retry, err := client.SubmitAnswer(ctx, &SubmitAnswerMessage{SessionID: s.ID.String(), QuestionIndex: 0, AnswerIndex: 1, TimeLeftSec: 15})
	if err != nil {
		t.Fatalf("retry SubmitAnswer: %v", err)
	}
	if !retry.AlreadyAnswered || retry.Score != 1375 {
		t.Fatalf("retry = %+v", retry)
	}

	players, err := client.ListPlayers(ctx, s.ID.String())
	if err != nil {
		t.Fatalf("ListPlayers: %v", err)
	}
	if len(players) != 1 || players[0].Rank != 1 || players[0].Score != 1375 {
		t.Fatalf("players = %+v", players)
	}

	if _, err := client.Join(ctx, &JoinRequest{Pin: "12345", DisplayName: "Ada"}); connect.CodeOf(err) != connect.CodeNotFound {
		t.Fatalf("malformed pin: code = %v", connect.CodeOf(err))
	}

	env.clock.Advance(15 * time.Second)
	if _, err := env.sessions.TimeUp(hostCtx(), s.ID, 0); err != nil {
		t.Fatalf("TimeUp: %v", err)
	}
	env.clock.Advance(15 * time.Second)
	if _, err := env.sessions.EndIntermission(hostCtx(), s.ID, 0); err != nil {
		t.Fatalf("EndIntermission: %v", err)
	}
	if _, err := env.sessions.TimeUp(hostCtx(), s.ID, 1); err != nil {
		t.Fatalf("TimeUp: %v", err)
	}
	if _, err := env.sessions.EndIntermission(hostCtx(), s.ID, 1); err != nil {
		t.Fatalf("EndIntermission: %v", err)
	}
	_, err = client.Join(ctx, &JoinRequest{Pin: s.Pin, DisplayName: "Ada"})
	if !errors.Is(session.RemoteError(err), session.ErrSessionClosed) {
		t.Fatalf("join finished session: err = %v", err)
	}
}
