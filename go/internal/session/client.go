package session

import (
	"context"
	"errors"

	"connectrpc.com/connect"
	"github.com/mcdev12/livequiz/go/internal/rpc"
)

// Client calls a remote SessionService.
type Client struct {
	create          *connect.Client[CreateSessionRequest, SessionResponse]
	get             *connect.Client[GetSessionRequest, SessionResponse]
	getActive       *connect.Client[GetActiveSessionRequest, SessionResponse]
	startGame       *connect.Client[SessionRequest, SessionResponse]
	timeUp          *connect.Client[QuestionRequest, SessionResponse]
	advanceNow      *connect.Client[QuestionRequest, SessionResponse]
	endIntermission *connect.Client[QuestionRequest, SessionResponse]
	watch           *connect.Client[SessionRequest, SessionResponse]
}

// NewClient creates a SessionService client for baseURL.
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	opts = append([]connect.ClientOption{rpc.WithJSON()}, opts...)
	return &Client{
		create:          connect.NewClient[CreateSessionRequest, SessionResponse](httpClient, baseURL+CreateSessionProcedure, opts...),
		get:             connect.NewClient[GetSessionRequest, SessionResponse](httpClient, baseURL+GetSessionProcedure, opts...),
		getActive:       connect.NewClient[GetActiveSessionRequest, SessionResponse](httpClient, baseURL+GetActiveSessionProcedure, opts...),
		startGame:       connect.NewClient[SessionRequest, SessionResponse](httpClient, baseURL+StartGameProcedure, opts...),
		timeUp:          connect.NewClient[QuestionRequest, SessionResponse](httpClient, baseURL+TimeUpProcedure, opts...),
		advanceNow:      connect.NewClient[QuestionRequest, SessionResponse](httpClient, baseURL+AdvanceNowProcedure, opts...),
		endIntermission: connect.NewClient[QuestionRequest, SessionResponse](httpClient, baseURL+EndIntermissionProcedure, opts...),
		watch:           connect.NewClient[SessionRequest, SessionResponse](httpClient, baseURL+WatchSessionProcedure, opts...),
	}
}

func (c *Client) CreateSession(ctx context.Context, req *CreateSessionRequest) (View, error) {
	return unary(ctx, c.create, req)
}

func (c *Client) GetSession(ctx context.Context, req *GetSessionRequest) (View, error) {
	return unary(ctx, c.get, req)
}

// GetActiveSession returns the caller's live hosted session, if any.
func (c *Client) GetActiveSession(ctx context.Context) (View, error) {
	return unary(ctx, c.getActive, &GetActiveSessionRequest{})
}

func (c *Client) StartGame(ctx context.Context, sessionID string) (View, error) {
	return unary(ctx, c.startGame, &SessionRequest{SessionID: sessionID})
}

func (c *Client) TimeUp(ctx context.Context, sessionID string, questionIndex int) (View, error) {
	return unary(ctx, c.timeUp, &QuestionRequest{SessionID: sessionID, QuestionIndex: questionIndex})
}

func (c *Client) AdvanceNow(ctx context.Context, sessionID string, questionIndex int) (View, error) {
	return unary(ctx, c.advanceNow, &QuestionRequest{SessionID: sessionID, QuestionIndex: questionIndex})
}

func (c *Client) EndIntermission(ctx context.Context, sessionID string, questionIndex int) (View, error) {
	return unary(ctx, c.endIntermission, &QuestionRequest{SessionID: sessionID, QuestionIndex: questionIndex})
}

// WatchSession opens a server stream of session views. The caller must Close it.
func (c *Client) WatchSession(ctx context.Context, sessionID string) (*connect.ServerStreamForClient[SessionResponse], error) {
	return c.watch.CallServerStream(ctx, connect.NewRequest(&SessionRequest{SessionID: sessionID}))
}

func unary[Req any](ctx context.Context, client *connect.Client[Req, SessionResponse], req *Req) (View, error) {
	resp, err := client.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return View{}, err
	}
	return resp.Msg.Session, nil
}

// RemoteError restores the session sentinel behind a failed remote call so
// callers can match it with errors.Is.
func RemoteError(err error) error {
	if err == nil {
		return nil
	}
	switch rpc.Reason(err) {
	case ReasonExpired:
		return errors.Join(ErrExpired, err)
	case ReasonClosed:
		return errors.Join(ErrSessionClosed, err)
	case ReasonInvalidTransition:
		return errors.Join(ErrInvalidTransition, err)
	}
	if connect.CodeOf(err) == connect.CodePermissionDenied {
		return errors.Join(ErrNotHost, err)
	}
	return err
}
