package player

import (
	"context"
	"errors"

	"connectrpc.com/connect"
	"github.com/mcdev12/livequiz/go/internal/rpc"
)

// Client calls a remote PlayerService.
type Client struct {
	join   *connect.Client[JoinRequest, JoinResponse]
	submit *connect.Client[SubmitAnswerMessage, SubmitAnswerResponse]
	list   *connect.Client[PlayersRequest, PlayersResponse]
	self   *connect.Client[GetSelfRequest, SelfResponse]
	watch  *connect.Client[PlayersRequest, PlayersResponse]
}

// NewClient creates a PlayerService client for baseURL.
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	opts = append([]connect.ClientOption{rpc.WithJSON()}, opts...)
	return &Client{
		join:   connect.NewClient[JoinRequest, JoinResponse](httpClient, baseURL+JoinProcedure, opts...),
		submit: connect.NewClient[SubmitAnswerMessage, SubmitAnswerResponse](httpClient, baseURL+SubmitAnswerProcedure, opts...),
		list:   connect.NewClient[PlayersRequest, PlayersResponse](httpClient, baseURL+ListPlayersProcedure, opts...),
		self:   connect.NewClient[GetSelfRequest, SelfResponse](httpClient, baseURL+GetSelfProcedure, opts...),
		watch:  connect.NewClient[PlayersRequest, PlayersResponse](httpClient, baseURL+WatchPlayersProcedure, opts...),
	}
}

func (c *Client) Join(ctx context.Context, req *JoinRequest) (*JoinResponse, error) {
	resp, err := c.join.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *Client) SubmitAnswer(ctx context.Context, req *SubmitAnswerMessage) (*SubmitAnswerResponse, error) {
	resp, err := c.submit.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *Client) ListPlayers(ctx context.Context, sessionID string) ([]View, error) {
	resp, err := c.list.CallUnary(ctx, connect.NewRequest(&PlayersRequest{SessionID: sessionID}))
	if err != nil {
		return nil, err
	}
	return resp.Msg.Players, nil
}

// GetSelf returns the caller's record in the session holding pin.
func (c *Client) GetSelf(ctx context.Context, pin string) (*SelfResponse, error) {
	resp, err := c.self.CallUnary(ctx, connect.NewRequest(&GetSelfRequest{Pin: pin}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// WatchPlayers opens a server stream of leaderboards. The caller must Close it.
func (c *Client) WatchPlayers(ctx context.Context, sessionID string) (*connect.ServerStreamForClient[PlayersResponse], error) {
	return c.watch.CallServerStream(ctx, connect.NewRequest(&PlayersRequest{SessionID: sessionID}))
}

// RemoteError restores the player sentinel behind a failed remote call.
func RemoteError(err error) error {
	switch rpc.Reason(err) {
	case ReasonNotJoined:
		return errors.Join(ErrNotJoined, err)
	case ReasonQuestionClosed:
		return errors.Join(ErrQuestionClosed, err)
	}
	return err
}
