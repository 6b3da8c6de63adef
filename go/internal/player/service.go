package player

import (
	"context"
	"fmt"
	"net/http"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/mcdev12/livequiz/go/internal/models"
	"github.com/mcdev12/livequiz/go/internal/rpc"
	"github.com/mcdev12/livequiz/go/internal/session"
	"github.com/rs/zerolog/log"
)

const ServiceName = "livequiz.player.v1.PlayerService"

var (
	JoinProcedure         = rpc.Procedure(ServiceName, "Join")
	SubmitAnswerProcedure = rpc.Procedure(ServiceName, "SubmitAnswer")
	ListPlayersProcedure  = rpc.Procedure(ServiceName, "ListPlayers")
	GetSelfProcedure      = rpc.Procedure(ServiceName, "GetSelf")
	WatchPlayersProcedure = rpc.Procedure(ServiceName, "WatchPlayers")
)

const (
	ReasonNotJoined      = "not_joined"
	ReasonQuestionClosed = "question_closed"
)

// ErrorRules maps the player taxonomy, then the session one, onto connect codes.
var ErrorRules = append([]rpc.Rule{
	{Target: ErrIdentityRequired, Code: connect.CodeUnauthenticated},
	{Target: ErrInvalidName, Code: connect.CodeInvalidArgument},
	{Target: ErrInvalidAnswer, Code: connect.CodeInvalidArgument},
	{Target: ErrNotJoined, Code: connect.CodeFailedPrecondition, Reason: ReasonNotJoined},
	{Target: ErrQuestionClosed, Code: connect.CodeFailedPrecondition, Reason: ReasonQuestionClosed},
}, session.ErrorRules...)

type JoinResponse struct {
	Session  session.View `json:"session"`
	Player   View         `json:"player"`
	Rejoined bool         `json:"rejoined"`
}

type GetSelfRequest struct {
	Pin string `json:"pin"`
}

type SelfResponse struct {
	Session session.View `json:"session"`
	Player  View         `json:"player"`
}

type SubmitAnswerMessage struct {
	SessionID     string `json:"session_id"`
	QuestionIndex int    `json:"question_index"`
	AnswerIndex   int    `json:"answer_index"`
	TimeLeftSec   int    `json:"time_left_sec"`
}

type SubmitAnswerResponse struct {
	Answer          models.Answer `json:"answer"`
	Score           int           `json:"score"`
	AlreadyAnswered bool          `json:"already_answered"`
}

type PlayersRequest struct {
	SessionID string `json:"session_id"`
}

type PlayersResponse struct {
	Players []View `json:"players"`
}

// Service implements the PlayerService connect interface
type Service struct {
	app *App
}

// NewService creates a new player connect service.
func NewService(app *App) *Service {
	return &Service{app: app}
}

func (s *Service) Join(ctx context.Context, req *connect.Request[JoinRequest]) (*connect.Response[JoinResponse], error) {
	res, err := s.app.Join(ctx, *req.Msg)
	if err != nil {
		return nil, rpc.ToConnectError(err, ErrorRules...)
	}
	return connect.NewResponse(&JoinResponse{
		Session:  session.NewView(res.Session, s.app.sessions.Now()),
		Player:   NewView(res.Player, 0),
		Rejoined: res.Rejoined,
	}), nil
}

func (s *Service) SubmitAnswer(ctx context.Context, req *connect.Request[SubmitAnswerMessage]) (*connect.Response[SubmitAnswerResponse], error) {
	id, err := parseID(req.Msg.SessionID)
	if err != nil {
		return nil, err
	}
	res, err := s.app.SubmitAnswer(ctx, SubmitAnswerRequest{
		SessionID:     id,
		QuestionIndex: req.Msg.QuestionIndex,
		AnswerIndex:   req.Msg.AnswerIndex,
		TimeLeftSec:   req.Msg.TimeLeftSec,
	})
	if err != nil {
		return nil, rpc.ToConnectError(err, ErrorRules...)
	}
	return connect.NewResponse(&SubmitAnswerResponse{
		Answer:          res.Answer,
		Score:           res.Score,
		AlreadyAnswered: res.AlreadyAnswered,
	}), nil
}

// GetSelf returns the caller's own player record for a pin.
func (s *Service) GetSelf(ctx context.Context, req *connect.Request[GetSelfRequest]) (*connect.Response[SelfResponse], error) {
	res, err := s.app.GetSelf(ctx, req.Msg.Pin)
	if err != nil {
		return nil, rpc.ToConnectError(err, ErrorRules...)
	}
	return connect.NewResponse(&SelfResponse{
		Session: session.NewView(res.Session, s.app.sessions.Now()),
		Player:  NewView(res.Player, res.Rank),
	}), nil
}

func (s *Service) ListPlayers(ctx context.Context, req *connect.Request[PlayersRequest]) (*connect.Response[PlayersResponse], error) {
	id, err := parseID(req.Msg.SessionID)
	if err != nil {
		return nil, err
	}
	players, err := s.app.ListPlayers(ctx, id)
	if err != nil {
		return nil, rpc.ToConnectError(err, ErrorRules...)
	}
	return connect.NewResponse(&PlayersResponse{Players: Leaderboard(players)}), nil
}

// WatchPlayers streams the leaderboard until the client goes away.
func (s *Service) WatchPlayers(ctx context.Context, req *connect.Request[PlayersRequest], stream *connect.ServerStream[PlayersResponse]) error {
	id, err := parseID(req.Msg.SessionID)
	if err != nil {
		return err
	}
	sub, err := s.app.WatchPlayers(ctx, id)
	if err != nil {
		return rpc.ToConnectError(err, ErrorRules...)
	}
	defer sub.Close()

	log.Debug().Str("session_id", id.String()).Msg("player watch opened")
	for {
		select {
		case <-ctx.Done():
			return nil
		case players, ok := <-sub.Changes():
			if !ok {
				return nil
			}
			if err := stream.Send(&PlayersResponse{Players: Leaderboard(players)}); err != nil {
				return err
			}
		}
	}
}

func parseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("invalid session id: %w", err))
	}
	return id, nil
}

// NewHandler builds an HTTP handler for the PlayerService.
func NewHandler(svc *Service, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{rpc.WithJSON()}, opts...)
	handlers := map[string]http.Handler{
		JoinProcedure:         connect.NewUnaryHandler(JoinProcedure, svc.Join, opts...),
		SubmitAnswerProcedure: connect.NewUnaryHandler(SubmitAnswerProcedure, svc.SubmitAnswer, opts...),
		ListPlayersProcedure:  connect.NewUnaryHandler(ListPlayersProcedure, svc.ListPlayers, opts...),
		GetSelfProcedure:      connect.NewUnaryHandler(GetSelfProcedure, svc.GetSelf, opts...),
		WatchPlayersProcedure: connect.NewServerStreamHandler(WatchPlayersProcedure, svc.WatchPlayers, opts...),
	}
	return "/" + ServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, ok := handlers[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		h.ServeHTTP(w, r)
	})
}
