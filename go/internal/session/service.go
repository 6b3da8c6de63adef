package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/mcdev12/livequiz/go/internal/models"
	"github.com/mcdev12/livequiz/go/internal/rpc"
	"github.com/mcdev12/livequiz/go/internal/store"
	"github.com/rs/zerolog/log"
)

const ServiceName = "livequiz.session.v1.SessionService"

var (
	CreateSessionProcedure    = rpc.Procedure(ServiceName, "CreateSession")
	GetSessionProcedure       = rpc.Procedure(ServiceName, "GetSession")
	GetActiveSessionProcedure = rpc.Procedure(ServiceName, "GetActiveSession")
	StartGameProcedure        = rpc.Procedure(ServiceName, "StartGame")
	TimeUpProcedure           = rpc.Procedure(ServiceName, "TimeUp")
	AdvanceNowProcedure       = rpc.Procedure(ServiceName, "AdvanceNow")
	EndIntermissionProcedure  = rpc.Procedure(ServiceName, "EndIntermission")
	WatchSessionProcedure     = rpc.Procedure(ServiceName, "WatchSession")
)

// Error reasons sent with failed_precondition responses.
const (
	ReasonExpired           = "expired"
	ReasonClosed            = "session_closed"
	ReasonInvalidTransition = "invalid_transition"
)

// ErrorRules maps the session taxonomy onto connect codes.
var ErrorRules = []rpc.Rule{
	{Target: ErrExpired, Code: connect.CodeFailedPrecondition, Reason: ReasonExpired},
	{Target: ErrSessionClosed, Code: connect.CodeFailedPrecondition, Reason: ReasonClosed},
	{Target: ErrInvalidTransition, Code: connect.CodeFailedPrecondition, Reason: ReasonInvalidTransition},
	{Target: ErrNotHost, Code: connect.CodePermissionDenied},
	{Target: ErrAllocationExhausted, Code: connect.CodeUnavailable},
	{Target: ErrInvalidQuiz, Code: connect.CodeInvalidArgument},
}

type GetSessionRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Pin       string `json:"pin,omitempty"`
}

type GetActiveSessionRequest struct{}

type SessionRequest struct {
	SessionID string `json:"session_id"`
}

type QuestionRequest struct {
	SessionID     string `json:"session_id"`
	QuestionIndex int    `json:"question_index"`
}

type SessionResponse struct {
	Session View `json:"session"`
}

// Service implements the SessionService connect interface
type Service struct {
	app *App
}

// NewService creates a new session connect service.
func NewService(app *App) *Service {
	return &Service{app: app}
}

func (s *Service) CreateSession(ctx context.Context, req *connect.Request[CreateSessionRequest]) (*connect.Response[SessionResponse], error) {
	session, err := s.app.CreateSession(ctx, *req.Msg)
	return s.respond(session, err)
}

func (s *Service) GetSession(ctx context.Context, req *connect.Request[GetSessionRequest]) (*connect.Response[SessionResponse], error) {
	var (
		session *models.Session
		err     error
	)
	switch {
	case req.Msg.SessionID != "":
		id, perr := parseID(req.Msg.SessionID)
		if perr != nil {
			return nil, perr
		}
		session, err = s.app.GetSession(ctx, id)
	case req.Msg.Pin != "":
		session, err = s.app.GetSessionByPin(ctx, req.Msg.Pin)
	default:
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("session_id or pin is required"))
	}
	return s.respond(session, err)
}

// GetActiveSession returns the caller's newest live hosted session.
func (s *Service) GetActiveSession(ctx context.Context, _ *connect.Request[GetActiveSessionRequest]) (*connect.Response[SessionResponse], error) {
	return s.respond(s.app.ActiveSessionForHost(ctx))
}

func (s *Service) StartGame(ctx context.Context, req *connect.Request[SessionRequest]) (*connect.Response[SessionResponse], error) {
	id, err := parseID(req.Msg.SessionID)
	if err != nil {
		return nil, err
	}
	return s.respond(s.app.StartGame(ctx, id))
}

func (s *Service) TimeUp(ctx context.Context, req *connect.Request[QuestionRequest]) (*connect.Response[SessionResponse], error) {
	id, err := parseID(req.Msg.SessionID)
	if err != nil {
		return nil, err
	}
	return s.respond(s.app.TimeUp(ctx, id, req.Msg.QuestionIndex))
}

func (s *Service) AdvanceNow(ctx context.Context, req *connect.Request[QuestionRequest]) (*connect.Response[SessionResponse], error) {
	id, err := parseID(req.Msg.SessionID)
	if err != nil {
		return nil, err
	}
	return s.respond(s.app.AdvanceNow(ctx, id, req.Msg.QuestionIndex))
}

func (s *Service) EndIntermission(ctx context.Context, req *connect.Request[QuestionRequest]) (*connect.Response[SessionResponse], error) {
	id, err := parseID(req.Msg.SessionID)
	if err != nil {
		return nil, err
	}
	return s.respond(s.app.EndIntermission(ctx, id, req.Msg.QuestionIndex))
}

// WatchSession streams a view on every committed change until the client goes away.
func (s *Service) WatchSession(ctx context.Context, req *connect.Request[SessionRequest], stream *connect.ServerStream[SessionResponse]) error {
	id, err := parseID(req.Msg.SessionID)
	if err != nil {
		return err
	}
	sub, err := s.app.WatchSession(ctx, id)
	if err != nil {
		return rpc.ToConnectError(err, ErrorRules...)
	}
	defer sub.Close()

	log.Debug().Str("session_id", id.String()).Msg("session watch opened")
	for {
		select {
		case <-ctx.Done():
			return nil
		case session, ok := <-sub.Changes():
			if !ok {
				return nil
			}
			if err := stream.Send(&SessionResponse{Session: NewView(session, s.app.Now())}); err != nil {
				return err
			}
		}
	}
}

func (s *Service) respond(session *models.Session, err error) (*connect.Response[SessionResponse], error) {
	if err != nil {
		return nil, rpc.ToConnectError(err, ErrorRules...)
	}
	return connect.NewResponse(&SessionResponse{Session: NewView(session, s.app.Now())}), nil
}

func parseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("invalid session id: %w", err))
	}
	return id, nil
}

// NewHandler builds an HTTP handler for the SessionService.
func NewHandler(svc *Service, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{rpc.WithJSON()}, opts...)
	handlers := map[string]http.Handler{
		CreateSessionProcedure:    connect.NewUnaryHandler(CreateSessionProcedure, svc.CreateSession, opts...),
		GetSessionProcedure:       connect.NewUnaryHandler(GetSessionProcedure, svc.GetSession, opts...),
		GetActiveSessionProcedure: connect.NewUnaryHandler(GetActiveSessionProcedure, svc.GetActiveSession, opts...),
		StartGameProcedure:        connect.NewUnaryHandler(StartGameProcedure, svc.StartGame, opts...),
		TimeUpProcedure:           connect.NewUnaryHandler(TimeUpProcedure, svc.TimeUp, opts...),
		AdvanceNowProcedure:       connect.NewUnaryHandler(AdvanceNowProcedure, svc.AdvanceNow, opts...),
		EndIntermissionProcedure:  connect.NewUnaryHandler(EndIntermissionProcedure, svc.EndIntermission, opts...),
		WatchSessionProcedure:     connect.NewServerStreamHandler(WatchSessionProcedure, svc.WatchSession, opts...),
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

// IsNotFound reports whether err, local or remote, means no such session.
func IsNotFound(err error) bool {
	return connect.CodeOf(err) == connect.CodeNotFound || errors.Is(err, store.ErrNotFound)
}
