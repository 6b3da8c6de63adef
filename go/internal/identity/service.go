package identity

import (
	"context"
	"errors"
	"net/http"

	"connectrpc.com/connect"
	"github.com/mcdev12/livequiz/go/internal/rpc"
	"github.com/rs/zerolog/log"
)

const ServiceName = "livequiz.identity.v1.IdentityService"

var IssueIdentityProcedure = rpc.Procedure(ServiceName, "IssueIdentity")

type IssueIdentityRequest struct {
	// DisplayName is required when Host is set.
	DisplayName string `json:"display_name,omitempty"`
	Host        bool   `json:"host"`
	// Token is a previously issued token; its identifier is kept.
	Token string `json:"token,omitempty"`
}

type IssueIdentityResponse struct {
	Identity Identity `json:"identity"`
	Token    string   `json:"token"`
}

// Service implements the IdentityService connect interface
type Service struct {
	issuer *Issuer
}

// NewService creates a new identity connect service.
func NewService(issuer *Issuer) *Service {
	return &Service{issuer: issuer}
}

// IssueIdentity mints a host (named) or anonymous identity token.
func (s *Service) IssueIdentity(ctx context.Context, req *connect.Request[IssueIdentityRequest]) (*connect.Response[IssueIdentityResponse], error) {
	var id string
	if req.Msg.Token != "" {
		prev, err := s.issuer.Verify(req.Msg.Token)
		if err != nil {
			log.Debug().Err(err).Msg("ignoring invalid identity token on refresh")
		} else {
			id = prev.ID
		}
	}

	var (
		token  string
		issued Identity
		err    error
	)
	if req.Msg.Host {
		token, issued, err = s.issuer.Named(id, req.Msg.DisplayName)
	} else {
		token, issued, err = s.issuer.Anonymous(id)
	}
	if err != nil {
		if errors.Is(err, ErrNameRequired) {
			return nil, connect.NewError(connect.CodeInvalidArgument, err)
		}
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	log.Info().
		Str("identity", issued.ID).
		Bool("anonymous", issued.Anonymous).
		Msg("issued identity")

	return connect.NewResponse(&IssueIdentityResponse{Identity: issued, Token: token}), nil
}

// NewHandler builds an HTTP handler for the IdentityService.
func NewHandler(svc *Service, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{rpc.WithJSON()}, opts...)
	issue := connect.NewUnaryHandler(IssueIdentityProcedure, svc.IssueIdentity, opts...)
	return "/" + ServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case IssueIdentityProcedure:
			issue.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

// Client calls a remote IdentityService.
type Client struct {
	issue *connect.Client[IssueIdentityRequest, IssueIdentityResponse]
}

// NewClient creates an IdentityService client for baseURL.
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	opts = append([]connect.ClientOption{rpc.WithJSON()}, opts...)
	return &Client{
		issue: connect.NewClient[IssueIdentityRequest, IssueIdentityResponse](httpClient, baseURL+IssueIdentityProcedure, opts...),
	}
}

func (c *Client) IssueIdentity(ctx context.Context, req *IssueIdentityRequest) (*IssueIdentityResponse, error) {
	resp, err := c.issue.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}
