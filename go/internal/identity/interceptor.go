package identity

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"connectrpc.com/connect"
)

const authorizationHeader = "Authorization"

// Verifier turns a bearer token into an Identity.
type Verifier interface {
	Verify(token string) (Identity, error)
}

// Interceptor authenticates incoming calls and stores the caller on the
// context. Procedures listed as public are let through without a token.
type Interceptor struct {
	verifier Verifier
	public   map[string]bool
}

var _ connect.Interceptor = (*Interceptor)(nil)

// NewInterceptor creates a server interceptor that requires a valid bearer
// token on every procedure except publicProcedures.
func NewInterceptor(verifier Verifier, publicProcedures ...string) *Interceptor {
	public := make(map[string]bool, len(publicProcedures))
	for _, p := range publicProcedures {
		public[p] = true
	}
	return &Interceptor{verifier: verifier, public: public}
}

func (i *Interceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		if req.Spec().IsClient {
			return next(ctx, req)
		}
		ctx, err := i.authenticate(ctx, req.Spec().Procedure, req.Header())
		if err != nil {
			return nil, err
		}
		return next(ctx, req)
	}
}

func (i *Interceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

func (i *Interceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		ctx, err := i.authenticate(ctx, conn.Spec().Procedure, conn.RequestHeader())
		if err != nil {
			return err
		}
		return next(ctx, conn)
	}
}

func (i *Interceptor) authenticate(ctx context.Context, procedure string, header http.Header) (context.Context, error) {
	token, ok := bearerToken(header)
	if !ok {
		if i.public[procedure] {
			return ctx, nil
		}
		return ctx, connect.NewError(connect.CodeUnauthenticated, errors.New("missing identity token"))
	}
	id, err := i.verifier.Verify(token)
	if err != nil {
		return ctx, connect.NewError(connect.CodeUnauthenticated, err)
	}
	return WithIdentity(ctx, id), nil
}

func bearerToken(header http.Header) (string, bool) {
	raw := header.Get(authorizationHeader)
	token, found := strings.CutPrefix(raw, "Bearer ")
	if !found || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

// ClientInterceptor attaches a bearer token to every outgoing call.
type ClientInterceptor struct {
	token string
}

var _ connect.Interceptor = (*ClientInterceptor)(nil)

// NewClientInterceptor creates a client interceptor that sends token.
func NewClientInterceptor(token string) *ClientInterceptor {
	return &ClientInterceptor{token: token}
}

func (c *ClientInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		if req.Spec().IsClient {
			req.Header().Set(authorizationHeader, "Bearer "+c.token)
		}
		return next(ctx, req)
	}
}

func (c *ClientInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return func(ctx context.Context, spec connect.Spec) connect.StreamingClientConn {
		conn := next(ctx, spec)
		conn.RequestHeader().Set(authorizationHeader, "Bearer "+c.token)
		return conn
	}
}

func (c *ClientInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return next
}
