// Package identity issues and verifies the opaque, session-lifetime-stable
// identifiers hosts and players act under.
package identity

import "context"

// Identity is the verified caller of an RPC.
type Identity struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Anonymous bool   `json:"anonymous"`
}

type ctxKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by WithIdentity.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok && id.ID != ""
}
