package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const tokenIssuer = "livequiz"

var (
	ErrInvalidToken = errors.New("invalid identity token")
	ErrNameRequired = errors.New("a display name is required for a named identity")
)

type claims struct {
	jwt.RegisteredClaims
	Name      string `json:"name,omitempty"`
	Anonymous bool   `json:"anon"`
}

// Issuer mints and verifies HS256 identity tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	clock  clockwork.Clock
}

// NewIssuer creates an HS256 token issuer. secret must be at least 16 bytes.
func NewIssuer(secret string, ttl time.Duration, clock clockwork.Clock) (*Issuer, error) {
	if len(secret) < 16 {
		return nil, errors.New("identity secret must be at least 16 bytes")
	}
	if ttl <= 0 {
		return nil, errors.New("identity token ttl must be positive")
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, clock: clock}, nil
}

// Named returns a token for a host-style identity carrying a display name.
// Passing an existing identity id keeps it stable across refreshes.
func (i *Issuer) Named(id, name string) (string, Identity, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", Identity{}, ErrNameRequired
	}
	return i.issue(Identity{ID: id, Name: name})
}

// Anonymous returns a token for an unnamed player identity.
func (i *Issuer) Anonymous(id string) (string, Identity, error) {
	return i.issue(Identity{ID: id, Anonymous: true})
}

func (i *Issuer) issue(id Identity) (string, Identity, error) {
	if id.ID == "" {
		id.ID = uuid.NewString()
	}
	now := i.clock.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Name:      id.Name,
		Anonymous: id.Anonymous,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.secret)
	if err != nil {
		return "", Identity{}, fmt.Errorf("failed to sign identity token: %w", err)
	}
	return signed, id, nil
}

// Verify parses token and returns the identity it carries.
func (i *Issuer) Verify(token string) (Identity, error) {
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.clock.Now),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if c.Subject == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return Identity{ID: c.Subject, Name: c.Name, Anonymous: c.Anonymous}, nil
}
