package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Header names.
const (
	UserIDHeader       = "X-User-Id"
	GatewayTokenHeader = "X-Gateway-Token"
)

// DefaultUserID is the mock identity substituted when a request carries no
// usable user header. It matches the first seeded user.
var DefaultUserID = uuid.MustParse("12345678-1234-1234-1234-123456789012")

// ErrUnauthenticated is returned when no identity can be established.
var ErrUnauthenticated = errors.New("user identity required")

// Resolver extracts the caller's identity from a request.
type Resolver interface {
	Resolve(r *http.Request) (Identity, error)
}

// HeaderResolver trusts the X-User-Id header. Missing or malformed values
// resolve to Fallback; with a zero Fallback they are rejected instead.
type HeaderResolver struct {
	Fallback uuid.UUID
}

// NewMockResolver returns a HeaderResolver that falls back to DefaultUserID.
func NewMockResolver() *HeaderResolver {
	return &HeaderResolver{Fallback: DefaultUserID}
}

// Resolve implements Resolver.
func (h *HeaderResolver) Resolve(r *http.Request) (Identity, error) {
	if id, ok := parseUserID(r.Header.Get(UserIDHeader)); ok {
		return Identity{UserID: id, Source: SourceHeader}, nil
	}
	if h.Fallback != uuid.Nil {
		return Identity{UserID: h.Fallback, Source: SourceDefault}, nil
	}
	return Identity{}, ErrUnauthenticated
}

// GatewayResolver accepts X-User-Id only from callers presenting a gateway
// token that matches the configured Argon2id hash. Accepted tokens are
// memoized by QuickHash so the KDF runs once per valid token.
type GatewayResolver struct {
	tokenHash string
	verified  sync.Map // QuickHash(token) -> struct{}
}

// NewGatewayResolver validates tokenHash and returns a GatewayResolver.
func NewGatewayResolver(tokenHash string) (*GatewayResolver, error) {
	if err := ParseHash(tokenHash); err != nil {
		return nil, fmt.Errorf("gateway token hash: %w", err)
	}
	return &GatewayResolver{tokenHash: tokenHash}, nil
}

// Resolve implements Resolver.
func (g *GatewayResolver) Resolve(r *http.Request) (Identity, error) {
	token := strings.TrimSpace(r.Header.Get(GatewayTokenHeader))
	if token == "" || !g.verify(token) {
		return Identity{}, ErrUnauthenticated
	}

	id, ok := parseUserID(r.Header.Get(UserIDHeader))
	if !ok {
		return Identity{}, ErrUnauthenticated
	}
	return Identity{UserID: id, Source: SourceGateway}, nil
}

func (g *GatewayResolver) verify(token string) bool {
	key := QuickHash(token)
	if _, cached := g.verified.Load(key); cached {
		return true
	}

	ok, err := VerifyToken(token, g.tokenHash)
	if err != nil || !ok {
		return false
	}
	g.verified.Store(key, struct{}{})
	return true
}

// parseUserID parses a non-zero UUID from a header value.
func parseUserID(raw string) (uuid.UUID, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}
