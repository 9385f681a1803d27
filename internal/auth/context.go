// Package auth resolves the calling user's identity from request headers.
package auth

import (
	"context"

	"github.com/google/uuid"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const identityContextKey contextKey = "identity"

// Identity sources.
const (
	SourceHeader  = "header"
	SourceDefault = "default"
	SourceGateway = "gateway"
)

// Identity is the resolved caller.
type Identity struct {
	UserID uuid.UUID
	// Source records how the identity was established.
	Source string
}

// ContextWithIdentity adds the identity to the context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// IdentityFromContext retrieves the identity from the context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(Identity)
	return id, ok
}

// UserIDFromContext returns the caller's user ID, or uuid.Nil when the
// identity middleware has not run.
func UserIDFromContext(ctx context.Context) uuid.UUID {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		return uuid.Nil
	}
	return id.UserID
}
