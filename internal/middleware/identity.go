package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cartoncaps/referral-api/internal/auth"
)

// Identity returns middleware that resolves the caller with resolver and
// stores the result in the request context. Unresolvable callers get 401.
func Identity(resolver auth.Resolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := resolver.Resolve(r)
			if err != nil {
				if !errors.Is(err, auth.ErrUnauthenticated) {
					logger.Error("identity resolution failed",
						slog.String("error", err.Error()),
						slog.String("request_id", GetRequestID(r.Context())),
					)
				}
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "User ID is required")
				return
			}

			recordIdentity(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(auth.ContextWithIdentity(r.Context(), id)))
		})
	}
}
