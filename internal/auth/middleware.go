package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type contextKey int

const claimsKey contextKey = 0

// Middleware authenticates Bearer tokens and stores the claims in the
// request context. Requests without a valid token get a 401 before reaching
// any handler.
func Middleware(secretKey []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				http.Error(w, "missing or malformed authorization header", http.StatusUnauthorized)
				return
			}

			claims, err := ParseToken(token, secretKey)
			if err != nil {
				http.Error(w, "invalid or expired token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
		})
	}
}

// UserId returns the authenticated user's id from the request context, or
// uuid.Nil if the request did not pass through Middleware.
func UserId(ctx context.Context) uuid.UUID {
	if claims, ok := ctx.Value(claimsKey).(*Claims); ok {
		return claims.UserId
	}
	return uuid.Nil
}

func Username(ctx context.Context) string {
	if claims, ok := ctx.Value(claimsKey).(*Claims); ok {
		return claims.Username
	}
	return ""
}
