package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/findmydocs/backend/internal/auth"
	"github.com/findmydocs/backend/pkg/response"
	"github.com/google/uuid"
)

type contextKey string

const userKey contextKey = "user"

// TokenVerifier verifies access tokens
type TokenVerifier interface {
	Verify(token string) (*auth.User, error)
}

// AuthMiddleware creates JWT authentication middleware
func AuthMiddleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				response.Unauthorized(w, "missing or malformed authorization header")
				return
			}

			user, err := verifier.Verify(token)
			if err != nil {
				if errors.Is(err, auth.ErrExpiredToken) {
					response.Unauthorized(w, "token has expired")
					return
				}
				response.Unauthorized(w, "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// WebSocketAuthMiddleware also accepts the token as an access_token query
// parameter, since browsers cannot set headers on a websocket handshake.
func WebSocketAuthMiddleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		authed := AuthMiddleware(verifier)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" {
				if token := r.URL.Query().Get("access_token"); token != "" {
					r = r.Clone(r.Context())
					r.Header.Set("Authorization", "Bearer "+token)
				}
			}
			authed.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// WithUser stores the authenticated user in ctx
func WithUser(ctx context.Context, user *auth.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// CurrentUser extracts the authenticated user from context
func CurrentUser(ctx context.Context) (*auth.User, bool) {
	user, ok := ctx.Value(userKey).(*auth.User)
	return user, ok && user != nil
}

// GetUserID extracts user ID from context
func GetUserID(ctx context.Context) (uuid.UUID, bool) {
	user, ok := CurrentUser(ctx)
	if !ok {
		return uuid.Nil, false
	}
	return user.ID, true
}
