package middleware

import (
	"context"
	"net/http"
	"strings"

	"orator-go/internal/auth"
	"orator-go/internal/config"
)

// contextKey is a private type for context values to avoid key collisions.
type contextKey string

// UserIDKey is the context key holding the authenticated user's UID.
const UserIDKey contextKey = "userID"

// UsernameKey is the context key holding the authenticated username.
const UsernameKey contextKey = "username"

// ClaimsKey is the context key holding the full validated token claims.
const ClaimsKey contextKey = "claims"

// AuthMiddleware returns a middleware that validates the bearer JWT and
// puts the caller's identity into the request context.
func AuthMiddleware(authCfg config.AuthConfig, blacklist auth.TokenBlacklist) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "missing authorization token", http.StatusUnauthorized)
				return
			}

			headerParts := strings.Split(authHeader, " ")
			if len(headerParts) != 2 || strings.ToLower(headerParts[0]) != "bearer" {
				http.Error(w, "invalid authorization header, expected Bearer {token}", http.StatusUnauthorized)
				return
			}

			claims, err := auth.ValidateToken(r.Context(), headerParts[1], authCfg.JWTSecretKey, blacklist)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID)
			ctx = context.WithValue(ctx, UsernameKey, claims.Username)
			ctx = context.WithValue(ctx, ClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserIDFromContext returns the authenticated UID, if present.
func GetUserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok
}

// GetUsernameFromContext returns the authenticated username, if present.
func GetUsernameFromContext(ctx context.Context) (string, bool) {
	username, ok := ctx.Value(UsernameKey).(string)
	return username, ok
}

// GetClaimsFromContext returns the validated token claims, if present.
func GetClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*auth.Claims)
	return claims, ok
}
