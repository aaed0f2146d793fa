package middleware

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

type contextKey string

// Context keys under which the authenticated caller is stored.
const (
	UserKey     contextKey = "user_id"
	UsernameKey contextKey = "username"
)

// TokenValidator resolves a bearer token to the user it was issued for.
type TokenValidator interface {
	ValidateToken(tokenString string) (int, string, error)
}

type AuthMiddleware struct {
	validator TokenValidator
	logger    *zap.Logger
}

func NewAuthMiddleware(v TokenValidator, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{validator: v, logger: logger}
}

func tokenFrom(r *http.Request) string {
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	// Browsers can't set headers on websocket upgrades.
	return r.URL.Query().Get("token")
}

func (am *AuthMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := tokenFrom(r)
		if tokenString == "" {
			http.Error(w, "Missing authentication token", http.StatusUnauthorized)
			return
		}

		userID, username, err := am.validator.ValidateToken(tokenString)
		if err != nil {
			am.logger.Debug("rejected token", zap.String("path", r.URL.Path), zap.Error(err))
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), UserKey, userID)
		ctx = context.WithValue(ctx, UsernameKey, username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
