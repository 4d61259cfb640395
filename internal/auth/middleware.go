package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/HyphaGroup/agentrelay/internal/logger"
)

// ErrUnknownToken is returned by validators for tokens they do not recognise
var ErrUnknownToken = errors.New("unknown token")

// Validator resolves a bearer token to an identity
type Validator interface {
	Validate(token string) (*Identity, error)
}

// StaticTokens maps bearer tokens to user ids
type StaticTokens map[string]string

// Validate implements Validator
func (t StaticTokens) Validate(token string) (*Identity, error) {
	userID, ok := t[token]
	if !ok {
		return nil, ErrUnknownToken
	}
	return &Identity{UserID: userID, Token: token}, nil
}

// Middleware creates HTTP middleware for bearer authentication.
// Browsers cannot set headers on WebSocket upgrades, so a "token" query
// parameter is accepted as a fallback.
func Middleware(v Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if token == "" || token == r.Header.Get("Authorization") {
				token = r.URL.Query().Get("token")
			}
			if token == "" {
				jsonError(w, "Authentication required (Bearer token)", http.StatusUnauthorized)
				return
			}

			id, err := v.Validate(token)
			if err != nil {
				logger.WithContext(r.Context()).Info("token validation failed", "token", MaskToken(token), "error", err)
				jsonError(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}

			ctx := WithContext(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": message,
	})
}
