package auth

import "strings"

// State is the client-side authentication state shared by relay consumers
type State struct {
	Token     string `json:"token,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Authenticated reports whether a bearer token is present
func (s State) Authenticated() bool {
	return strings.TrimSpace(s.Token) != ""
}

// BearerHeader returns the Authorization header value, or "" without a token
func (s State) BearerHeader() string {
	if !s.Authenticated() {
		return ""
	}
	return "Bearer " + s.Token
}

// Identity is the server-side view of an authenticated caller
type Identity struct {
	UserID string
	Token  string
}

// MaskToken shortens a token for logs
func MaskToken(token string) string {
	if len(token) <= 12 {
		return "***"
	}
	return token[:8] + "..." + token[len(token)-4:]
}
