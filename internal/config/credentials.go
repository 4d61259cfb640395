package config

import (
	"os"
	"strings"
)

// AuthSection describes where the relay finds its bearer token.
// Precedence: token, then the environment variable named by token_env,
// then the credential store profile.
type AuthSection struct {
	Token          string `json:"token,omitempty"`
	TokenEnv       string `json:"token_env,omitempty"`
	Profile        string `json:"profile"`
	CredentialsDir string `json:"credentials_dir"`
}

// StaticToken returns a token from config or environment, if any
func (a AuthSection) StaticToken() (string, bool) {
	if t := strings.TrimSpace(a.Token); t != "" {
		return t, true
	}
	if a.TokenEnv != "" {
		if t := strings.TrimSpace(os.Getenv(a.TokenEnv)); t != "" {
			return t, true
		}
	}
	return "", false
}
