package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFile(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("valid config", func(t *testing.T) {
		configPath := filepath.Join(tmpDir, "valid.jsonc")
		configJSON := `{
			// Test config
			"server": {"base_url": "https://relay.example.com/api/"},
			"transport": "sse",
			"reconnect": {"max_attempts": 5, "base_delay_ms": 500, "max_delay_ms": 8000},
			"agents": {
				"agents": {"tax": {"slug": "tax-helper", "displayName": "Tax Helper"}},
				"default": "tax",
			},
			"transcripts": {"enabled": true, "retention_days": 7},
		}`
		_ = os.WriteFile(configPath, []byte(configJSON), 0o644)

		cfg, err := LoadFile(configPath)
		if err != nil {
			t.Fatalf("LoadFile() error = %v", err)
		}
		if cfg.Server.BaseURL != "https://relay.example.com/api" {
			t.Errorf("Server.BaseURL = %q, want trailing slash trimmed", cfg.Server.BaseURL)
		}
		if cfg.Server.WebSocketURL != "wss://relay.example.com/api/ws" {
			t.Errorf("Server.WebSocketURL = %q", cfg.Server.WebSocketURL)
		}
		if cfg.Transport != "sse" {
			t.Errorf("Transport = %q, want sse", cfg.Transport)
		}
		if cfg.Reconnect.BaseDelay() != 500*time.Millisecond || cfg.Reconnect.MaxDelay() != 8*time.Second {
			t.Errorf("reconnect delays = %v/%v", cfg.Reconnect.BaseDelay(), cfg.Reconnect.MaxDelay())
		}
		if cfg.Reconnect.PingInterval() != 25*time.Second {
			t.Errorf("PingInterval() = %v, want default 25s", cfg.Reconnect.PingInterval())
		}
		if cfg.Transcripts.Retention() != 7*24*time.Hour {
			t.Errorf("Retention() = %v", cfg.Transcripts.Retention())
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() error = %v", err)
		}
	})

	t.Run("applies defaults for missing fields", func(t *testing.T) {
		configPath := filepath.Join(tmpDir, "minimal.jsonc")
		_ = os.WriteFile(configPath, []byte(`{}`), 0o644)

		cfg, err := LoadFile(configPath)
		if err != nil {
			t.Fatalf("LoadFile() error = %v", err)
		}
		if cfg.Transport != "websocket" {
			t.Errorf("Transport = %q, want default websocket", cfg.Transport)
		}
		if cfg.Server.WebSocketURL != "ws://localhost:8080/ws" {
			t.Errorf("Server.WebSocketURL = %q", cfg.Server.WebSocketURL)
		}
		if cfg.Reconnect.MaxAttempts != 3 || cfg.Reconnect.BaseDelayMS != 1000 || cfg.Reconnect.MaxDelayMS != 5000 {
			t.Errorf("Reconnect = %+v, want 3/1000/5000", cfg.Reconnect)
		}
		if cfg.Transcripts.PruneSchedule != "0 3 * * *" {
			t.Errorf("PruneSchedule = %q", cfg.Transcripts.PruneSchedule)
		}
		if cfg.Echo.Tokens == nil || cfg.Agents.Agents == nil {
			t.Error("maps should be initialized")
		}
	})

	t.Run("invalid JSON returns error", func(t *testing.T) {
		configPath := filepath.Join(tmpDir, "invalid.jsonc")
		_ = os.WriteFile(configPath, []byte("not json"), 0o644)

		if _, err := LoadFile(configPath); err == nil {
			t.Error("expected error for invalid JSON")
		}
	})
}

func TestFindConfigPath(t *testing.T) {
	tmpDir := t.TempDir()
	explicit := filepath.Join(tmpDir, "custom.jsonc")
	_ = os.WriteFile(explicit, []byte("{}"), 0o644)

	t.Run("explicit path", func(t *testing.T) {
		path, err := FindConfigPath(explicit)
		if err != nil {
			t.Fatalf("FindConfigPath() error = %v", err)
		}
		if filepath.Base(path) != "custom.jsonc" {
			t.Errorf("FindConfigPath() = %q", path)
		}
	})

	t.Run("environment variable", func(t *testing.T) {
		t.Setenv(EnvConfigPath, explicit)
		path, err := FindConfigPath("")
		if err != nil {
			t.Fatalf("FindConfigPath() error = %v", err)
		}
		if filepath.Base(path) != "custom.jsonc" {
			t.Errorf("FindConfigPath() = %q", path)
		}
	})

	t.Run("missing explicit path is an error", func(t *testing.T) {
		_, err := FindConfigPath(filepath.Join(tmpDir, "nonexistent.jsonc"))
		if err == nil || errors.Is(err, ErrConfigNotFound) {
			t.Errorf("error = %v, want a stat error", err)
		}
	})
}

func TestLoad_FallsBackToDefaults(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	t.Setenv("HOME", t.TempDir())
	wd, _ := os.Getwd()
	defer func() { _ = os.Chdir(wd) }()
	_ = os.Chdir(t.TempDir())

	cfg, path, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if path != "" {
		t.Errorf("path = %q, want empty", path)
	}
	if cfg.Transport != "websocket" {
		t.Errorf("Transport = %q, want default", cfg.Transport)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"unknown transport", func(c *Config) { c.Transport = "carrier-pigeon" }, true},
		{"base url without host", func(c *Config) { c.Server.BaseURL = "http://" }, true},
		{"ws url with http scheme", func(c *Config) { c.Server.WebSocketURL = "http://localhost/ws" }, true},
		{"sse ignores ws url", func(c *Config) { c.Transport = "sse"; c.Server.WebSocketURL = "" }, false},
		{"max below base delay", func(c *Config) { c.Reconnect.MaxDelayMS = 10 }, true},
		{"undefined default agent", func(c *Config) { c.Agents.Default = "ghost" }, true},
		{"profile with path separator", func(c *Config) { c.Auth.Profile = "../work" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDeriveWebSocketURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"http://localhost:8080", "ws://localhost:8080/ws"},
		{"https://app.example.com", "wss://app.example.com/ws"},
		{"https://app.example.com/api", "wss://app.example.com/api/ws"},
	}
	for _, tt := range tests {
		if got := DeriveWebSocketURL(tt.in); got != tt.want {
			t.Errorf("DeriveWebSocketURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAuthSection_StaticToken(t *testing.T) {
	t.Setenv("RELAY_TEST_TOKEN", "from-env")

	tests := []struct {
		name   string
		auth   AuthSection
		want   string
		wantOK bool
	}{
		{"literal wins", AuthSection{Token: "lit", TokenEnv: "RELAY_TEST_TOKEN"}, "lit", true},
		{"env", AuthSection{TokenEnv: "RELAY_TEST_TOKEN"}, "from-env", true},
		{"unset env", AuthSection{TokenEnv: "RELAY_TEST_TOKEN_MISSING"}, "", false},
		{"none", AuthSection{}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.auth.StaticToken()
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("StaticToken() = %q, %v; want %q, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
