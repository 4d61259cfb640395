package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/HyphaGroup/agentrelay/internal/validation"
)

const (
	// FileName is the configuration file looked up by FindConfigPath
	FileName = "agentrelay.jsonc"
	// EnvConfigPath overrides the search path when set
	EnvConfigPath = "AGENTRELAY_CONFIG"
)

// ErrConfigNotFound is returned when no configuration file exists in any
// searched location
var ErrConfigNotFound = errors.New("agentrelay.jsonc not found")

// Config is the configuration file format for agentrelay.jsonc
type Config struct {
	Server      ServerSection     `json:"server"`
	Transport   string            `json:"transport"` // websocket, sse
	Reconnect   ReconnectSection  `json:"reconnect"`
	Send        SendSection       `json:"send"`
	Auth        AuthSection       `json:"auth"`
	Agents      AgentRegistry     `json:"agents"`
	Transcripts TranscriptSection `json:"transcripts"`
	Audit       AuditSection      `json:"audit"`
	Log         LogSection        `json:"log"`
	Echo        EchoSection       `json:"echo"`
}

// ServerSection locates the Agent Invocation Dispatcher
type ServerSection struct {
	BaseURL               string `json:"base_url"`
	WebSocketURL          string `json:"websocket_url"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

// ReconnectSection configures WebSocket link supervision
type ReconnectSection struct {
	MaxAttempts         int `json:"max_attempts"`
	BaseDelayMS         int `json:"base_delay_ms"`
	MaxDelayMS          int `json:"max_delay_ms"`
	PingIntervalSeconds int `json:"ping_interval_seconds"`
}

// SendSection configures the per-agent send throttle
type SendSection struct {
	RatePerSecond        float64 `json:"rate_per_second"`
	Burst                int     `json:"burst"`
	CancelTimeoutSeconds int     `json:"cancel_timeout_seconds"`
}

// TranscriptSection configures the local transcript store
type TranscriptSection struct {
	Enabled       bool   `json:"enabled"`
	Dir           string `json:"dir"`
	RetentionDays int    `json:"retention_days"`
	PruneSchedule string `json:"prune_schedule"` // 5-field cron expression
}

// AuditSection toggles audit records
type AuditSection struct {
	Enabled bool `json:"enabled"`
}

// LogSection configures the slog logger
type LogSection struct {
	Dir   string `json:"dir"`
	JSON  bool   `json:"json"`
	Level string `json:"level"`
}

// EchoSection configures the reference dispatcher started by serve-echo
type EchoSection struct {
	Address       string            `json:"address"`
	Tokens        map[string]string `json:"tokens"` // bearer token -> user id
	ChunkDelayMS  int               `json:"chunk_delay_ms"`
	RatePerSecond float64           `json:"rate_per_second"`
	Burst         int               `json:"burst"`
}

// BaseDelay returns the first reconnect delay
func (r ReconnectSection) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMS) * time.Millisecond
}

// MaxDelay returns the reconnect delay cap
func (r ReconnectSection) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMS) * time.Millisecond
}

// PingInterval returns the keepalive interval
func (r ReconnectSection) PingInterval() time.Duration {
	return time.Duration(r.PingIntervalSeconds) * time.Second
}

// RequestTimeout bounds SSE initiation and cancel requests
func (s ServerSection) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSeconds) * time.Second
}

// CancelTimeout bounds the best-effort server cancel
func (s SendSection) CancelTimeout() time.Duration {
	return time.Duration(s.CancelTimeoutSeconds) * time.Second
}

// Retention returns how long transcripts are kept
func (t TranscriptSection) Retention() time.Duration {
	return time.Duration(t.RetentionDays) * 24 * time.Hour
}

// ChunkDelay returns the pause between echoed chunks
func (e EchoSection) ChunkDelay() time.Duration {
	return time.Duration(e.ChunkDelayMS) * time.Millisecond
}

// FindConfigPath returns the path to agentrelay.jsonc using precedence:
// 1. explicit path (if specified)
// 2. $AGENTRELAY_CONFIG
// 3. ./config/agentrelay.jsonc (project-local)
// 4. ~/.agentrelay/agentrelay.jsonc (user global)
func FindConfigPath(explicit string) (string, error) {
	if explicit == "" {
		explicit = os.Getenv(EnvConfigPath)
	}
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config %s: %w", explicit, err)
		}
		return absPath(explicit), nil
	}

	candidates := []string{
		filepath.Join("config", FileName),
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".agentrelay", FileName))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return absPath(path), nil
		}
	}

	return "", fmt.Errorf("%w; tried: %v", ErrConfigNotFound, candidates)
}

func absPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

// Load finds and loads the configuration. When no explicit path is given
// and no file exists, the built-in defaults are returned.
func Load(explicit string) (*Config, string, error) {
	path, err := FindConfigPath(explicit)
	if err != nil {
		if errors.Is(err, ErrConfigNotFound) {
			return Default(), "", nil
		}
		return nil, "", err
	}

	cfg, err := LoadFile(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// LoadFile loads configuration from a single agentrelay.jsonc file
func LoadFile(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", configPath, err)
	}

	jsonData := StripJSONComments(data)

	var cfg Config
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", configPath, err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns a configuration with every default applied
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = "http://localhost:8080"
	}
	cfg.Server.BaseURL = strings.TrimRight(cfg.Server.BaseURL, "/")
	if cfg.Server.WebSocketURL == "" {
		cfg.Server.WebSocketURL = DeriveWebSocketURL(cfg.Server.BaseURL)
	}
	if cfg.Server.RequestTimeoutSeconds == 0 {
		cfg.Server.RequestTimeoutSeconds = 30
	}

	if cfg.Transport == "" {
		cfg.Transport = "websocket"
	}

	if cfg.Reconnect.MaxAttempts == 0 {
		cfg.Reconnect.MaxAttempts = 3
	}
	if cfg.Reconnect.BaseDelayMS == 0 {
		cfg.Reconnect.BaseDelayMS = 1000
	}
	if cfg.Reconnect.MaxDelayMS == 0 {
		cfg.Reconnect.MaxDelayMS = 5000
	}
	if cfg.Reconnect.PingIntervalSeconds == 0 {
		cfg.Reconnect.PingIntervalSeconds = 25
	}

	if cfg.Send.RatePerSecond == 0 {
		cfg.Send.RatePerSecond = 2
	}
	if cfg.Send.Burst == 0 {
		cfg.Send.Burst = 5
	}
	if cfg.Send.CancelTimeoutSeconds == 0 {
		cfg.Send.CancelTimeoutSeconds = 5
	}

	if cfg.Auth.Profile == "" {
		cfg.Auth.Profile = "default"
	}
	if cfg.Auth.CredentialsDir == "" {
		cfg.Auth.CredentialsDir = defaultDataDir()
	}

	if cfg.Agents.Agents == nil {
		cfg.Agents.Agents = make(map[string]AgentDefinition)
	}

	if cfg.Transcripts.Dir == "" {
		cfg.Transcripts.Dir = defaultDataDir()
	}
	if cfg.Transcripts.RetentionDays == 0 {
		cfg.Transcripts.RetentionDays = 30
	}
	if cfg.Transcripts.PruneSchedule == "" {
		cfg.Transcripts.PruneSchedule = "0 3 * * *"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	if cfg.Echo.Address == "" {
		cfg.Echo.Address = ":8080"
	}
	if cfg.Echo.Tokens == nil {
		cfg.Echo.Tokens = make(map[string]string)
	}
	if cfg.Echo.ChunkDelayMS == 0 {
		cfg.Echo.ChunkDelayMS = 50
	}
	if cfg.Echo.RatePerSecond == 0 {
		cfg.Echo.RatePerSecond = 10
	}
	if cfg.Echo.Burst == 0 {
		cfg.Echo.Burst = 20
	}
}

func defaultDataDir() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".agentrelay", "data")
	}
	return filepath.Join(".agentrelay", "data")
}

// DeriveWebSocketURL maps http(s)://host/path to ws(s)://host/path/ws
func DeriveWebSocketURL(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String()
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	switch c.Transport {
	case "websocket", "sse":
	default:
		return fmt.Errorf("transport must be \"websocket\" or \"sse\", got %q", c.Transport)
	}

	if err := checkURL(c.Server.BaseURL, "http", "https"); err != nil {
		return fmt.Errorf("server.base_url: %w", err)
	}
	if c.Transport == "websocket" {
		if err := checkURL(c.Server.WebSocketURL, "ws", "wss"); err != nil {
			return fmt.Errorf("server.websocket_url: %w", err)
		}
	}

	if c.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("reconnect.max_attempts must not be negative")
	}
	if c.Reconnect.MaxDelayMS < c.Reconnect.BaseDelayMS {
		return fmt.Errorf("reconnect.max_delay_ms (%d) is below base_delay_ms (%d)", c.Reconnect.MaxDelayMS, c.Reconnect.BaseDelayMS)
	}
	if c.Send.RatePerSecond < 0 || c.Send.Burst < 0 {
		return fmt.Errorf("send.rate_per_second and send.burst must not be negative")
	}
	if c.Transcripts.RetentionDays < 0 {
		return fmt.Errorf("transcripts.retention_days must not be negative")
	}
	if err := validation.ValidateProfile(c.Auth.Profile); err != nil {
		return fmt.Errorf("auth.profile: %w", err)
	}

	if err := c.Agents.Validate(); err != nil {
		return err
	}
	return nil
}

func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%q must use scheme %s", raw, strings.Join(schemes, " or "))
}
