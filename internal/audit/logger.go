package audit

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Operation represents the type of auditable operation
type Operation string

const (
	OpStreamSend     Operation = "stream.send"
	OpStreamComplete Operation = "stream.complete"
	OpStreamError    Operation = "stream.error"
	OpStreamCancel   Operation = "stream.cancel"
)

// Event represents an audit log entry
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	Operation Operation              `json:"operation"`
	SessionID string                 `json:"session_id,omitempty"`
	Agent     string                 `json:"agent,omitempty"`
	StreamID  string                 `json:"stream_id,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	Success   bool                   `json:"success"`
	Error     string                 `json:"error,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Logger handles audit logging
type Logger struct {
	logger  *slog.Logger
	enabled bool
	mu      sync.RWMutex
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Default returns the default audit logger
func Default() *Logger {
	once.Do(func() {
		defaultLogger = New(true)
	})
	return defaultLogger
}

// New creates a new audit logger writing JSON to stderr
func New(enabled bool) *Logger {
	return NewWithWriter(os.Stderr, enabled)
}

// NewWithWriter creates an audit logger writing JSON to w
func NewWithWriter(w io.Writer, enabled bool) *Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return &Logger{
		logger:  slog.New(handler),
		enabled: enabled,
	}
}

// SetEnabled enables or disables audit logging
func (l *Logger) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = enabled
}

// Log records an audit event
func (l *Logger) Log(event *Event) {
	l.mu.RLock()
	enabled := l.enabled
	l.mu.RUnlock()

	if !enabled {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	attrs := []any{
		slog.String("audit", "true"),
		slog.String("operation", string(event.Operation)),
		slog.Bool("success", event.Success),
	}

	if event.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", maskID(event.SessionID)))
	}
	if event.Agent != "" {
		attrs = append(attrs, slog.String("agent", event.Agent))
	}
	if event.StreamID != "" {
		attrs = append(attrs, slog.String("stream_id", event.StreamID))
	}
	if event.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", event.RequestID))
	}
	if event.Error != "" {
		attrs = append(attrs, slog.String("error", event.Error))
	}
	if event.Details != nil {
		detailsJSON, _ := json.Marshal(event.Details)
		attrs = append(attrs, slog.String("details", string(detailsJSON)))
	}

	l.logger.Info("AUDIT", attrs...)
}

// LogSuccess records a successful operation
func (l *Logger) LogSuccess(op Operation, sessionID, agent, streamID string) {
	l.Log(&Event{
		Operation: op,
		SessionID: sessionID,
		Agent:     agent,
		StreamID:  streamID,
		Success:   true,
	})
}

// LogFailure records a failed operation
func (l *Logger) LogFailure(op Operation, sessionID, agent, streamID string, err error) {
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	l.Log(&Event{
		Operation: op,
		SessionID: sessionID,
		Agent:     agent,
		StreamID:  streamID,
		Success:   false,
		Error:     errMsg,
	})
}

// maskID keeps enough of a caller-supplied session id to correlate logs
func maskID(id string) string {
	if len(id) <= 8 {
		return "***"
	}
	return id[:4] + "..." + id[len(id)-4:]
}

// Convenience functions using default logger

func Log(event *Event) {
	Default().Log(event)
}

func LogSuccess(op Operation, sessionID, agent, streamID string) {
	Default().LogSuccess(op, sessionID, agent, streamID)
}

func LogFailure(op Operation, sessionID, agent, streamID string, err error) {
	Default().LogFailure(op, sessionID, agent, streamID, err)
}
