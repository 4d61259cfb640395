package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

var (
	slogger *slog.Logger
	logFile *os.File
)

// InitSlog initializes the slog-based logger
// If jsonOutput is true, logs are formatted as JSON for production.
// An empty logDir logs to stderr only, which keeps stdout free for the
// MCP stdio transport and for streamed output.
func InitSlog(logDir string, jsonOutput bool, level slog.Level) error {
	writer := io.Writer(os.Stderr)

	if logDir != "" {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return err
		}

		logFileName := "agentrelay-" + time.Now().Format("2006-01-02") + ".log"
		logFilePath := filepath.Join(logDir, logFileName)

		var err error
		logFile, err = os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}

		// Write to both stderr and file
		writer = io.MultiWriter(os.Stderr, logFile)
	}

	SetOutput(writer, jsonOutput, level)
	return nil
}

// SetOutput replaces the handler, mostly for tests and embedding
func SetOutput(w io.Writer, jsonOutput bool, level slog.Level) {
	var handler slog.Handler
	if jsonOutput {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}

	slogger = slog.New(handler)
	slog.SetDefault(slogger)
}

// ParseLevel maps a config level name to a slog level, defaulting to info
func ParseLevel(name string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// CloseSlog closes the slog log file
func CloseSlog() error {
	if logFile != nil {
		return logFile.Close()
	}
	return nil
}

// Slog returns the slog.Logger instance for structured logging
func Slog() *slog.Logger {
	if slogger == nil {
		return slog.Default()
	}
	return slogger
}

// WithContext returns a logger with context fields
func WithContext(ctx context.Context) *slog.Logger {
	logger := Slog()

	// Extract common fields from context if available
	if requestID := ctx.Value(ContextKeyRequestID); requestID != nil {
		logger = logger.With("request_id", requestID)
	}
	if sessionID := ctx.Value(ContextKeySessionID); sessionID != nil {
		logger = logger.With("session_id", sessionID)
	}
	if agent := ctx.Value(ContextKeyAgent); agent != nil {
		logger = logger.With("agent", agent)
	}
	if streamID := ctx.Value(ContextKeyStreamID); streamID != nil {
		logger = logger.With("stream_id", streamID)
	}

	return logger
}

// Context keys for structured logging
type contextKey string

const (
	ContextKeyRequestID contextKey = "request_id"
	ContextKeySessionID contextKey = "session_id"
	ContextKeyAgent     contextKey = "agent"
	ContextKeyStreamID  contextKey = "stream_id"
)

// WithFields returns ctx carrying the given logging fields; empty values are skipped
func WithFields(ctx context.Context, requestID, sessionID, agent string) context.Context {
	if requestID != "" {
		ctx = context.WithValue(ctx, ContextKeyRequestID, requestID)
	}
	if sessionID != "" {
		ctx = context.WithValue(ctx, ContextKeySessionID, sessionID)
	}
	if agent != "" {
		ctx = context.WithValue(ctx, ContextKeyAgent, agent)
	}
	return ctx
}

// RequestID returns the request id stored in ctx, or ""
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ContextKeyRequestID).(string)
	return id
}

// InfoContext logs an info message with context
func InfoContext(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Info(msg, args...)
}

// ErrorContext logs an error with context
func ErrorContext(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Error(msg, args...)
}

// WarnContext logs a warning with context
func WarnContext(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Warn(msg, args...)
}

// DebugContext logs debug info with context
func DebugContext(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Debug(msg, args...)
}
