package testutil

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/HyphaGroup/agentrelay/internal/stream"
)

// SummaryOption is a function that modifies a stream summary for testing.
type SummaryOption func(*stream.Summary)

// NewTestSummary creates a completed stream summary with sensible defaults.
// It ended one minute ago and took two seconds.
func NewTestSummary(t *testing.T, opts ...SummaryOption) stream.Summary {
	t.Helper()

	ended := time.Now().Add(-time.Minute).UTC()
	s := stream.Summary{
		SessionID: uuid.New().String(),
		Agent:     "echo",
		StreamID:  uuid.New().String(),
		Status:    stream.StatusCompleted,
		Text:      "Test reply for " + t.Name(),
		StartedAt: ended.Add(-2 * time.Second),
		EndedAt:   ended,
	}

	for _, opt := range opts {
		opt(&s)
	}

	return s
}

// WithAgent sets the agent slug.
func WithAgent(agent string) SummaryOption {
	return func(s *stream.Summary) {
		s.Agent = agent
	}
}

// WithSessionID sets the session id.
func WithSessionID(id string) SummaryOption {
	return func(s *stream.Summary) {
		s.SessionID = id
	}
}

// WithStreamID sets the dispatcher stream id. Empty mimics a WebSocket stream.
func WithStreamID(id string) SummaryOption {
	return func(s *stream.Summary) {
		s.StreamID = id
	}
}

// WithText sets the accumulated reply.
func WithText(text string) SummaryOption {
	return func(s *stream.Summary) {
		s.Text = text
	}
}

// WithFailure marks the stream as errored with the given message.
func WithFailure(message string) SummaryOption {
	return func(s *stream.Summary) {
		s.Status = stream.StatusErrored
		s.Error = message
	}
}

// WithStatus sets a terminal status without an error message.
func WithStatus(status stream.Status) SummaryOption {
	return func(s *stream.Summary) {
		s.Status = status
	}
}

// WithEndedAt moves the stream so it ended at the given time, keeping its duration.
func WithEndedAt(ended time.Time) SummaryOption {
	return func(s *stream.Summary) {
		d := s.EndedAt.Sub(s.StartedAt)
		s.EndedAt = ended
		s.StartedAt = ended.Add(-d)
	}
}
