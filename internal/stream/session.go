package stream

import (
	"strings"
	"sync"
	"time"
)

/*
STREAM SESSION - ACCUMULATOR FOR ONE AGENT GENERATION

A Session collects the text fragments of a single agent invocation. It knows
nothing about sockets or HTTP; the relay adapter feeds it from transport
events and reads the result back.

LIFECYCLE:

    idle ──Start──> streaming ──Finalize──> completed
                        │
                        ├──Fail────> errored
                        └──Cancel──> cancelled

    Start may also be called again while streaming (a repeated stream_start
    resets the buffer). Every other transition out of a terminal state is
    ignored.

INVARIANTS:

    - chunks only grow while streaming
    - once completed/errored/cancelled, chunks and text are frozen
    - Text() is always the in-order concatenation of accepted chunks
*/

// Status is the lifecycle state of a stream session
type Status string

const (
	StatusIdle      Status = "idle"
	StatusStreaming Status = "streaming"
	StatusCompleted Status = "completed"
	StatusErrored   Status = "errored"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are possible
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusErrored || s == StatusCancelled
}

// Session accumulates streamed text for one agent invocation
type Session struct {
	sessionID string
	agent     string

	mu        sync.RWMutex
	status    Status
	chunks    []string
	errMsg    string
	startedAt time.Time
	endedAt   time.Time
}

// NewSession creates an idle session
func NewSession(sessionID, agent string) *Session {
	return &Session{
		sessionID: sessionID,
		agent:     agent,
		status:    StatusIdle,
	}
}

// SessionID returns the caller-supplied session token
func (s *Session) SessionID() string {
	return s.sessionID
}

// Agent returns the agent identifier this session invokes
func (s *Session) Agent() string {
	return s.agent
}

// Start moves the session into streaming and resets the buffer.
// Returns false if the session already reached a terminal state.
func (s *Session) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.Terminal() {
		return false
	}
	if s.status == StatusIdle {
		s.startedAt = time.Now()
	}
	s.status = StatusStreaming
	s.chunks = nil
	return true
}

// AppendChunk adds a fragment. Fragments are only accepted while streaming.
func (s *Session) AppendChunk(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusStreaming {
		return false
	}
	s.chunks = append(s.chunks, text)
	return true
}

// Finalize completes the session and returns the full text.
// Calling Finalize on a terminal session returns the frozen text unchanged.
func (s *Session) Finalize() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.status.Terminal() {
		s.status = StatusCompleted
		s.endedAt = time.Now()
	}
	return strings.Join(s.chunks, "")
}

// Fail marks the session errored with a human-readable message
func (s *Session) Fail(msg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.Terminal() {
		return false
	}
	s.status = StatusErrored
	s.errMsg = msg
	s.endedAt = time.Now()
	return true
}

// Cancel marks the session cancelled
func (s *Session) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.Terminal() {
		return false
	}
	s.status = StatusCancelled
	s.endedAt = time.Now()
	return true
}

// Status returns the current status
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Text returns the text accumulated so far
func (s *Session) Text() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return strings.Join(s.chunks, "")
}

// Chunks returns a copy of the accepted fragments in arrival order
func (s *Session) Chunks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]string, len(s.chunks))
	copy(result, s.chunks)
	return result
}

// Summary is a point-in-time copy of a session
type Summary struct {
	SessionID string
	Agent     string
	StreamID  string // filled in by the relay when the transport has one
	Status    Status
	Text      string
	Error     string
	StartedAt time.Time
	EndedAt   time.Time
}

// Summary returns a copy of the session state
func (s *Session) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Summary{
		SessionID: s.sessionID,
		Agent:     s.agent,
		Status:    s.status,
		Text:      strings.Join(s.chunks, ""),
		Error:     s.errMsg,
		StartedAt: s.startedAt,
		EndedAt:   s.endedAt,
	}
}

// Duration returns how long the session streamed, or zero if it never ended
func (m Summary) Duration() time.Duration {
	if m.StartedAt.IsZero() || m.EndedAt.IsZero() {
		return 0
	}
	return m.EndedAt.Sub(m.StartedAt)
}
