// Package transport defines the channel abstraction shared by the WebSocket
// and SSE relays.
//
// transport.go - Transport and Channel interfaces
//
// This file contains:
// - Transport, the link to the Agent Invocation Dispatcher
// - Channel, one in-flight generation on that link
// - Kind constants used to select an implementation from config
//
// Implementations forward raw JSON frames; decoding, accumulation and
// callbacks live in the relay package so they are not duplicated per
// transport.

package transport

import (
	"context"
	"errors"

	"github.com/HyphaGroup/agentrelay/internal/agent"
)

// Kind selects a transport implementation
type Kind string

const (
	KindWebSocket Kind = "websocket"
	KindSSE       Kind = "sse"
)

var (
	// ErrNotOpen is returned when a send is attempted on a link that is not open
	ErrNotOpen = errors.New("transport not open")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("transport closed")
)

// Transport is a link to the dispatcher that can carry one generation at a time
type Transport interface {
	// Open establishes the link. It is a no-op for per-request transports.
	Open(ctx context.Context) error

	// Send starts a generation and returns the channel its frames arrive on.
	// An error means no channel was opened.
	Send(ctx context.Context, req *agent.ExecuteRequest) (Channel, error)

	// Close tears the link down with normal-closure semantics
	Close() error
}

// Channel is one generation's frame stream
type Channel interface {
	// Frames delivers raw JSON frames in arrival order. It is closed when
	// the channel ends for any reason.
	Frames() <-chan []byte

	// StreamID returns the server stream identifier, or "" if the transport
	// has none
	StreamID() string

	// Cancel asks the server to stop the generation. Best effort.
	Cancel(ctx context.Context) error

	// Close releases the channel. Safe to call more than once.
	Close() error
}
