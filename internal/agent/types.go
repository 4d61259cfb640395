// Package agent defines the wire vocabulary shared with the Agent Invocation
// Dispatcher.
//
// types.go - Event and request types
//
// This file contains:
// - EventType constants for inbound frames
// - Event, the decoded form of one inbound frame
// - ExecuteRequest, the outbound execute_agent message
//
// Both transports (WebSocket and SSE) carry the same JSON frames, so the
// relay handles them through this single model regardless of the backend.

package agent

// EventType represents the type of an inbound frame
type EventType string

const (
	EventConnected   EventType = "connected"
	EventStreamStart EventType = "stream_start"
	EventStreamChunk EventType = "stream_chunk"
	EventStreamEnd   EventType = "stream_end"
	EventError       EventType = "error"
	EventPong        EventType = "pong"
)

// Outbound message types
const (
	MessageExecuteAgent = "execute_agent"
	MessagePing         = "ping"
)

// Known reports whether the event type is part of the vocabulary this relay
// understands. Unknown types are tolerated and skipped by consumers.
func (t EventType) Known() bool {
	switch t {
	case EventConnected, EventStreamStart, EventStreamChunk, EventStreamEnd, EventError, EventPong:
		return true
	}
	return false
}

// Terminal reports whether the event ends a generation
func (t EventType) Terminal() bool {
	return t == EventStreamEnd || t == EventError
}

// Event is a decoded inbound frame
type Event struct {
	Type   EventType `json:"type"`
	UserID string    `json:"userId,omitempty"`
	Chunk  string    `json:"chunk,omitempty"`
	Error  string    `json:"error,omitempty"`
}

// ExecuteRequest is the outbound request that starts an agent generation.
// On the WebSocket transport it is sent verbatim with Type set; on the SSE
// transport it is the body of the stream initiation call.
type ExecuteRequest struct {
	Type           string                 `json:"type,omitempty"`
	AgentName      string                 `json:"agentName"`
	Input          string                 `json:"input"`
	LLMConfigID    string                 `json:"llmConfigId,omitempty"`
	ConversationID string                 `json:"conversationId,omitempty"`
	ContextType    string                 `json:"contextType,omitempty"`
	ContextID      string                 `json:"contextId,omitempty"`
	ContextData    map[string]interface{} `json:"contextData,omitempty"`
	SessionID      string                 `json:"sessionId,omitempty"`
}

// PingFrame is the liveness probe sent on an open socket
type PingFrame struct {
	Type string `json:"type"`
}

// StreamInitResponse is returned by the SSE stream initiation call
type StreamInitResponse struct {
	StreamID string `json:"streamId"`
}
