// Package mcp exposes the relay to MCP clients over stdio.
//
// bridge.go - execute_agent tool backed by a relay Adapter
//
// This file contains:
// - Bridge: runs one agent generation per tool call and waits for its end
// - ExecuteAgentInput: tool arguments
// - the tool's input schema, built from the configured agents
package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	mcp_sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/HyphaGroup/agentrelay/internal/config"
	"github.com/HyphaGroup/agentrelay/internal/logger"
	"github.com/HyphaGroup/agentrelay/internal/metrics"
	"github.com/HyphaGroup/agentrelay/internal/relay"
	"github.com/HyphaGroup/agentrelay/internal/transport"
)

// ToolExecuteAgent is the name of the bridge's only tool
const ToolExecuteAgent = "execute_agent"

// ExecuteAgentInput are the execute_agent arguments
type ExecuteAgentInput struct {
	Agent          string `json:"agent"`
	Input          string `json:"input"`
	SessionID      string `json:"session_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type result struct {
	text string
	err  error
}

// Bridge serves execute_agent. The adapter runs one generation at a time,
// so tool calls are serialised.
type Bridge struct {
	mu      sync.Mutex
	adapter *relay.Adapter
	agents  config.AgentRegistry
	results chan result
	version string
}

// NewBridge creates a bridge over t. Callbacks in opts are replaced: the
// bridge consumes them to complete tool calls.
func NewBridge(t transport.Transport, opts relay.Options, agents config.AgentRegistry, version string) *Bridge {
	b := &Bridge{
		agents:  agents,
		results: make(chan result, 1),
		version: version,
	}
	opts.Callbacks = relay.Callbacks{
		OnComplete: func(text string) { b.deliver(result{text: text}) },
		OnError:    func(err error) { b.deliver(result{err: err}) },
	}
	b.adapter = relay.New(t, opts)
	return b
}

// deliver runs on the adapter's dispatch goroutine and must not block
func (b *Bridge) deliver(r result) {
	select {
	case b.results <- r:
	default:
		logger.Slog().Warn("dropping relay result with no waiting tool call")
	}
}

func (b *Bridge) drain() {
	select {
	case <-b.results:
	default:
	}
}

// Connect opens the relay transport
func (b *Bridge) Connect(ctx context.Context) error {
	return b.adapter.Connect(ctx)
}

// Close disconnects the relay
func (b *Bridge) Close() {
	b.adapter.Disconnect()
}

// Execute runs one generation and returns its full text. If ctx ends first
// the generation is cancelled.
func (b *Bridge) Execute(ctx context.Context, in ExecuteAgentInput) (string, error) {
	if strings.TrimSpace(in.Input) == "" {
		return "", errors.New("input is required")
	}
	def, err := b.agents.Resolve(in.Agent)
	if err != nil {
		return "", err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.drain()

	meta := relay.Metadata{
		SessionID:      in.SessionID,
		Agent:          def.Slug,
		LLMConfigID:    def.LLMConfigID,
		ContextType:    def.ContextType,
		ConversationID: in.ConversationID,
	}
	if err := b.adapter.Send(ctx, in.Input, meta); err != nil {
		// Send already reported the failure through OnError
		b.drain()
		return "", err
	}

	select {
	case r := <-b.results:
		return r.text, r.err
	case <-ctx.Done():
		if err := b.adapter.Cancel(context.WithoutCancel(ctx)); err != nil {
			logger.WarnContext(ctx, "cancel after abandoned tool call failed", "error", err)
		}
		return "", ctx.Err()
	}
}

// Server builds the MCP server with the execute_agent tool registered
func (b *Bridge) Server() *mcp_sdk.Server {
	server := mcp_sdk.NewServer(&mcp_sdk.Implementation{
		Name:    "agentrelay",
		Version: b.version,
	}, &mcp_sdk.ServerOptions{
		HasTools: true,
	})

	mcp_sdk.AddTool(server, &mcp_sdk.Tool{
		Name:        ToolExecuteAgent,
		Description: "Run an AI agent on the given input and return its complete response.",
		InputSchema: b.inputSchema(),
	}, b.handleExecuteAgent)
	return server
}

// Run serves MCP over stdio until ctx ends or the client disconnects
func (b *Bridge) Run(ctx context.Context) error {
	return b.Server().Run(ctx, &mcp_sdk.StdioTransport{})
}

func (b *Bridge) handleExecuteAgent(ctx context.Context, req *mcp_sdk.CallToolRequest, in ExecuteAgentInput) (*mcp_sdk.CallToolResult, any, error) {
	text, err := b.Execute(ctx, in)
	if err != nil {
		metrics.RecordToolCall(ToolExecuteAgent, "error")
		logger.WarnContext(ctx, "execute_agent failed", "agent", in.Agent, "error", err)
		return NewErrorResult(err.Error()), nil, nil
	}
	metrics.RecordToolCall(ToolExecuteAgent, "success")
	return NewTextResult(text), nil, nil
}

// inputSchema describes the tool arguments. Known agents are listed in the
// agent description but other slugs are still accepted.
func (b *Bridge) inputSchema() *jsonschema.Schema {
	agentDesc := "Agent to invoke."
	if names := b.agentNames(); len(names) > 0 {
		agentDesc = fmt.Sprintf("Agent to invoke. Configured agents: %s.", strings.Join(names, ", "))
	}
	required := []string{"agent", "input"}
	if b.agents.Default != "" {
		agentDesc += fmt.Sprintf(" Defaults to %q.", b.agents.Default)
		required = []string{"input"}
	}

	return &jsonschema.Schema{
		Type:     "object",
		Required: required,
		Properties: map[string]*jsonschema.Schema{
			"agent":           {Type: "string", Description: agentDesc},
			"input":           {Type: "string", Description: "Message to send to the agent."},
			"session_id":      {Type: "string", Description: "Session token; defaults to the logged-in session."},
			"conversation_id": {Type: "string", Description: "Conversation to continue."},
		},
	}
}

func (b *Bridge) agentNames() []string {
	infos := b.agents.List()
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	return names
}
