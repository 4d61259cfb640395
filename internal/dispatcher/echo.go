package dispatcher

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/HyphaGroup/agentrelay/internal/agent"
)

// errorPrefix makes the echo agent fail with the rest of the input as the
// error message
const errorPrefix = "!error "

type frame map[string]interface{}

// emitFunc writes one frame to the caller. An error stops the generation.
type emitFunc func(f frame) error

func newID() string {
	return uuid.New().String()
}

// echoWords splits input into chunks whose concatenation is the input with
// whitespace collapsed
func echoWords(input string) []string {
	words := strings.Fields(input)
	chunks := make([]string, len(words))
	for i, w := range words {
		if i > 0 {
			w = " " + w
		}
		chunks[i] = w
	}
	return chunks
}

// generate runs one echo generation. It stops without a terminal frame when
// ctx is cancelled.
func (s *Server) generate(ctx context.Context, req *agent.ExecuteRequest, emit emitFunc) {
	if err := emit(frame{"type": agent.EventStreamStart}); err != nil {
		return
	}

	if msg, ok := strings.CutPrefix(req.Input, errorPrefix); ok {
		_ = emit(frame{"type": agent.EventError, "error": msg})
		return
	}

	for _, chunk := range echoWords(req.Input) {
		if s.opts.ChunkDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.opts.ChunkDelay):
			}
		} else if ctx.Err() != nil {
			return
		}
		if err := emit(frame{"type": agent.EventStreamChunk, "chunk": chunk}); err != nil {
			return
		}
	}

	if ctx.Err() != nil {
		return
	}
	_ = emit(frame{"type": agent.EventStreamEnd})
}
