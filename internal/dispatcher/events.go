package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/HyphaGroup/agentrelay/internal/agent"
	"github.com/HyphaGroup/agentrelay/internal/logger"
)

// pendingStream is an initiated generation waiting for, or being read by,
// its event-stream client
type pendingStream struct {
	req      agent.ExecuteRequest
	user     string
	ctx      context.Context
	cancel   context.CancelFunc
	attached bool
}

// handleInitiate registers a generation and returns its stream id
func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var req agent.ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.AgentName = r.PathValue("agent")
	if req.AgentName == "" {
		writeError(w, "agent is required", http.StatusBadRequest)
		return
	}

	id := newID()
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.streams[id] = &pendingStream{req: req, user: userID(r), ctx: ctx, cancel: cancel}
	s.mu.Unlock()

	logger.InfoContext(r.Context(), "stream initiated", "agent", req.AgentName, "stream_id", id)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(agent.StreamInitResponse{StreamID: id})
}

// handleEvents runs the generation and writes its frames as server-sent events
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	ps, ok := s.streams[id]
	if ok && ps.attached {
		s.mu.Unlock()
		writeError(w, "stream already attached", http.StatusConflict)
		return
	}
	if ok {
		ps.attached = true
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, "stream not found", http.StatusNotFound)
		return
	}
	defer s.remove(id)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Either the client going away or a cancel call stops the generation
	ctx, cancel := context.WithCancel(ps.ctx)
	defer cancel()
	stop := context.AfterFunc(r.Context(), cancel)
	defer stop()

	emit := func(f frame) error {
		data, err := json.Marshal(f)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := emit(frame{"type": agent.EventConnected, "userId": ps.user}); err != nil {
		return
	}
	s.generate(ctx, &ps.req, emit)
}

// handleCancel stops a generation
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	ps, ok := s.streams[id]
	if ok {
		delete(s.streams, id)
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, "stream not found", http.StatusNotFound)
		return
	}
	ps.cancel()
	logger.InfoContext(r.Context(), "stream cancelled", "stream_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) remove(id string) {
	s.mu.Lock()
	ps, ok := s.streams[id]
	delete(s.streams, id)
	s.mu.Unlock()
	if ok {
		ps.cancel()
	}
}

// cancelAll stops every generation, used on shutdown
func (s *Server) cancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ps := range s.streams {
		ps.cancel()
		delete(s.streams, id)
	}
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": message,
	})
}
