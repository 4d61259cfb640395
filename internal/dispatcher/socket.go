package dispatcher

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/HyphaGroup/agentrelay/internal/agent"
	"github.com/HyphaGroup/agentrelay/internal/logger"
)

// socketConn serialises writes from the read loop and the generation goroutine
type socketConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *socketConn) emit(f frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(f)
}

// handleSocket runs one persistent socket. A new execute_agent message
// abandons the generation in progress on that socket.
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	sc := &socketConn{conn: conn}
	user := userID(r)
	if err := sc.emit(frame{"type": agent.EventConnected, "userId": user}); err != nil {
		return
	}
	logger.InfoContext(r.Context(), "socket connected", "user_id", user)

	var wg sync.WaitGroup
	cancelGeneration := func() {}
	defer func() {
		cancelGeneration()
		wg.Wait()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.DebugContext(r.Context(), "socket read ended", "error", err)
			}
			return
		}

		var req agent.ExecuteRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			_ = sc.emit(frame{"type": agent.EventError, "error": "invalid message"})
			continue
		}

		switch req.Type {
		case agent.MessagePing:
			_ = sc.emit(frame{"type": agent.EventPong})

		case agent.MessageExecuteAgent:
			if req.AgentName == "" {
				_ = sc.emit(frame{"type": agent.EventError, "error": "agentName is required"})
				continue
			}
			cancelGeneration()
			wg.Wait()

			ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
			cancelGeneration = cancel
			wg.Add(1)
			go func(req agent.ExecuteRequest) {
				defer wg.Done()
				s.generate(ctx, &req, sc.emit)
			}(req)

		default:
			_ = sc.emit(frame{"type": agent.EventError, "error": "unknown message type: " + req.Type})
		}
	}
}
