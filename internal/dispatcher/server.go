// Package dispatcher is a reference Agent Invocation Dispatcher.
//
// server.go - HTTP server, routing and middleware chain
//
// This file contains:
// - Server and Options
// - Handler: the route table wrapped in auth, rate limit and metrics middleware
// - Serve: ListenAndServe with graceful shutdown
//
// The dispatcher does not run a model. Every generation echoes the request
// input back one word per chunk, which is enough to drive both relay
// transports end to end.
package dispatcher

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/HyphaGroup/agentrelay/internal/auth"
	"github.com/HyphaGroup/agentrelay/internal/logger"
	"github.com/HyphaGroup/agentrelay/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

// Options configures a Server
type Options struct {
	// Tokens authenticates callers. Nil accepts anonymous callers.
	Tokens auth.Validator

	// ChunkDelay is the pause between echoed words
	ChunkDelay time.Duration

	// RatePerSecond and Burst limit requests per caller. A zero rate uses
	// the default limiter.
	RatePerSecond float64
	Burst         int
}

// Server serves the socket and event-stream dispatcher endpoints
type Server struct {
	opts     Options
	upgrader websocket.Upgrader
	limiter  *auth.RateLimiter

	mu      sync.Mutex
	streams map[string]*pendingStream
}

// New creates a dispatcher
func New(opts Options) *Server {
	limiter := auth.DefaultRateLimiter()
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = auth.NewRateLimiter(opts.RatePerSecond, burst)
	}
	return &Server{
		opts:    opts,
		limiter: limiter,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		streams: make(map[string]*pendingStream),
	}
}

// Handler returns the full route table
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /ws", s.handleSocket)
	api.HandleFunc("POST /agents/{agent}/stream", s.handleInitiate)
	api.HandleFunc("GET /stream/{id}", s.handleEvents)
	api.HandleFunc("POST /stream/{id}/cancel", s.handleCancel)

	var handler http.Handler = api
	handler = auth.RateLimitMiddleware(s.limiter)(handler)
	if s.opts.Tokens != nil {
		handler = auth.Middleware(s.opts.Tokens)(handler)
	}
	handler = requestIDMiddleware(handler)

	mux := http.NewServeMux()

	// Health and metrics need no authentication
	mux.HandleFunc("/health", handleHealthCheck)
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", metrics.Middleware(handler))
	return mux
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Slog().Info("dispatcher listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Slog().Info("dispatcher shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.cancelAll()
	return srv.Shutdown(shutdownCtx)
}

// requestIDMiddleware propagates or assigns X-Request-ID
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = newID()
		}
		w.Header().Set("X-Request-ID", requestID)

		ctx := context.WithValue(r.Context(), logger.ContextKeyRequestID, requestID)
		r = r.WithContext(ctx)
		logger.DebugContext(ctx, "http request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}

// handleHealthCheck is a basic liveness check
func handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// userID returns the authenticated caller, or "anonymous"
func userID(r *http.Request) string {
	if id := auth.FromContext(r.Context()); id != nil && id.UserID != "" {
		return id.UserID
	}
	return "anonymous"
}
