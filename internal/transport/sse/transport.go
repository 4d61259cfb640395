// Package sse implements the per-request stream-identifier transport.
//
// transport.go - HTTP initiation, event stream and cancel
//
// This file contains:
// - Transport, which opens one HTTP event stream per generation
// - channel, the reader goroutine that turns "data:" lines into frames
//
// Protocol:
//   POST {base}/agents/{agent}/stream   body: execute request -> {"streamId": "..."}
//   GET  {base}/stream/{streamId}       text/event-stream, one JSON frame per event
//   POST {base}/stream/{streamId}/cancel
//
// Every request carries the bearer token from the auth session and an
// X-Request-ID header.

package sse

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/HyphaGroup/agentrelay/internal/agent"
	"github.com/HyphaGroup/agentrelay/internal/auth"
	"github.com/HyphaGroup/agentrelay/internal/logger"
	"github.com/HyphaGroup/agentrelay/internal/transport"
)

const defaultRequestTimeout = 30 * time.Second

// StatusError is returned when the dispatcher answers with a non-success status
type StatusError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: HTTP %d", e.Op, e.StatusCode)
}

// Options configures a Transport
type Options struct {
	BaseURL        string
	Session        *auth.Session
	Client         *http.Client
	RequestTimeout time.Duration // bounds initiation and cancel, not the stream
}

// Transport is a transport.Transport over HTTP event streams
type Transport struct {
	baseURL string
	session *auth.Session
	client  *http.Client
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	open   map[*channel]struct{}
}

var _ transport.Transport = (*Transport)(nil)

// New creates an SSE transport
func New(opts Options) *Transport {
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	session := opts.Session
	if session == nil {
		session = auth.NewSession(auth.State{})
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Transport{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		session: session,
		client:  client,
		timeout: timeout,
		open:    make(map[*channel]struct{}),
	}
}

// Open is a no-op: each generation opens its own HTTP stream
func (t *Transport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return transport.ErrClosed
	}
	return nil
}

// Send initiates a stream and attaches to its event feed
func (t *Transport) Send(ctx context.Context, req *agent.ExecuteRequest) (transport.Channel, error) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return nil, transport.ErrClosed
	}

	streamID, err := t.initiate(ctx, req)
	if err != nil {
		return nil, err
	}

	// The event stream outlives the caller's request; Close ends it
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	resp, err := t.attach(streamCtx, streamID)
	if err != nil {
		cancel()
		return nil, err
	}

	ch := &channel{
		t:        t,
		streamID: streamID,
		body:     resp.Body,
		cancel:   cancel,
		frames:   make(chan []byte, 16),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}

	t.mu.Lock()
	t.open[ch] = struct{}{}
	t.mu.Unlock()

	go ch.read()
	logger.DebugContext(ctx, "event stream attached", "agent", req.AgentName, "stream_id", streamID)
	return ch, nil
}

// Close ends every open stream. Later sends fail with transport.ErrClosed.
func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	channels := make([]*channel, 0, len(t.open))
	for ch := range t.open {
		channels = append(channels, ch)
	}
	t.mu.Unlock()

	for _, ch := range channels {
		_ = ch.Close()
	}
	return nil
}

func (t *Transport) initiate(ctx context.Context, req *agent.ExecuteRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode execute request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	endpoint := t.baseURL + "/agents/" + url.PathEscape(req.AgentName) + "/stream"
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build initiation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	t.decorate(ctx, httpReq)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("initiate stream: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		return "", statusError("initiate stream", resp)
	}

	var init agent.StreamInitResponse
	if err := json.NewDecoder(resp.Body).Decode(&init); err != nil {
		return "", fmt.Errorf("decode initiation response: %w", err)
	}
	if init.StreamID == "" {
		return "", errors.New("initiate stream: response has no streamId")
	}
	return init.StreamID, nil
}

func (t *Transport) attach(ctx context.Context, streamID string) (*http.Response, error) {
	endpoint := t.baseURL + "/stream/" + url.PathEscape(streamID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build stream request: %w", err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")
	t.decorate(ctx, httpReq)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("open event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		return nil, statusError("open event stream", resp)
	}
	return resp, nil
}

func (t *Transport) cancelStream(ctx context.Context, streamID string) error {
	reqCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	endpoint := t.baseURL + "/stream/" + url.PathEscape(streamID) + "/cancel"
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, http.NoBody)
	if err != nil {
		return fmt.Errorf("build cancel request: %w", err)
	}
	t.decorate(ctx, httpReq)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("cancel stream: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError("cancel stream", resp)
	}
	return nil
}

// decorate attaches auth and correlation headers
func (t *Transport) decorate(ctx context.Context, req *http.Request) {
	if bearer := t.session.Get().BearerHeader(); bearer != "" {
		req.Header.Set("Authorization", bearer)
	}
	requestID := logger.RequestID(ctx)
	if requestID == "" {
		requestID = uuid.New().String()
	}
	req.Header.Set("X-Request-ID", requestID)
}

func (t *Transport) forget(ch *channel) {
	t.mu.Lock()
	delete(t.open, ch)
	t.mu.Unlock()
}

// statusError reads an {"error": "..."} body if present
func statusError(op string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(data))

	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &body) == nil {
		switch {
		case body.Error != "":
			msg = body.Error
		case body.Message != "":
			msg = body.Message
		}
	}
	return &StatusError{Op: op, StatusCode: resp.StatusCode, Message: msg}
}

// channel is one generation's event stream
type channel struct {
	t        *Transport
	streamID string
	body     io.ReadCloser
	cancel   context.CancelFunc

	frames   chan []byte
	doneOnce sync.Once
	done     chan struct{}
	finished chan struct{}
}

var _ transport.Channel = (*channel)(nil)

func (c *channel) Frames() <-chan []byte {
	return c.frames
}

func (c *channel) StreamID() string {
	return c.streamID
}

// Cancel asks the dispatcher to stop the generation
func (c *channel) Cancel(ctx context.Context) error {
	return c.t.cancelStream(ctx, c.streamID)
}

// Close stops reading and waits for the reader to exit
func (c *channel) Close() error {
	c.doneOnce.Do(func() {
		close(c.done)
		c.cancel()
		_ = c.body.Close()
	})
	<-c.finished
	c.t.forget(c)
	return nil
}

// read parses the event stream. Consecutive data lines form one frame; a
// blank line dispatches it.
func (c *channel) read() {
	defer close(c.finished)
	defer close(c.frames)
	defer c.t.forget(c)

	reader := bufio.NewReader(c.body)
	var data []string

	dispatch := func() bool {
		if len(data) == 0 {
			return true
		}
		frame := []byte(strings.Join(data, "\n"))
		data = data[:0]
		select {
		case c.frames <- frame:
			return true
		case <-c.done:
			return false
		}
	}

	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			line = strings.TrimRight(line, "\r\n")
			switch {
			case line == "":
				if !dispatch() {
					return
				}
			case strings.HasPrefix(line, "data:"):
				payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				if payload != "" {
					data = append(data, payload)
				}
			default:
				// comments, event: and id: lines carry nothing the relay uses
			}
		}
		if err != nil {
			select {
			case <-c.done:
			default:
				if err != io.EOF {
					logger.Slog().Debug("event stream read ended", "stream_id", c.streamID, "error", err)
				}
				dispatch()
			}
			return
		}
	}
}
