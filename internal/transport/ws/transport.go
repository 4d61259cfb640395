// Package ws implements the persistent WebSocket transport.
//
// transport.go - Socket link and frame routing
//
// This file contains:
// - Transport, one gorilla/websocket link per relay supervised by a
//   reconnect.Controller
// - the read loop that routes frames to the single active channel
// - the keepalive loop that sends {"type":"ping"} while the link is open
//
// Frames that arrive while no generation is active are handled here:
// "connected" records the user id in the auth session, "pong" and anything
// else is dropped.

package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/HyphaGroup/agentrelay/internal/agent"
	"github.com/HyphaGroup/agentrelay/internal/auth"
	"github.com/HyphaGroup/agentrelay/internal/logger"
	"github.com/HyphaGroup/agentrelay/internal/metrics"
	"github.com/HyphaGroup/agentrelay/internal/reconnect"
	"github.com/HyphaGroup/agentrelay/internal/transport"
)

const writeWait = 10 * time.Second

// Options configures a Transport
type Options struct {
	URL     string
	Session *auth.Session
	Policy  reconnect.Policy
	Clock   reconnect.Clock
	Dialer  *websocket.Dialer
}

// Transport is a transport.Transport over one WebSocket link
type Transport struct {
	url     string
	session *auth.Session
	dialer  *websocket.Dialer
	ping    time.Duration
	ctrl    *reconnect.Controller

	mu     sync.Mutex
	conn   *conn
	active *channel
	closed bool
}

var _ transport.Transport = (*Transport)(nil)

// New creates a WebSocket transport. The link is not dialed until Open.
func New(opts Options) *Transport {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	session := opts.Session
	if session == nil {
		session = auth.NewSession(auth.State{})
	}

	t := &Transport{
		url:     opts.URL,
		session: session,
		dialer:  dialer,
		ping:    opts.Policy.PingInterval,
	}
	t.ctrl = reconnect.NewController(opts.Policy, opts.Clock, t.dial)
	t.ctrl.OnStateChange(t.onStateChange)
	return t
}

// Controller exposes the link supervisor, mainly for status reporting
func (t *Transport) Controller() *reconnect.Controller {
	return t.ctrl
}

// Open dials the link if it is not already open
func (t *Transport) Open(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return transport.ErrClosed
	}
	t.mu.Unlock()

	if err := t.ctrl.Connect(ctx); err != nil {
		return fmt.Errorf("websocket connect: %w", err)
	}
	return nil
}

// Send writes an execute_agent message and returns the channel that will
// receive the reply frames. The link must already be open.
func (t *Transport) Send(ctx context.Context, req *agent.ExecuteRequest) (transport.Channel, error) {
	data, err := agent.EncodeRequest(req)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, transport.ErrClosed
	}
	c := t.conn
	if c == nil || t.ctrl.Snapshot().State != reconnect.StateOpen {
		t.mu.Unlock()
		return nil, transport.ErrNotOpen
	}
	if t.active != nil {
		t.active.end()
	}
	ch := newChannel(t)
	// A generation this link abandoned may still be streaming. Its frames
	// arrive ahead of ours, so hold ours back until our own stream_start.
	ch.awaitingStart = c.unfinished
	c.unfinished = true
	t.active = ch
	t.mu.Unlock()

	if err := c.write(data); err != nil {
		t.detach(ch)
		ch.end()
		return nil, fmt.Errorf("write execute request: %w", err)
	}

	logger.DebugContext(ctx, "execute request sent", "agent", req.AgentName)
	return ch, nil
}

// Close disconnects with normal closure and ends any active channel.
// No reconnect follows.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	active := t.active
	t.active = nil
	t.mu.Unlock()

	if active != nil {
		active.end()
	}
	t.ctrl.Disconnect()
	return nil
}

// dial is the reconnect.DialFunc for this transport
func (t *Transport) dial(ctx context.Context) (reconnect.Link, error) {
	header := http.Header{}
	if bearer := t.session.Get().BearerHeader(); bearer != "" {
		header.Set("Authorization", bearer)
	}

	wsConn, resp, err := t.dialer.DialContext(ctx, t.url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		logger.WarnContext(ctx, "websocket dial failed", "url", t.url, "error", err)
		return nil, err
	}

	c := &conn{ws: wsConn, done: make(chan struct{})}
	t.mu.Lock()
	t.conn = c
	t.mu.Unlock()
	return c, nil
}

// onStateChange starts the loops once the controller has recorded the new
// link as current, so a close reported by the read loop is never mistaken
// for a stale link.
func (t *Transport) onStateChange(s reconnect.Snapshot) {
	metrics.SetLinkState(string(s.State), linkStates)
	logger.Slog().Info("websocket link state", "state", s.State, "attempt", s.Attempt, "close_code", s.LastCloseCode)

	switch s.State {
	case reconnect.StateOpen:
		t.mu.Lock()
		c := t.conn
		start := c != nil && !c.started
		if start {
			c.started = true
		}
		t.mu.Unlock()
		if start {
			go t.readLoop(c)
			if t.ping > 0 {
				go t.pingLoop(c)
			}
		}
	case reconnect.StateConnecting:
		if s.RetryPending {
			metrics.RecordReconnect()
		}
	}
}

var linkStates = []string{
	string(reconnect.StateDisconnected),
	string(reconnect.StateConnecting),
	string(reconnect.StateOpen),
	string(reconnect.StateClosedClean),
	string(reconnect.StateClosedUnexpected),
}

func (t *Transport) readLoop(c *conn) {
	code := reconnect.CloseAbnormal
	defer func() {
		c.markDone()

		t.mu.Lock()
		active := t.active
		t.active = nil
		if t.conn == c {
			t.conn = nil
		}
		t.mu.Unlock()

		// An in-flight generation is never resumed on a new link
		if active != nil {
			active.end()
		}
		t.ctrl.HandleClose(c, code)
	}()

	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				code = closeErr.Code
			}
			if !errors.Is(err, websocket.ErrCloseSent) && code != reconnect.CloseNormal {
				logger.Slog().Warn("websocket read error", "error", err, "close_code", code)
			}
			return
		}

		t.route(c, msg)
	}
}

// route hands msg to the active channel, or to handleIdleFrame when there is
// none or the frame belongs to an abandoned generation
func (t *Transport) route(c *conn, msg []byte) {
	var typ agent.EventType
	if ev, err := agent.ParseFrame(msg); err == nil {
		typ = ev.Type
	}

	t.mu.Lock()
	active := t.active
	if active != nil && active.awaitingStart {
		switch typ {
		case agent.EventStreamStart:
			active.awaitingStart = false
		case agent.EventError:
			// may be the dispatcher rejecting our request, which it does
			// without a stream_start
		default:
			active = nil
		}
	} else if typ.Terminal() {
		c.unfinished = false
	}
	t.mu.Unlock()

	if active != nil {
		active.deliver(msg)
		return
	}
	t.handleIdleFrame(msg)
}

// handleIdleFrame processes a frame that arrived with no active generation
func (t *Transport) handleIdleFrame(msg []byte) {
	ev, err := agent.ParseFrame(msg)
	if err != nil {
		metrics.RecordMalformedFrame()
		logger.Slog().Debug("dropping malformed idle frame", "error", err)
		return
	}
	switch ev.Type {
	case agent.EventConnected:
		if ev.UserID != "" {
			t.session.SetUserID(ev.UserID)
		}
		logger.Slog().Info("dispatcher connected", "user_id", ev.UserID)
	case agent.EventPong:
	default:
		logger.Slog().Debug("dropping frame with no active stream", "type", ev.Type)
	}
}

func (t *Transport) pingLoop(c *conn) {
	ticker := time.NewTicker(t.ping)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.write(agent.EncodePing()); err != nil {
				logger.Slog().Debug("ping failed", "error", err)
				return
			}
		}
	}
}

// detach clears ch as the active channel if it still is
func (t *Transport) detach(ch *channel) {
	t.mu.Lock()
	if t.active == ch {
		t.active = nil
	}
	t.mu.Unlock()
}

// conn is one dialed socket. It is the reconnect.Link for the controller.
type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	started bool // guarded by Transport.mu

	// unfinished is set while a generation sent on this link may still
	// produce frames; guarded by Transport.mu
	unfinished bool

	doneOnce sync.Once
	done     chan struct{}
}

func (c *conn) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *conn) markDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

// Close sends a normal-closure frame and closes the socket
func (c *conn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()
	c.markDone()
	return c.ws.Close()
}
