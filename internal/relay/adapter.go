package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/HyphaGroup/agentrelay/internal/agent"
	"github.com/HyphaGroup/agentrelay/internal/audit"
	"github.com/HyphaGroup/agentrelay/internal/auth"
	"github.com/HyphaGroup/agentrelay/internal/logger"
	"github.com/HyphaGroup/agentrelay/internal/metrics"
	"github.com/HyphaGroup/agentrelay/internal/stream"
	"github.com/HyphaGroup/agentrelay/internal/transport"
)

/*
TRANSPORT ADAPTER - ONE ACTIVE GENERATION PER RELAY

The Adapter turns a caller's Send into a transport channel, decodes the frames
that arrive on it, accumulates them in a stream.Session and reports progress
through callbacks.

CHANNEL LIFECYCLE:

    Send ──> close previous channel (OnClose) ──> transport.Send ──> dispatch
                                                                      │
        stream_end ──> OnComplete(text) ──> close ──> OnClose  <──────┤
        error      ──> OnError(upstream) ──> close ──> OnClose  <─────┤
        frames end ──> OnError(connection lost) ──> OnClose     <─────┘

    Cancel and Disconnect close the channel with no terminal callback.
    A rejected Send (validation, throttle, transport) has still closed the
    previous channel; it reports OnError and keeps no channel.

GENERATIONS:

    Every install or teardown bumps a generation counter under mu. The
    dispatch goroutine of a channel checks its generation before acting on a
    frame, so nothing from a superseded channel reaches the callbacks.

LOCKING:

    sendMu serialises Send, Cancel and Disconnect.
    cbMu is held while callbacks run, so callbacks never overlap. Callbacks
    must not call back into the Adapter; hand work to another goroutine.
    mu guards the current channel, session and generation.
*/

const defaultCancelTimeout = 5 * time.Second

// Metadata identifies a send
type Metadata struct {
	SessionID      string
	Agent          string
	LLMConfigID    string
	ConversationID string
	ContextType    string
	ContextID      string
	ContextData    map[string]interface{}
}

// Callbacks receive stream progress. Nil callbacks are skipped.
type Callbacks struct {
	OnChunk     func(chunk string)
	OnComplete  func(text string)
	OnError     func(err error)
	OnClose     func()
	OnConnected func(userID string)
}

// Recorder persists finished streams
type Recorder interface {
	Record(ctx context.Context, summary stream.Summary) error
}

// Options configures an Adapter
type Options struct {
	Callbacks

	// Auth supplies the default session id and receives the user id from
	// connected frames
	Auth          *auth.Session
	Throttle      *Throttle
	Recorder      Recorder
	Audit         *audit.Logger
	TransportName string // metrics label
	CancelTimeout time.Duration
}

// Adapter relays one agent generation at a time over a transport
type Adapter struct {
	t    transport.Transport
	opts Options

	sendMu sync.Mutex
	cbMu   sync.Mutex

	mu       sync.Mutex
	gen      uint64
	ch       transport.Channel
	session  *stream.Session
	streamID string
	logCtx   context.Context
}

// New creates an Adapter over t
func New(t transport.Transport, opts Options) *Adapter {
	if opts.CancelTimeout <= 0 {
		opts.CancelTimeout = defaultCancelTimeout
	}
	if opts.TransportName == "" {
		opts.TransportName = "unknown"
	}
	return &Adapter{t: t, opts: opts}
}

// Connect opens the transport link. Send does not connect implicitly.
func (a *Adapter) Connect(ctx context.Context) error {
	if err := a.t.Open(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	return nil
}

// Send starts a generation. Any active channel is closed first, even when
// the send is then rejected, and its OnClose runs before anything of the new
// stream. A nil return means the channel is open and frames will be
// dispatched to the callbacks.
func (a *Adapter) Send(ctx context.Context, message string, meta Metadata) error {
	a.sendMu.Lock()
	defer a.sendMu.Unlock()

	if meta.SessionID == "" && a.opts.Auth != nil {
		meta.SessionID = a.opts.Auth.Get().SessionID
	}
	requestID := logger.RequestID(ctx)
	if requestID == "" {
		requestID = uuid.New().String()
	}
	ctx = logger.WithFields(ctx, requestID, meta.SessionID, meta.Agent)

	a.closeActive("superseded")

	var (
		ch  transport.Channel
		err error
	)
	switch {
	case meta.SessionID == "":
		err = fmt.Errorf("%w: missing session id", ErrInvalidRequest)
	case meta.Agent == "":
		err = fmt.Errorf("%w: missing agent", ErrInvalidRequest)
	case !a.opts.Throttle.Allow(meta.Agent):
		err = fmt.Errorf("%w: agent %q", ErrRateLimited, meta.Agent)
	}

	s := stream.NewSession(meta.SessionID, meta.Agent)
	if err == nil {
		ch, err = a.t.Send(ctx, &agent.ExecuteRequest{
			AgentName:      meta.Agent,
			Input:          message,
			LLMConfigID:    meta.LLMConfigID,
			ConversationID: meta.ConversationID,
			ContextType:    meta.ContextType,
			ContextID:      meta.ContextID,
			ContextData:    meta.ContextData,
			SessionID:      meta.SessionID,
		})
		if errors.Is(err, transport.ErrNotOpen) || errors.Is(err, transport.ErrClosed) {
			err = fmt.Errorf("%w: %w", ErrNotConnected, err)
		}
	}
	if err != nil {
		s.Fail(err.Error())
		a.mu.Lock()
		a.session = s
		a.streamID = ""
		a.mu.Unlock()
		return a.initiationFailed(ctx, meta, err)
	}
	s.Start()

	logCtx := context.WithoutCancel(ctx)
	streamID := ch.StreamID()
	if streamID != "" {
		logCtx = context.WithValue(logCtx, logger.ContextKeyStreamID, streamID)
	}

	a.mu.Lock()
	a.gen++
	gen := a.gen
	a.ch = ch
	a.session = s
	a.streamID = streamID
	a.logCtx = logCtx
	a.mu.Unlock()

	metrics.RecordStreamStart(meta.Agent, a.opts.TransportName)
	a.auditSuccess(audit.OpStreamSend, meta.SessionID, meta.Agent, streamID)
	logger.InfoContext(logCtx, "stream opened", "transport", a.opts.TransportName)

	go a.dispatch(logCtx, gen, ch, s)
	return nil
}

// Cancel stops the active generation. Local state returns to idle even when
// the server-side cancel fails or times out; the returned error only
// reports that server call.
func (a *Adapter) Cancel(ctx context.Context) error {
	a.sendMu.Lock()
	defer a.sendMu.Unlock()

	a.cbMu.Lock()
	a.mu.Lock()
	ch, s, streamID, logCtx := a.ch, a.session, a.streamID, a.logCtx
	a.gen++
	a.ch = nil
	a.session = nil
	a.streamID = ""
	a.mu.Unlock()
	a.cbMu.Unlock()

	if ch == nil {
		return nil
	}
	if s.Cancel() {
		a.finish(logCtx, s, streamID)
	}

	var cancelErr error
	if streamID != "" {
		cctx, cancel := context.WithTimeout(ctx, a.opts.CancelTimeout)
		cancelErr = ch.Cancel(cctx)
		cancel()
	}
	_ = ch.Close()

	if cancelErr != nil {
		logger.WarnContext(logCtx, "server cancel failed", "error", cancelErr)
		a.auditFailure(audit.OpStreamCancel, s.SessionID(), s.Agent(), streamID, cancelErr)
	} else {
		a.auditSuccess(audit.OpStreamCancel, s.SessionID(), s.Agent(), streamID)
	}
	logger.InfoContext(logCtx, "stream cancelled")

	a.cbMu.Lock()
	a.callOnClose()
	a.cbMu.Unlock()

	if cancelErr != nil {
		return fmt.Errorf("server cancel: %w", cancelErr)
	}
	return nil
}

// Disconnect tears down any channel and closes the transport link
func (a *Adapter) Disconnect() {
	a.sendMu.Lock()
	defer a.sendMu.Unlock()

	a.closeActive("disconnect")
	a.mu.Lock()
	a.session = nil
	a.streamID = ""
	a.mu.Unlock()

	if err := a.t.Close(); err != nil {
		logger.Slog().Warn("transport close failed", "error", err)
	}
}

// Status returns the status of the current stream session
func (a *Adapter) Status() stream.Status {
	a.mu.Lock()
	s := a.session
	a.mu.Unlock()
	if s == nil {
		return stream.StatusIdle
	}
	return s.Status()
}

// Text returns the text accumulated by the current stream session
func (a *Adapter) Text() string {
	a.mu.Lock()
	s := a.session
	a.mu.Unlock()
	if s == nil {
		return ""
	}
	return s.Text()
}

// closeActive ends the current channel with no terminal callback
func (a *Adapter) closeActive(reason string) {
	a.cbMu.Lock()
	defer a.cbMu.Unlock()

	a.mu.Lock()
	ch, s, streamID, logCtx := a.ch, a.session, a.streamID, a.logCtx
	a.gen++
	a.ch = nil
	a.mu.Unlock()

	if ch == nil {
		return
	}
	if s.Cancel() {
		a.finish(logCtx, s, streamID)
		a.auditSuccess(audit.OpStreamCancel, s.SessionID(), s.Agent(), streamID)
	}
	_ = ch.Close()
	logger.DebugContext(logCtx, "channel closed", "reason", reason)
	a.callOnClose()
}

func (a *Adapter) dispatch(logCtx context.Context, gen uint64, ch transport.Channel, s *stream.Session) {
	for frame := range ch.Frames() {
		a.handleFrame(logCtx, gen, ch, s, frame)
	}
	a.channelEnded(logCtx, gen, ch, s)
}

func (a *Adapter) handleFrame(logCtx context.Context, gen uint64, ch transport.Channel, s *stream.Session, frame []byte) {
	a.cbMu.Lock()
	defer a.cbMu.Unlock()

	if !a.current(gen) {
		return
	}

	ev, err := agent.ParseFrame(frame)
	if err != nil {
		metrics.RecordMalformedFrame()
		logger.WarnContext(logCtx, "skipping malformed frame", "error", err)
		return
	}
	if !ev.Type.Known() {
		logger.DebugContext(logCtx, "ignoring unknown frame type", "type", ev.Type)
		return
	}

	switch ev.Type {
	case agent.EventConnected:
		if ev.UserID != "" && a.opts.Auth != nil {
			a.opts.Auth.SetUserID(ev.UserID)
		}
		if a.opts.OnConnected != nil {
			a.opts.OnConnected(ev.UserID)
		}

	case agent.EventStreamStart:
		s.Start()

	case agent.EventStreamChunk:
		if s.AppendChunk(ev.Chunk) {
			metrics.RecordChunk(s.Agent())
			if a.opts.OnChunk != nil {
				a.opts.OnChunk(ev.Chunk)
			}
		}

	case agent.EventStreamEnd:
		text := s.Finalize()
		streamID := a.release(gen, ch)
		a.finish(logCtx, s, streamID)
		a.auditSuccess(audit.OpStreamComplete, s.SessionID(), s.Agent(), streamID)
		logger.InfoContext(logCtx, "stream completed", "length", len(text))
		if a.opts.OnComplete != nil {
			a.opts.OnComplete(text)
		}
		a.callOnClose()

	case agent.EventError:
		upstream := &UpstreamError{Message: ev.Error}
		s.Fail(ev.Error)
		streamID := a.release(gen, ch)
		a.finish(logCtx, s, streamID)
		a.auditFailure(audit.OpStreamError, s.SessionID(), s.Agent(), streamID, upstream)
		logger.WarnContext(logCtx, "stream failed upstream", "error", ev.Error)
		if a.opts.OnError != nil {
			a.opts.OnError(upstream)
		}
		a.callOnClose()

	case agent.EventPong:
	}
}

// channelEnded handles Frames closing. If the channel is still current no
// terminal frame arrived, which is reported as a lost connection.
func (a *Adapter) channelEnded(logCtx context.Context, gen uint64, ch transport.Channel, s *stream.Session) {
	a.cbMu.Lock()
	defer a.cbMu.Unlock()

	if !a.current(gen) {
		return
	}
	streamID := a.release(gen, ch)
	if !s.Fail(ErrConnectionLost.Error()) {
		a.callOnClose()
		return
	}
	a.finish(logCtx, s, streamID)
	a.auditFailure(audit.OpStreamError, s.SessionID(), s.Agent(), streamID, ErrConnectionLost)
	logger.WarnContext(logCtx, "channel ended without a terminal frame")
	if a.opts.OnError != nil {
		a.opts.OnError(ErrConnectionLost)
	}
	a.callOnClose()
}

func (a *Adapter) current(gen uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.gen == gen
}

// release detaches and closes ch if gen is still current; must hold cbMu
func (a *Adapter) release(gen uint64, ch transport.Channel) string {
	a.mu.Lock()
	streamID := a.streamID
	if a.gen == gen {
		a.gen++
		a.ch = nil
	}
	a.mu.Unlock()

	_ = ch.Close()
	return streamID
}

// finish records metrics and the transcript for a session that just ended
func (a *Adapter) finish(logCtx context.Context, s *stream.Session, streamID string) {
	summary := s.Summary()
	summary.StreamID = streamID
	metrics.RecordStreamEnd(summary.Agent, string(summary.Status), summary.Duration().Seconds())

	if a.opts.Recorder == nil {
		return
	}
	if err := a.opts.Recorder.Record(logCtx, summary); err != nil {
		logger.WarnContext(logCtx, "failed to record transcript", "error", err)
	}
}

func (a *Adapter) initiationFailed(ctx context.Context, meta Metadata, cause error) error {
	err := fmt.Errorf("%w: %w", ErrInitiation, cause)
	logger.WarnContext(ctx, "stream initiation failed", "error", cause)
	a.auditFailure(audit.OpStreamSend, meta.SessionID, meta.Agent, "", cause)

	a.cbMu.Lock()
	if a.opts.OnError != nil {
		a.opts.OnError(err)
	}
	a.cbMu.Unlock()
	return err
}

// callOnClose must hold cbMu
func (a *Adapter) callOnClose() {
	if a.opts.OnClose != nil {
		a.opts.OnClose()
	}
}

func (a *Adapter) auditSuccess(op audit.Operation, sessionID, agentName, streamID string) {
	if a.opts.Audit != nil {
		a.opts.Audit.LogSuccess(op, sessionID, agentName, streamID)
	}
}

func (a *Adapter) auditFailure(op audit.Operation, sessionID, agentName, streamID string, err error) {
	if a.opts.Audit != nil {
		a.opts.Audit.LogFailure(op, sessionID, agentName, streamID, err)
	}
}
