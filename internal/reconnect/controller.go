package reconnect

import (
	"context"
	"errors"
	"sync"
)

// ErrAborted is returned by Connect when Disconnect was called while dialing
var ErrAborted = errors.New("connect aborted by disconnect")

// Link is an established connection owned by the caller's transport
type Link interface {
	Close() error
}

// DialFunc establishes a new link
type DialFunc func(ctx context.Context) (Link, error)

// Controller drives the state machine in Next against a real dialer and clock
type Controller struct {
	policy Policy
	clock  Clock
	dial   DialFunc

	mu        sync.Mutex
	snap      Snapshot
	link      Link
	timer     Timer
	epoch     int
	baseCtx   context.Context
	listeners []func(Snapshot)
}

// NewController creates a controller in the disconnected state
func NewController(policy Policy, clock Clock, dial DialFunc) *Controller {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Controller{
		policy:  policy,
		clock:   clock,
		dial:    dial,
		snap:    Snapshot{State: StateDisconnected},
		baseCtx: context.Background(),
	}
}

// OnStateChange registers a listener called after every transition.
// Listeners run without the controller lock held.
func (c *Controller) OnStateChange(fn func(Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Snapshot returns the current reconnect state
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// Policy returns the controller's policy
func (c *Controller) Policy() Policy {
	return c.policy
}

// Connect dials if the link is not already open or dialing.
// A failed dial is returned to the caller and also fed to the state machine,
// which may schedule an automatic retry.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	// Retries outlive the request that triggered the first connect
	c.baseCtx = context.WithoutCancel(ctx)
	next, act := Next(c.policy, c.snap, Event{Kind: EventConnect})
	notify := c.transition(next)
	if act.Kind == ActionDial {
		c.stopTimer()
	}
	c.mu.Unlock()
	c.emit(notify)

	if act.Kind != ActionDial {
		return nil
	}
	return c.runDial(ctx)
}

// HandleClose is called by the transport when link stops reading.
// Closes reported for a link other than the current one are ignored.
func (c *Controller) HandleClose(link Link, code int) {
	c.mu.Lock()
	if link != c.link {
		c.mu.Unlock()
		return
	}
	c.link = nil
	closedState := Classify(code)
	wasOpen := c.snap.State == StateOpen
	next, act := Next(c.policy, c.snap, Event{Kind: EventClosed, Code: code})
	var notify []Snapshot
	if wasOpen {
		transient := c.snap
		transient.State = closedState
		transient.LastCloseCode = code
		notify = append(notify, transient)
	}
	notify = append(notify, c.transition(next)...)
	c.perform(act)
	c.mu.Unlock()
	c.emit(notify)
}

// Disconnect closes the current link with normal closure semantics and
// cancels any pending retry. No automatic reconnect follows.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	next, act := Next(c.policy, c.snap, Event{Kind: EventDisconnect})
	notify := c.transition(next)
	c.perform(act)
	c.stopTimer()
	c.epoch++
	link := c.link
	c.link = nil
	c.mu.Unlock()

	if link != nil {
		_ = link.Close()
	}
	c.emit(notify)
}

func (c *Controller) runDial(ctx context.Context) error {
	link, err := c.dial(ctx)

	c.mu.Lock()
	var ev Event
	if err != nil {
		ev = Event{Kind: EventDialFailed, Code: CloseAbnormal}
	} else {
		ev = Event{Kind: EventOpened}
	}
	next, act := Next(c.policy, c.snap, ev)
	if act.Kind == ActionAbort {
		c.mu.Unlock()
		if link != nil {
			_ = link.Close()
		}
		return ErrAborted
	}
	if err == nil {
		c.link = link
	}
	notify := c.transition(next)
	c.perform(act)
	c.mu.Unlock()
	c.emit(notify)

	return err
}

// retry fires when a scheduled backoff elapses
func (c *Controller) retry(epoch int) {
	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	next, act := Next(c.policy, c.snap, Event{Kind: EventRetryDue})
	notify := c.transition(next)
	ctx := c.baseCtx
	c.mu.Unlock()
	c.emit(notify)

	if act.Kind == ActionDial {
		_ = c.runDial(ctx)
	}
}

// perform executes scheduling actions; must hold mu
func (c *Controller) perform(act Action) {
	switch act.Kind {
	case ActionSchedule:
		c.stopTimer()
		c.epoch++
		epoch := c.epoch
		c.timer = c.clock.AfterFunc(act.Delay, func() { c.retry(epoch) })
	case ActionCancel:
		c.stopTimer()
	}
}

// stopTimer cancels a pending retry; must hold mu
func (c *Controller) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// transition stores the new snapshot and returns it for notification if the
// state changed; must hold mu
func (c *Controller) transition(next Snapshot) []Snapshot {
	changed := next != c.snap
	c.snap = next
	if !changed || len(c.listeners) == 0 {
		return nil
	}
	return []Snapshot{next}
}

func (c *Controller) emit(snaps []Snapshot) {
	if len(snaps) == 0 {
		return
	}
	c.mu.Lock()
	listeners := make([]func(Snapshot), len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, s := range snaps {
		for _, fn := range listeners {
			fn(s)
		}
	}
}
