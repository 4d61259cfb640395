package reconnect

import (
	"sort"
	"sync"
	"time"
)

// Timer is a pending callback that can be stopped
type Timer interface {
	Stop() bool
}

// Clock schedules callbacks. Production code uses SystemClock; tests inject
// a ManualClock.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// SystemClock is backed by time.AfterFunc
type SystemClock struct{}

// AfterFunc implements Clock
func (SystemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// ManualClock fires callbacks only when Advance is called
type ManualClock struct {
	mu        sync.Mutex
	now       time.Duration
	pending   []*manualTimer
	scheduled []time.Duration
}

type manualTimer struct {
	clock   *ManualClock
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

// NewManualClock creates a clock at time zero
func NewManualClock() *ManualClock {
	return &ManualClock{}
}

// AfterFunc implements Clock
func (c *ManualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &manualTimer{clock: c, at: c.now + d, f: f}
	c.pending = append(c.pending, t)
	c.scheduled = append(c.scheduled, d)
	return t
}

// Stop implements Timer
func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward and runs due callbacks in deadline order.
// Callbacks run on the caller's goroutine without the clock lock held.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*manualTimer
	remaining := c.pending[:0]
	for _, t := range c.pending {
		switch {
		case t.stopped:
		case t.at <= c.now:
			t.fired = true
			due = append(due, t)
		default:
			remaining = append(remaining, t)
		}
	}
	c.pending = remaining
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at < due[j].at })
	for _, t := range due {
		t.f()
	}
}

// Pending returns the number of timers that have not fired or been stopped
func (c *ManualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, t := range c.pending {
		if !t.stopped {
			n++
		}
	}
	return n
}

// Delays returns a copy of every delay requested so far
func (c *ManualClock) Delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make([]time.Duration, len(c.scheduled))
	copy(result, c.scheduled)
	return result
}
