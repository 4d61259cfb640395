// Package reconnect supervises a persistent socket link with bounded
// exponential backoff.
//
// state.go - Pure transition function
//
// This file contains:
// - State, Snapshot, Event and Action types
// - Policy with the backoff parameters
// - Next, the transition function used by Controller
//
// Next has no side effects; Controller performs the returned Action. This
// keeps every transition testable without sockets or timers.

package reconnect

import "time"

// CloseNormal is the WebSocket normal-closure status code
const CloseNormal = 1000

// CloseAbnormal is reported when a link drops without a close frame, or a
// dial fails
const CloseAbnormal = 1006

// State is the link state
type State string

const (
	StateDisconnected     State = "disconnected"
	StateConnecting       State = "connecting"
	StateOpen             State = "open"
	StateClosedClean      State = "closed-clean"
	StateClosedUnexpected State = "closed-unexpected"
)

// Snapshot is the reconnect state of one link
type Snapshot struct {
	State         State
	Attempt       int
	LastCloseCode int
	// RetryPending is set while a reconnect is scheduled but not yet dialing
	RetryPending bool
}

// EventKind enumerates inputs to the state machine
type EventKind int

const (
	EventConnect EventKind = iota
	EventOpened
	EventDialFailed
	EventClosed
	EventRetryDue
	EventDisconnect
)

// Event is an input to Next
type Event struct {
	Kind EventKind
	Code int // close code for EventClosed and EventDialFailed
}

// ActionKind enumerates side effects requested by Next
type ActionKind int

const (
	ActionNone ActionKind = iota
	ActionDial
	ActionSchedule
	ActionCancel
	// ActionAbort closes a link that finished dialing after a disconnect
	ActionAbort
)

// Action is the side effect the controller must perform
type Action struct {
	Kind  ActionKind
	Delay time.Duration
}

// Policy holds reconnect parameters
type Policy struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	PingInterval time.Duration
}

// DefaultPolicy returns 3 attempts, 1s base, 5s cap, 25s ping
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		BaseDelay:    time.Second,
		MaxDelay:     5 * time.Second,
		PingInterval: 25 * time.Second,
	}
}

// Delay returns min(base * 2^attempt, max)
func (p Policy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Classify maps a close code to the closed sub-state
func Classify(code int) State {
	if code == CloseNormal {
		return StateClosedClean
	}
	return StateClosedUnexpected
}

// Next computes the successor snapshot and the side effect to perform
func Next(p Policy, s Snapshot, ev Event) (Snapshot, Action) {
	switch ev.Kind {
	case EventConnect:
		if s.State == StateOpen || (s.State == StateConnecting && !s.RetryPending) {
			return s, Action{Kind: ActionNone}
		}
		// A manual connect supersedes any scheduled retry; the controller
		// stops the timer before dialing.
		s.State = StateConnecting
		s.RetryPending = false
		return s, Action{Kind: ActionDial}

	case EventOpened:
		if s.State != StateConnecting {
			return s, Action{Kind: ActionAbort}
		}
		s.State = StateOpen
		s.Attempt = 0
		s.RetryPending = false
		return s, Action{Kind: ActionNone}

	case EventDialFailed, EventClosed:
		if s.State == StateDisconnected {
			return s, Action{Kind: ActionNone}
		}
		code := ev.Code
		if ev.Kind == EventDialFailed && code == 0 {
			code = CloseAbnormal
		}
		s.LastCloseCode = code
		if Classify(code) == StateClosedClean || s.Attempt >= p.MaxAttempts {
			s.State = StateDisconnected
			s.RetryPending = false
			return s, Action{Kind: ActionNone}
		}
		delay := p.Delay(s.Attempt)
		s.Attempt++
		s.State = StateConnecting
		s.RetryPending = true
		return s, Action{Kind: ActionSchedule, Delay: delay}

	case EventRetryDue:
		if s.State != StateConnecting || !s.RetryPending {
			return s, Action{Kind: ActionNone}
		}
		s.RetryPending = false
		return s, Action{Kind: ActionDial}

	case EventDisconnect:
		pending := s.RetryPending
		s.State = StateDisconnected
		s.RetryPending = false
		s.LastCloseCode = CloseNormal
		if pending {
			return s, Action{Kind: ActionCancel}
		}
		return s, Action{Kind: ActionNone}
	}

	return s, Action{Kind: ActionNone}
}
