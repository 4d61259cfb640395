package relay

import "errors"

// Error taxonomy. Callbacks and return values wrap these so callers can
// branch with errors.Is.
var (
	// ErrNotConnected means the transport link was not open at send time
	ErrNotConnected = errors.New("not connected")
	// ErrInitiation wraps every failure to start a stream
	ErrInitiation = errors.New("stream initiation failed")
	// ErrConnectionLost means the channel ended without a terminal frame
	ErrConnectionLost = errors.New("connection lost")
	// ErrUpstream marks an error frame sent by the dispatcher
	ErrUpstream = errors.New("upstream error")
	// ErrRateLimited means the send throttle rejected the request
	ErrRateLimited = errors.New("rate limited")
	// ErrInvalidRequest means the send lacked a session id, agent or input
	ErrInvalidRequest = errors.New("invalid request")
)

// UpstreamError carries the dispatcher's error message verbatim
type UpstreamError struct {
	Message string
}

func (e *UpstreamError) Error() string {
	return e.Message
}

// Is lets errors.Is(err, ErrUpstream) match
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstream
}
