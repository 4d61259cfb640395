package relay

import (
	"github.com/HyphaGroup/agentrelay/internal/auth"
)

// Throttle limits how often each agent may be invoked
type Throttle struct {
	limiter *auth.RateLimiter
}

// NewThrottle returns a per-agent throttle, or nil (no limit) when
// ratePerSecond is not positive
func NewThrottle(ratePerSecond float64, burst int) *Throttle {
	if ratePerSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &Throttle{limiter: auth.NewRateLimiter(ratePerSecond, burst)}
}

// Allow reports whether a send to agent may proceed now. A nil Throttle
// allows everything.
func (t *Throttle) Allow(agent string) bool {
	if t == nil {
		return true
	}
	return t.limiter.Allow(agent)
}
