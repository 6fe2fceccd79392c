package stream

import "time"

// DefaultRetryDelay is the wait before the single reconnection attempt.
const DefaultRetryDelay = 2 * time.Second

// retryState enumerates the fallback policy's states.
type retryState int

const (
	stateConnected retryState = iota
	stateRetrying
	stateUnavailable
)

// retryPolicy grants a job at most one reconnection attempt for its entire
// lifetime. A successful retry returns to connected without resetting the
// attempt counter; only a job change builds a fresh policy.
type retryPolicy struct {
	delay       time.Duration
	maxAttempts int
	attempts    int
	state       retryState
}

func newRetryPolicy(delay time.Duration) *retryPolicy {
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	return &retryPolicy{delay: delay, maxAttempts: 1, state: stateConnected}
}

// onError reacts to a transport failure. It returns the wait before the
// reconnection attempt, or ok=false once the budget is exhausted, after
// which the policy is permanently unavailable.
func (p *retryPolicy) onError() (delay time.Duration, ok bool) {
	if p.state == stateUnavailable || p.attempts >= p.maxAttempts {
		p.state = stateUnavailable
		return 0, false
	}
	p.attempts++
	p.state = stateRetrying
	return p.delay, true
}

// onConnected records a successful (re)connection.
func (p *retryPolicy) onConnected() {
	if p.state != stateUnavailable {
		p.state = stateConnected
	}
}

func (p *retryPolicy) unavailable() bool {
	return p.state == stateUnavailable
}
