package resilience

import (
	"fmt"
	"sync"
	"time"

	"github.com/desertthunder/ytsync/internal/shared"
)

// State is the circuit breaker state.
type State int

const (
	StateClosed   State = iota // calls pass through
	StateOpen                  // calls rejected immediately
	StateHalfOpen              // one probe at a time
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Breaker guards one dependency. Every permitted call must be followed by exactly one Record call.
type Breaker interface {
	Allow() error
	RecordSuccess()
	RecordFailure()
	RecordNeutral()
	State() State
	Reset()
}

// CircuitOpenError is returned while the breaker rejects calls.
type CircuitOpenError struct {
	Name    string
	RetryAt time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("%v: %s until %s", shared.ErrCircuitOpen, e.Name, e.RetryAt.Format(time.RFC3339))
}

func (e *CircuitOpenError) Unwrap() error { return shared.ErrCircuitOpen }

// Snapshot is a point-in-time view of the breaker.
type Snapshot struct {
	Name      string
	State     State
	Failures  int
	Successes int
	RetryAt   time.Time
}

// CircuitBreaker is a process-local breaker for one dependency. It is safe for concurrent use.
type CircuitBreaker struct {
	mu               sync.Mutex
	name             string
	state            State
	failures         int
	successes        int
	probing          bool
	retryAt          time.Time
	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
	now              func() time.Time
	onChange         func(name string, from, to State)
}

// BreakerOption configures a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithFailureThreshold sets the consecutive failures that trip the breaker open.
func WithFailureThreshold(n int) BreakerOption {
	return func(cb *CircuitBreaker) { cb.failureThreshold = n }
}

// WithSuccessThreshold sets the consecutive half-open successes needed to close the breaker.
func WithSuccessThreshold(n int) BreakerOption {
	return func(cb *CircuitBreaker) { cb.successThreshold = n }
}

// WithOpenTimeout sets how long the breaker stays open before allowing a probe.
func WithOpenTimeout(d time.Duration) BreakerOption {
	return func(cb *CircuitBreaker) { cb.openTimeout = d }
}

// WithBreakerClock sets a custom clock function (for testing).
func WithBreakerClock(fn func() time.Time) BreakerOption {
	return func(cb *CircuitBreaker) { cb.now = fn }
}

// WithStateChange registers fn to run on every transition. fn is called with the breaker lock held
// and must not call back into the breaker.
func WithStateChange(fn func(name string, from, to State)) BreakerOption {
	return func(cb *CircuitBreaker) { cb.onChange = fn }
}

// BreakerOptionsFrom converts the TOML breaker section.
func BreakerOptionsFrom(c shared.BreakerConfig) []BreakerOption {
	return []BreakerOption{
		WithFailureThreshold(c.FailureThreshold),
		WithSuccessThreshold(c.SuccessThreshold),
		WithOpenTimeout(c.OpenTimeout.Duration),
	}
}

// NewCircuitBreaker creates a closed breaker: 5 failures to open, 60s open timeout, 2 successes to close.
func NewCircuitBreaker(name string, opts ...BreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:             name,
		state:            StateClosed,
		failureThreshold: 5,
		successThreshold: 2,
		openTimeout:      60 * time.Second,
		now:              time.Now,
	}
	for _, o := range opts {
		o(cb)
	}
	cb.failureThreshold = max(cb.failureThreshold, 1)
	cb.successThreshold = max(cb.successThreshold, 1)
	return cb
}

// Name returns the guarded dependency name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// State returns the current state, moving Open to HalfOpen once the timeout has elapsed.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpen()
	return cb.state
}

// Allow returns nil when a call may proceed. In HalfOpen only one probe is admitted until it is recorded.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpen()

	switch cb.state {
	case StateOpen:
		return &CircuitOpenError{Name: cb.name, RetryAt: cb.retryAt}
	case StateHalfOpen:
		if cb.probing {
			return &CircuitOpenError{Name: cb.name, RetryAt: cb.now()}
		}
		cb.probing = true
	}
	return nil
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	switch cb.state {
	case StateHalfOpen:
		cb.probing = false
		cb.successes++
		if cb.successes >= cb.successThreshold {
			cb.transition(StateClosed)
		}
	case StateClosed:
		cb.successes = 0
	}
}

// RecordFailure records a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.failureThreshold {
			cb.trip()
		}
	case StateHalfOpen:
		cb.probing = false
		cb.successes = 0
		cb.trip()
	}
}

// RecordNeutral records a call whose outcome says nothing about the dependency's health.
// It only frees the half-open probe slot.
func (cb *CircuitBreaker) RecordNeutral() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.probing = false
}

// Reset returns the breaker to Closed with cleared counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.successes = 0
	cb.probing = false
	cb.retryAt = time.Time{}
	if cb.state != StateClosed {
		cb.transition(StateClosed)
	}
}

// Snapshot returns the current counters and state.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpen()
	return Snapshot{
		Name:      cb.name,
		State:     cb.state,
		Failures:  cb.failures,
		Successes: cb.successes,
		RetryAt:   cb.retryAt,
	}
}

func (cb *CircuitBreaker) trip() {
	cb.retryAt = cb.now().Add(cb.openTimeout)
	cb.transition(StateOpen)
}

func (cb *CircuitBreaker) maybeHalfOpen() {
	if cb.state == StateOpen && !cb.now().Before(cb.retryAt) {
		cb.successes = 0
		cb.probing = false
		cb.transition(StateHalfOpen)
	}
}

func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	cb.state = to
	if to == StateClosed {
		cb.failures = 0
		cb.successes = 0
	}
	if cb.onChange != nil && from != to {
		cb.onChange(cb.name, from, to)
	}
}
