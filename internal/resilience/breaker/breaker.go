package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/popcore/populate/internal/core/failure"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // normal operation, calls pass through
	StateOpen                  // failing, calls rejected immediately
	StateHalfOpen              // probing, limited calls allowed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config controls the breaker's trip and recovery thresholds.
type Config struct {
	FailureThreshold int            `yaml:"failure_threshold"` // qualifying failures within the window that trip the breaker
	SuccessThreshold int            `yaml:"success_threshold"` // consecutive half-open successes that close it
	Timeout          time.Duration  `yaml:"timeout"`           // open duration before probing resumes
	FailureWindow    time.Duration  `yaml:"failure_window"`    // sliding window for counting failures
	ExcludedKinds    []failure.Kind `yaml:"excluded_kinds"`    // failure kinds that never count toward the threshold
}

// DefaultConfig provides sensible defaults.
var DefaultConfig = Config{
	FailureThreshold: 5,
	SuccessThreshold: 3,
	Timeout:          60 * time.Second,
	FailureWindow:    60 * time.Second,
	ExcludedKinds:    []failure.Kind{failure.KindNotFound},
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultConfig.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = DefaultConfig.SuccessThreshold
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultConfig.Timeout
	}
	if c.FailureWindow <= 0 {
		c.FailureWindow = DefaultConfig.FailureWindow
	}
	return c
}

// Stats is a point-in-time snapshot of a breaker, safe to serialize.
type Stats struct {
	Resource       string    `json:"resource"`
	State          string    `json:"state"`
	WindowFailures int       `json:"window_failures"`
	Total          int64     `json:"total"`
	Successful     int64     `json:"successful"`
	Failed         int64     `json:"failed"`
	Rejected       int64     `json:"rejected"`
	StateChanges   int64     `json:"state_changes"`
	OpenedAt       time.Time `json:"opened_at,omitempty"`
}

// OpenError is returned by Execute when the circuit is open.
type OpenError struct {
	Resource string
	Failures int
	ResetIn  time.Duration
}

// Error implements the error interface.
func (e *OpenError) Error() string {
	return fmt.Sprintf(
		"circuit open for %s (%d recent failures, reset in %s)",
		e.Resource, e.Failures, e.ResetIn.Round(time.Millisecond),
	)
}

// CircuitOpen marks this error for the failure classifier.
func (e *OpenError) CircuitOpen() bool { return true }

// CircuitBreaker protects a single named downstream resource. All state
// mutations run under one mutex so concurrent callers observe consistent
// transitions.
type CircuitBreaker struct {
	name string
	cfg  Config

	mu                sync.Mutex
	state             State
	failures          []time.Time // sliding window, pruned lazily
	halfOpenSuccesses int
	openedAt          time.Time

	total        int64
	successful   int64
	failed       int64
	rejected     int64
	stateChanges int64

	now func() time.Time
}

// New creates a breaker for the named resource.
func New(name string, cfg Config) *CircuitBreaker {
	return &CircuitBreaker{
		name:  name,
		cfg:   cfg.withDefaults(),
		state: StateClosed,
		now:   time.Now,
	}
}

// Name returns the guarded resource name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Allow reports whether a call may proceed. An open breaker whose timeout
// has elapsed transitions to half-open here.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.allowLocked()
}

func (cb *CircuitBreaker) allowLocked() bool {
	cb.pruneLocked()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) >= cb.cfg.Timeout {
			cb.transitionLocked(StateHalfOpen)
			cb.halfOpenSuccesses = 0
			return true
		}
		return false
	}
	return true
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.total++
	cb.successful++

	if cb.state == StateHalfOpen {
		cb.halfOpenSuccesses++
		if cb.halfOpenSuccesses >= cb.cfg.SuccessThreshold {
			cb.transitionLocked(StateClosed)
			cb.failures = nil
			cb.halfOpenSuccesses = 0
		}
	}
}

// RecordFailure records a failed call. Excluded failure kinds count toward
// lifetime stats but never toward the trip threshold.
func (cb *CircuitBreaker) RecordFailure(f *failure.Failure) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.total++
	cb.failed++

	if f != nil && cb.excluded(f.Kind) {
		return
	}

	if cb.state == StateHalfOpen {
		// A single failure while probing reopens immediately
		cb.transitionLocked(StateOpen)
		cb.openedAt = cb.now()
		cb.failures = nil
		return
	}

	cb.failures = append(cb.failures, cb.now())
	cb.pruneLocked()

	if cb.state == StateClosed && len(cb.failures) >= cb.cfg.FailureThreshold {
		cb.transitionLocked(StateOpen)
		cb.openedAt = cb.now()
	}
}

// Execute runs fn under the breaker's protection. A rejected call returns
// *OpenError without invoking fn. Classification of fn's error decides
// whether the failure counts toward the trip threshold.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	cb.mu.Lock()
	if !cb.allowLocked() {
		cb.total++
		cb.rejected++
		openErr := &OpenError{
			Resource: cb.name,
			Failures: len(cb.failures),
			ResetIn:  cb.cfg.Timeout - cb.now().Sub(cb.openedAt),
		}
		cb.mu.Unlock()
		return openErr
	}
	cb.mu.Unlock()

	if err := fn(ctx); err != nil {
		cb.RecordFailure(failure.Classify(err))
		return err
	}

	cb.RecordSuccess()
	return nil
}

// Reset forces the breaker back to closed, clearing the window and counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateClosed {
		cb.transitionLocked(StateClosed)
	}
	cb.failures = nil
	cb.halfOpenSuccesses = 0
	cb.openedAt = time.Time{}
}

// State returns the current state, applying the open→half-open timer first.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.allowLocked()
	return cb.state
}

// Stats returns a consistent snapshot of the breaker.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.pruneLocked()
	return Stats{
		Resource:       cb.name,
		State:          cb.state.String(),
		WindowFailures: len(cb.failures),
		Total:          cb.total,
		Successful:     cb.successful,
		Failed:         cb.failed,
		Rejected:       cb.rejected,
		StateChanges:   cb.stateChanges,
		OpenedAt:       cb.openedAt,
	}
}

func (cb *CircuitBreaker) transitionLocked(next State) {
	if cb.state == next {
		return
	}
	cb.state = next
	cb.stateChanges++
}

// pruneLocked drops window entries older than the failure window.
func (cb *CircuitBreaker) pruneLocked() {
	cutoff := cb.now().Add(-cb.cfg.FailureWindow)
	i := 0
	for ; i < len(cb.failures); i++ {
		if cb.failures[i].After(cutoff) {
			break
		}
	}
	if i > 0 {
		cb.failures = append([]time.Time(nil), cb.failures[i:]...)
	}
}

func (cb *CircuitBreaker) excluded(kind failure.Kind) bool {
	for _, k := range cb.cfg.ExcludedKinds {
		if k == kind {
			return true
		}
	}
	return false
}
