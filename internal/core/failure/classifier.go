package failure

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"strings"
	"syscall"
	"time"
)

// statusCoder is implemented by errors that carry an HTTP status code
// (e.g. source.StatusError).
type statusCoder interface {
	HTTPStatus() int
}

// retryAfterCarrier is implemented by errors that carry an explicit
// server-supplied retry delay.
type retryAfterCarrier interface {
	RetryAfterHint() time.Duration
}

// circuitOpener is implemented by the breaker's rejection error.
type circuitOpener interface {
	CircuitOpen() bool
}

// throttlePatterns are message fragments that indicate rate limiting when no
// structured signal is available. Text scanning is a known-fragile fallback;
// prefer typed errors from the fetcher.
var throttlePatterns = []string{
	"rate limit",
	"too many requests",
	"quota",
	"plan limit",
	"count exceeded",
}

// Classify maps a raw error to a Failure. Errors that cannot be positively
// classified as safe to retry are treated as permanent (fail closed).
func Classify(err error) *Failure {
	if err == nil {
		return nil
	}

	// Already classified
	var f *Failure
	if errors.As(err, &f) {
		return f
	}

	// Structured signals first
	var co circuitOpener
	if errors.As(err, &co) && co.CircuitOpen() {
		return newFailure(KindCircuitOpen, false, err)
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		return classifyStatus(sc.HTTPStatus(), err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return newFailure(KindTimeout, true, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newFailure(KindTimeout, true, err)
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return newFailure(KindServiceUnavailable, true, err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return newFailure(KindServiceUnavailable, true, err)
	}

	// Fallback: message scanning
	msg := strings.ToLower(err.Error())
	for _, pattern := range throttlePatterns {
		if strings.Contains(msg, pattern) {
			return newFailure(KindRateLimited, true, err)
		}
	}
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") {
		return newFailure(KindTimeout, true, err)
	}
	if strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset") {
		return newFailure(KindServiceUnavailable, true, err)
	}
	if strings.Contains(msg, "not found") {
		return newFailure(KindNotFound, false, err)
	}

	// Fail closed: never retry an error we cannot recognize
	return newFailure(KindPermanent, false, err)
}

func classifyStatus(status int, err error) *Failure {
	switch {
	case status == 429:
		f := newFailure(KindRateLimited, true, err)
		var ra retryAfterCarrier
		if errors.As(err, &ra) {
			f.RetryAfter = ra.RetryAfterHint()
		}
		return f
	case status == 404:
		return newFailure(KindNotFound, false, err)
	case status == 408:
		return newFailure(KindTimeout, true, err)
	case status == 502 || status == 503 || status == 504:
		return newFailure(KindServiceUnavailable, true, err)
	case status >= 500:
		return newFailure(KindTransient, true, err)
	default:
		return newFailure(KindPermanent, false, err)
	}
}

// Schema builds a non-retriable schema-mismatch failure from a validation
// error reported by the transformer collaborator.
func Schema(err error) *Failure {
	return newFailure(KindSchemaMismatch, false, err)
}

// Validation builds a non-retriable validation failure.
func Validation(err error) *Failure {
	return newFailure(KindValidation, false, err)
}

// IsRetriable reports whether the classified failure may be retried.
func IsRetriable(f *Failure) bool {
	return f != nil && f.Retriable
}

// RetryPolicy controls retry delay computation.
type RetryPolicy struct {
	BackoffBase      time.Duration `yaml:"backoff_base"`      // seed for exponential backoff
	BackoffCap       time.Duration `yaml:"backoff_cap"`       // maximum wait
	Multiplier       float64       `yaml:"multiplier"`        // backoff growth per attempt
	Jitter           float64       `yaml:"jitter"`            // fraction of the delay randomized, [0,1)
	UnavailableFloor time.Duration `yaml:"unavailable_floor"` // minimum wait after a connection-level failure
	RateLimitDefault time.Duration `yaml:"rate_limit_default"` // wait when throttled without an explicit retry-after
}

// DefaultRetryPolicy provides sensible defaults.
var DefaultRetryPolicy = RetryPolicy{
	BackoffBase:      2 * time.Second,
	BackoffCap:       60 * time.Second,
	Multiplier:       2.0,
	Jitter:           0.2,
	UnavailableFloor: 5 * time.Second,
	RateLimitDefault: 15 * time.Second,
}

// WithDefaults fills unset fields from DefaultRetryPolicy. A partially
// specified policy keeps the safety floors: a missing unavailable_floor or
// rate_limit_default must never collapse to a zero delay.
func (p RetryPolicy) WithDefaults() RetryPolicy {
	d := DefaultRetryPolicy
	if p.BackoffBase <= 0 {
		p.BackoffBase = d.BackoffBase
	}
	if p.BackoffCap <= 0 {
		p.BackoffCap = d.BackoffCap
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.Jitter <= 0 || p.Jitter >= 1 {
		p.Jitter = d.Jitter
	}
	if p.UnavailableFloor <= 0 {
		p.UnavailableFloor = d.UnavailableFloor
	}
	if p.RateLimitDefault <= 0 {
		p.RateLimitDefault = d.RateLimitDefault
	}
	return p
}

// Delay returns how long to wait before retrying the given failure.
// attempt is 0-indexed.
func (p RetryPolicy) Delay(f *Failure, attempt int) time.Duration {
	switch f.Kind {
	case KindRateLimited:
		if f.RetryAfter > 0 {
			return f.RetryAfter
		}
		return p.RateLimitDefault
	case KindServiceUnavailable:
		d := p.backoff(attempt)
		if d < p.UnavailableFloor {
			return p.UnavailableFloor
		}
		return d
	default:
		return p.backoff(attempt)
	}
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := float64(p.BackoffBase) * math.Pow(p.Multiplier, float64(attempt))
	if p.Jitter > 0 {
		// Spread delays so simultaneous retries don't align
		d += d * p.Jitter * (rand.Float64()*2 - 1)
	}
	if d > float64(p.BackoffCap) {
		d = float64(p.BackoffCap)
	}
	return time.Duration(d)
}
