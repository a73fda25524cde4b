package failure

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"
)

// statusErr mimics the typed error the HTTP fetcher returns.
type statusErr struct {
	status     int
	retryAfter time.Duration
}

func (e *statusErr) Error() string                 { return fmt.Sprintf("status %d", e.status) }
func (e *statusErr) HTTPStatus() int               { return e.status }
func (e *statusErr) RetryAfterHint() time.Duration { return e.retryAfter }

type openErr struct{}

func (openErr) Error() string     { return "circuit open for source" }
func (openErr) CircuitOpen() bool { return true }

func TestClassifyStructuredSignals(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantKind  Kind
		retriable bool
	}{
		{"rate limited", &statusErr{status: 429}, KindRateLimited, true},
		{"not found", &statusErr{status: 404}, KindNotFound, false},
		{"request timeout", &statusErr{status: 408}, KindTimeout, true},
		{"bad gateway", &statusErr{status: 502}, KindServiceUnavailable, true},
		{"unavailable", &statusErr{status: 503}, KindServiceUnavailable, true},
		{"server error", &statusErr{status: 500}, KindTransient, true},
		{"client error fails closed", &statusErr{status: 400}, KindPermanent, false},
		{"deadline exceeded", context.DeadlineExceeded, KindTimeout, true},
		{"connection refused", syscall.ECONNREFUSED, KindServiceUnavailable, true},
		{"connection reset", syscall.ECONNRESET, KindServiceUnavailable, true},
		{"circuit open", openErr{}, KindCircuitOpen, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Classify(tt.err)
			if f.Kind != tt.wantKind {
				t.Errorf("expected kind %s, got %s", tt.wantKind, f.Kind)
			}
			if f.Retriable != tt.retriable {
				t.Errorf("expected retriable=%v, got %v", tt.retriable, f.Retriable)
			}
		})
	}
}

func TestClassifyMessageFallback(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind Kind
	}{
		{"rate limit text", errors.New("daily rate limit exceeded"), KindRateLimited},
		{"quota text", errors.New("monthly quota exceeded"), KindRateLimited},
		{"timeout text", errors.New("request timeout waiting for response"), KindTimeout},
		{"refused text", errors.New("dial tcp: connection refused"), KindServiceUnavailable},
		{"not found text", errors.New("resource not found"), KindNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Classify(tt.err)
			if f.Kind != tt.wantKind {
				t.Errorf("expected kind %s, got %s", tt.wantKind, f.Kind)
			}
		})
	}
}

func TestClassifyUnknownFailsClosed(t *testing.T) {
	f := Classify(errors.New("something inexplicable happened"))
	if f.Kind != KindPermanent {
		t.Errorf("expected permanent, got %s", f.Kind)
	}
	if IsRetriable(f) {
		t.Error("unknown errors must never be retriable")
	}
}

func TestClassifyPassesThroughFailures(t *testing.T) {
	orig := Schema(errors.New("missing field id"))
	f := Classify(fmt.Errorf("unit region-1: %w", orig))
	if f != orig {
		t.Error("expected already-classified failure to pass through")
	}
	if f.Kind != KindSchemaMismatch {
		t.Errorf("expected schema_mismatch, got %s", f.Kind)
	}
}

func TestWithContext(t *testing.T) {
	f := Classify(errors.New("boom"))
	f2 := f.WithContext("unit", "region-1")

	if f2.Context["unit"] != "region-1" {
		t.Errorf("expected context entry, got %v", f2.Context)
	}
	if len(f.Context) != 0 {
		t.Error("original failure must not be mutated")
	}
}

func TestRetryDelayRateLimited(t *testing.T) {
	p := DefaultRetryPolicy

	carried := Classify(&statusErr{status: 429, retryAfter: 42 * time.Second})
	if got := p.Delay(carried, 0); got != 42*time.Second {
		t.Errorf("expected carried retry-after 42s, got %s", got)
	}

	bare := Classify(&statusErr{status: 429})
	if got := p.Delay(bare, 0); got != p.RateLimitDefault {
		t.Errorf("expected default %s, got %s", p.RateLimitDefault, got)
	}
}

func TestRetryDelayServiceUnavailableFloor(t *testing.T) {
	p := RetryPolicy{
		BackoffBase:      100 * time.Millisecond,
		BackoffCap:       60 * time.Second,
		Multiplier:       2,
		UnavailableFloor: 5 * time.Second,
	}

	f := Classify(syscall.ECONNREFUSED)
	if got := p.Delay(f, 0); got < 5*time.Second {
		t.Errorf("expected at least the 5s floor, got %s", got)
	}
}

func TestRetryDelayBackoffGrowsAndCaps(t *testing.T) {
	p := RetryPolicy{
		BackoffBase: time.Second,
		BackoffCap:  10 * time.Second,
		Multiplier:  2,
	}
	f := Classify(&statusErr{status: 500})

	prev := time.Duration(0)
	for attempt := 0; attempt < 4; attempt++ {
		d := p.Delay(f, attempt)
		if d < prev {
			t.Errorf("attempt %d: delay %s shrank from %s", attempt, d, prev)
		}
		prev = d
	}

	if got := p.Delay(f, 20); got > 10*time.Second {
		t.Errorf("expected cap 10s, got %s", got)
	}
}

func TestRetryPolicyWithDefaultsKeepsFloors(t *testing.T) {
	// Config that sets only the backoff knobs and leaves the floors unset
	p := RetryPolicy{
		BackoffBase: time.Second,
		BackoffCap:  30 * time.Second,
		Multiplier:  2,
	}.WithDefaults()

	if p.BackoffBase != time.Second || p.BackoffCap != 30*time.Second || p.Multiplier != 2 {
		t.Errorf("explicit fields must be preserved: %+v", p)
	}
	if p.UnavailableFloor != DefaultRetryPolicy.UnavailableFloor {
		t.Errorf("expected default unavailable floor, got %s", p.UnavailableFloor)
	}
	if p.RateLimitDefault != DefaultRetryPolicy.RateLimitDefault {
		t.Errorf("expected default rate limit delay, got %s", p.RateLimitDefault)
	}

	unavailable := Classify(syscall.ECONNREFUSED)
	if got := p.Delay(unavailable, 0); got < 5*time.Second {
		t.Errorf("service_unavailable delay %s fell under the 5s floor", got)
	}

	throttled := Classify(&statusErr{status: 429})
	if got := p.Delay(throttled, 0); got == 0 {
		t.Error("rate_limited without retry-after must never get a zero delay")
	}
}

func TestRetryPolicyWithDefaultsEmpty(t *testing.T) {
	if got := (RetryPolicy{}).WithDefaults(); got != DefaultRetryPolicy {
		t.Errorf("expected full defaults for an empty policy, got %+v", got)
	}
}

func TestRetryDelayJitterStaysUnderCap(t *testing.T) {
	p := RetryPolicy{
		BackoffBase: time.Second,
		BackoffCap:  4 * time.Second,
		Multiplier:  2,
		Jitter:      0.5,
	}
	f := Classify(&statusErr{status: 500})

	for i := 0; i < 100; i++ {
		if got := p.Delay(f, 10); got > 4*time.Second {
			t.Fatalf("jittered delay %s exceeded cap", got)
		}
	}
}
