package failure

import (
	"fmt"
	"time"
)

// Kind categorizes a classified failure.
type Kind string

const (
	KindTransient          Kind = "transient"
	KindTimeout            Kind = "timeout"
	KindServiceUnavailable Kind = "service_unavailable"
	KindRateLimited        Kind = "rate_limited"
	KindCircuitOpen        Kind = "circuit_open"
	KindNotFound           Kind = "not_found"
	KindValidation         Kind = "validation"
	KindSchemaMismatch     Kind = "schema_mismatch"
	KindPermanent          Kind = "permanent"
)

// Failure is a classified error. It is created at the moment the underlying
// call fails and never mutated afterwards.
type Failure struct {
	Kind       Kind
	Message    string
	Retriable  bool
	RetryAfter time.Duration // set for rate-limit signals that carried one
	Context    map[string]string
	OccurredAt time.Time
	cause      error
}

// Error implements the error interface.
func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Unwrap returns the underlying error.
func (f *Failure) Unwrap() error {
	return f.cause
}

// WithContext returns a copy of the failure with an extra metadata entry.
func (f *Failure) WithContext(key, value string) *Failure {
	c := *f
	c.Context = make(map[string]string, len(f.Context)+1)
	for k, v := range f.Context {
		c.Context[k] = v
	}
	c.Context[key] = value
	return &c
}

func newFailure(kind Kind, retriable bool, cause error) *Failure {
	return &Failure{
		Kind:       kind,
		Message:    cause.Error(),
		Retriable:  retriable,
		OccurredAt: time.Now(),
		cause:      cause,
	}
}
