package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/popcore/populate/internal/populate"
)

// StatusError is returned for non-2xx responses. It carries the structured
// signals the failure classifier prefers over message scanning.
type StatusError struct {
	Status     int
	Body       string
	RetryAfter time.Duration // parsed from the Retry-After header, if present
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("unexpected status %d (retry after %s)", e.Status, e.RetryAfter)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}

// HTTPStatus implements the classifier's status signal.
func (e *StatusError) HTTPStatus() int { return e.Status }

// RetryAfterHint implements the classifier's retry-after signal.
func (e *StatusError) RetryAfterHint() time.Duration { return e.RetryAfter }

// HTTPFetcher pulls JSON rows for a unit from an HTTP endpoint. The endpoint
// is expected to return a JSON array of objects; anything else is a
// validation problem for the transformer to report.
type HTTPFetcher struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPFetcher creates a fetcher against the given base URL.
func NewHTTPFetcher(name, baseURL, apiKey string, timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		name:    name,
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Name returns the fetcher's resource name (used for the circuit breaker).
func (f *HTTPFetcher) Name() string { return f.name }

// Fetch implements populate.Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, unit populate.Unit) ([]map[string]any, error) {
	u, err := url.Parse(f.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	q := u.Query()
	q.Set("unit", unit.Key)
	for k, v := range unit.Params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if f.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.apiKey)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", unit.Key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{
			Status:     resp.StatusCode,
			Body:       string(body),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var rows []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to decode response for %s: %w", unit.Key, err)
	}
	return rows, nil
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
