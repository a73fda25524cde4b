package control

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/popcore/populate/internal/core/config"
	"github.com/popcore/populate/internal/core/failure"
	"github.com/popcore/populate/internal/core/progress"
	"github.com/popcore/populate/internal/populate"
	"github.com/popcore/populate/internal/resilience/breaker"
	"github.com/popcore/populate/internal/resilience/ratelimit"
)

func newTestRunner(t *testing.T, baseURL string) *Runner {
	t.Helper()

	r, err := NewRunner(Config{
		Port:       0,
		StateDir:   t.TempDir(),
		Durability: progress.DurabilityRename,
		Source: config.SourceConfig{
			Name:    "source",
			BaseURL: baseURL,
			Timeout: 5 * time.Second,
		},
		Breaker: breaker.Config{
			FailureThreshold: 5,
			SuccessThreshold: 1,
			Timeout:          time.Second,
			FailureWindow:    time.Minute,
		},
		RateLimit: ratelimit.Config{
			InitialRate:    1000,
			MinRate:        1,
			MaxRate:        1000,
			IncreaseFactor: 1.05,
			DecreaseFactor: 0.5,
		},
		Retry: failure.RetryPolicy{
			BackoffBase:      time.Millisecond,
			BackoffCap:       2 * time.Millisecond,
			Multiplier:       2,
			UnavailableFloor: time.Millisecond,
			RateLimitDefault: time.Millisecond,
		},
		Tasks: []config.TaskConfig{{
			Name:       "countries",
			Table:      "countries",
			KeyColumns: []string{"code"},
			Schema:     []string{"code", "name"},
			Units:      []config.UnitConfig{{Key: "US"}, {Key: "DE"}},
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestRunnerMemoryMode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		unit := r.URL.Query().Get("unit")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"code":"` + unit + `","name":"country ` + unit + `"}]`))
	}))
	defer srv.Close()

	runner := newTestRunner(t, srv.URL)
	summaries, err := runner.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatal(err)
	}

	if len(summaries) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(summaries))
	}
	if summaries[0].RecordsInserted != 2 || summaries[0].ErrorCount != 0 {
		t.Errorf("expected 2 clean inserts, got %+v", summaries[0])
	}
	if got := runner.memSink.Count("countries"); got != 2 {
		t.Errorf("expected 2 rows in the memory sink, got %d", got)
	}
}

func TestRunnerUnknownTask(t *testing.T) {
	runner := newTestRunner(t, "http://localhost:0")
	if _, err := runner.Run(context.Background(), RunOptions{Task: "nope"}); err == nil {
		t.Fatal("expected error for unknown task")
	}
}

func TestRunnerStatusSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"code":"US","name":"United States"}]`))
	}))
	defer srv.Close()

	runner := newTestRunner(t, srv.URL)
	if _, err := runner.Run(context.Background(), RunOptions{Task: "countries"}); err != nil {
		t.Fatal(err)
	}

	snap, ok := runner.statusSnapshot(context.Background()).(map[string]any)
	if !ok {
		t.Fatal("expected a map snapshot")
	}

	tasks, ok := snap["tasks"].(map[string]progress.Summary)
	if !ok {
		t.Fatalf("expected task summaries, got %T", snap["tasks"])
	}
	if tasks["countries"].Completed != 2 {
		t.Errorf("expected 2 completed in the snapshot, got %+v", tasks["countries"])
	}

	runs, ok := snap["runs"].([]*populate.Summary)
	if !ok || len(runs) != 1 {
		t.Fatalf("expected 1 run in the snapshot, got %v", snap["runs"])
	}

	// Run history comes from the database and is absent in memory mode
	if _, present := snap["history"]; present {
		t.Error("history must be omitted without a database")
	}
}
