package populate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/popcore/populate/internal/core/failure"
	"github.com/popcore/populate/internal/core/progress"
	"github.com/popcore/populate/internal/populate/metrics"
	"github.com/popcore/populate/internal/resilience/breaker"
	"github.com/popcore/populate/internal/resilience/ratelimit"
)

// Config holds one task's settings and collaborators.
type Config struct {
	Task            string
	Table           string
	KeyColumns      []string
	Schema          []string // required payload fields
	MaxAttempts     int      // fetch attempts per unit
	CheckpointEvery int      // units between progress flushes
	DryRun          bool     // run the pipeline but never mark progress
	Reset           bool     // clear progress before enumerating
	Retry           failure.RetryPolicy

	Enumerator  Enumerator
	Fetcher     Fetcher
	Transformer Transformer
	Sink        Sink
	Breaker     *breaker.CircuitBreaker
	Limiter     *ratelimit.AdaptiveLimiter
	Progress    *progress.Store
	Logger      *slog.Logger
}

// Orchestrator drives one task run: enumerate units, skip completed ones,
// fetch through the breaker and limiter, validate, transform, persist, and
// only then commit progress. One unit's permanent failure never aborts the
// run; only enumeration or other systemic failures do.
type Orchestrator struct {
	cfg Config
	log *slog.Logger
}

// NewOrchestrator validates the config and builds an orchestrator.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	switch {
	case cfg.Task == "":
		return nil, errors.New("task name is required")
	case cfg.Enumerator == nil:
		return nil, errors.New("enumerator is required")
	case cfg.Fetcher == nil:
		return nil, errors.New("fetcher is required")
	case cfg.Transformer == nil:
		return nil, errors.New("transformer is required")
	case cfg.Sink == nil:
		return nil, errors.New("sink is required")
	case cfg.Breaker == nil:
		return nil, errors.New("circuit breaker is required")
	case cfg.Limiter == nil:
		return nil, errors.New("rate limiter is required")
	case cfg.Progress == nil:
		return nil, errors.New("progress store is required")
	}

	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = 10
	}
	cfg.Retry = cfg.Retry.WithDefaults()
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Orchestrator{
		cfg: cfg,
		log: cfg.Logger.With("task", cfg.Task),
	}, nil
}

// Run executes the task once and returns its summary. Per-unit failures are
// recorded in the summary and the progress error log; a non-nil error means
// the run itself could not proceed.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	m := NewRunMetrics(o.cfg.Task)
	timer := time.Now()
	defer func() {
		metrics.RunDuration.WithLabelValues(o.cfg.Task).Observe(time.Since(timer).Seconds())
	}()

	if o.cfg.Reset {
		if err := o.cfg.Progress.Reset(); err != nil {
			return nil, fmt.Errorf("failed to reset progress: %w", err)
		}
		o.log.Info("Progress reset")
	}

	units, err := o.cfg.Enumerator.Units(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate units: %w", err)
	}
	o.log.Info("Run started", "run_id", m.RunID, "units", len(units), "dry_run", o.cfg.DryRun)

	sinceCheckpoint := 0
	for _, unit := range units {
		// Cooperative cancellation: stop before starting a new unit.
		if ctx.Err() != nil {
			o.finalize(m)
			return m.Summary(o.cfg.DryRun), ctx.Err()
		}

		if !o.cfg.Reset && o.cfg.Progress.IsCompleted(unit.Key) {
			m.Skipped++
			metrics.UnitsProcessed.WithLabelValues(o.cfg.Task, "already_completed").Inc()
			continue
		}

		if done := o.processUnit(ctx, unit, m); done && !o.cfg.DryRun {
			o.cfg.Progress.MarkCompleted(unit.Key)
			sinceCheckpoint++
			if sinceCheckpoint >= o.cfg.CheckpointEvery {
				if err := o.cfg.Progress.Save(); err != nil {
					o.log.Error("Checkpoint failed", "error", err)
					m.AddWarning(fmt.Sprintf("checkpoint failed: %v", err))
				}
				sinceCheckpoint = 0
			}
		}
	}

	o.finalize(m)
	summary := m.Summary(o.cfg.DryRun)
	o.log.Info("Run finished",
		"run_id", m.RunID,
		"fetched", summary.RecordsFetched,
		"inserted", summary.RecordsInserted,
		"updated", summary.RecordsUpdated,
		"skipped", summary.RecordsSkipped,
		"failed", summary.RecordsFailed,
		"errors", summary.ErrorCount,
		"duration", time.Duration(summary.DurationSeconds*float64(time.Second)).Round(time.Millisecond),
	)
	return summary, nil
}

// processUnit runs fetch → validate → transform → persist for one unit.
// It reports whether the unit's data was durably persisted.
func (o *Orchestrator) processUnit(ctx context.Context, unit Unit, m *RunMetrics) bool {
	rows, f := o.fetchUnit(ctx, unit, m)
	if f != nil {
		o.recordFailure(unit, f, m)
		return false
	}

	if err := o.cfg.Transformer.Validate(rows, o.cfg.Schema); err != nil {
		o.recordFailure(unit, failure.Schema(err).WithContext("unit", unit.Key), m)
		return false
	}
	m.Fetched += int64(len(rows))

	records, err := o.cfg.Transformer.Transform(rows)
	if err != nil {
		o.recordFailure(unit, failure.Validation(err).WithContext("unit", unit.Key), m)
		return false
	}

	res, err := o.persist(ctx, records)
	if err != nil {
		o.recordFailure(unit, failure.Classify(err).WithContext("unit", unit.Key), m)
		return false
	}

	m.Inserted += res.Inserted
	m.Updated += res.Updated
	metrics.UnitsProcessed.WithLabelValues(o.cfg.Task, "completed").Inc()
	o.log.Debug("Unit persisted",
		"unit", unit.Key, "inserted", res.Inserted, "updated", res.Updated)
	return true
}

// fetchUnit calls the fetcher through the breaker and limiter, retrying
// retriable failures with classifier-driven delays.
func (o *Orchestrator) fetchUnit(ctx context.Context, unit Unit, m *RunMetrics) ([]map[string]any, *failure.Failure) {
	var lastFailure *failure.Failure

	for attempt := 0; attempt < o.cfg.MaxAttempts; attempt++ {
		if err := o.cfg.Limiter.Wait(ctx); err != nil {
			return nil, failure.Classify(err).WithContext("unit", unit.Key)
		}

		var rows []map[string]any
		err := o.cfg.Breaker.Execute(ctx, func(ctx context.Context) error {
			m.APICalls++
			metrics.APICalls.WithLabelValues(o.cfg.Task).Inc()
			r, err := o.cfg.Fetcher.Fetch(ctx, unit)
			rows = r
			return err
		})
		metrics.BreakerState.WithLabelValues(o.cfg.Breaker.Name()).Set(float64(o.cfg.Breaker.State()))

		if err == nil {
			o.cfg.Limiter.OnSuccess()
			metrics.RateLimitCurrent.WithLabelValues(o.cfg.Task).Set(o.cfg.Limiter.Rate())
			if attempt > 0 {
				m.AddWarning(fmt.Sprintf("unit %s succeeded after %d attempts", unit.Key, attempt+1))
			}
			return rows, nil
		}

		f := failure.Classify(err).WithContext("unit", unit.Key)
		lastFailure = f
		metrics.FetchFailures.WithLabelValues(o.cfg.Task, string(f.Kind)).Inc()

		if f.Kind == failure.KindRateLimited {
			o.cfg.Limiter.OnThrottled()
			metrics.RateLimitCurrent.WithLabelValues(o.cfg.Task).Set(o.cfg.Limiter.Rate())
		}

		if !f.Retriable || attempt == o.cfg.MaxAttempts-1 {
			return nil, f
		}

		delay := o.cfg.Retry.Delay(f, attempt)
		o.log.Warn("Fetch failed, retrying",
			"unit", unit.Key, "kind", f.Kind, "attempt", attempt+1, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, failure.Classify(ctx.Err()).WithContext("unit", unit.Key)
		case <-timer.C:
		}
	}

	return nil, lastFailure
}

// persist writes records through the sink, retrying transient sink failures
// with a short exponential backoff.
func (o *Orchestrator) persist(ctx context.Context, records []Record) (UpsertResult, error) {
	var res UpsertResult
	backoff := retry.WithMaxRetries(2, retry.NewExponential(500*time.Millisecond))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		r, err := o.cfg.Sink.Upsert(ctx, o.cfg.Table, records, o.cfg.KeyColumns)
		if err != nil {
			if failure.IsRetriable(failure.Classify(err)) {
				return retry.RetryableError(err)
			}
			return err
		}
		res = r
		return nil
	})
	return res, err
}

func (o *Orchestrator) recordFailure(unit Unit, f *failure.Failure, m *RunMetrics) {
	m.Failed++
	m.AddError(fmt.Sprintf("unit %s: %v", unit.Key, f))
	if !o.cfg.DryRun {
		o.cfg.Progress.AddError(unit.Key, f.Error())
	}
	metrics.UnitsProcessed.WithLabelValues(o.cfg.Task, "failed").Inc()
	o.log.Error("Unit failed", "unit", unit.Key, "kind", f.Kind, "error", f.Message)
}

// finalize flushes progress unless this is a dry run, which must leave the
// progress store untouched.
func (o *Orchestrator) finalize(m *RunMetrics) {
	m.Finish()
	if o.cfg.DryRun {
		return
	}
	if err := o.cfg.Progress.Save(); err != nil {
		o.log.Error("Final progress save failed", "error", err)
		m.AddWarning(fmt.Sprintf("final progress save failed: %v", err))
	}
}
