package populate

import (
	"time"

	"github.com/google/uuid"
)

// summaryListLimit bounds the error and warning lists in a run summary.
const summaryListLimit = 10

// RunMetrics accumulates counters for one orchestrator invocation.
type RunMetrics struct {
	RunID     string
	Task      string
	StartTime time.Time
	EndTime   time.Time

	Fetched  int64
	Inserted int64
	Updated  int64
	Skipped  int64 // units skipped because a previous run completed them
	Failed   int64 // units that failed this run and were not marked
	APICalls int64

	errors   []string
	warnings []string
}

// NewRunMetrics starts metrics for a task run.
func NewRunMetrics(task string) *RunMetrics {
	return &RunMetrics{
		RunID:     uuid.New().String(),
		Task:      task,
		StartTime: time.Now(),
	}
}

// AddError records a per-unit error. Only the first few are retained for
// reporting; the count is always exact.
func (m *RunMetrics) AddError(msg string) {
	m.errors = append(m.errors, msg)
}

// AddWarning records a non-fatal warning (e.g. a retry that later succeeded).
func (m *RunMetrics) AddWarning(msg string) {
	m.warnings = append(m.warnings, msg)
}

// Finish stamps the end time.
func (m *RunMetrics) Finish() {
	m.EndTime = time.Now()
}

// Summary is the run report returned to the caller and serialized for
// operators.
type Summary struct {
	RunID           string    `json:"run_id"`
	Task            string    `json:"task"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationSeconds float64   `json:"duration_seconds"`
	RecordsFetched  int64     `json:"records_fetched"`
	RecordsInserted int64     `json:"records_inserted"`
	RecordsUpdated  int64     `json:"records_updated"`
	RecordsSkipped  int64     `json:"records_skipped"`
	RecordsFailed   int64     `json:"records_failed"`
	APICalls        int64     `json:"api_calls"`
	ErrorCount      int       `json:"error_count"`
	Errors          []string  `json:"errors"`
	Warnings        []string  `json:"warnings"`
	DryRun          bool      `json:"dry_run"`
}

// Summary finalizes the metrics into a report.
func (m *RunMetrics) Summary(dryRun bool) *Summary {
	end := m.EndTime
	if end.IsZero() {
		end = time.Now()
	}
	return &Summary{
		RunID:           m.RunID,
		Task:            m.Task,
		StartTime:       m.StartTime,
		EndTime:         end,
		DurationSeconds: end.Sub(m.StartTime).Seconds(),
		RecordsFetched:  m.Fetched,
		RecordsInserted: m.Inserted,
		RecordsUpdated:  m.Updated,
		RecordsSkipped:  m.Skipped,
		RecordsFailed:   m.Failed,
		APICalls:        m.APICalls,
		ErrorCount:      len(m.errors),
		Errors:          truncate(m.errors),
		Warnings:        truncate(m.warnings),
		DryRun:          dryRun,
	}
}

func truncate(list []string) []string {
	if len(list) > summaryListLimit {
		list = list[:summaryListLimit]
	}
	return append([]string(nil), list...)
}
