package progress

import "time"

// ItemError records one failed work unit.
type ItemError struct {
	Item      string    `json:"item"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Record is the persisted progress document for one named task.
type Record struct {
	CompletedItems []string    `json:"completed_items"`
	LastItem       string      `json:"last_item,omitempty"`
	LastRun        *time.Time  `json:"last_run,omitempty"`
	Errors         []ItemError `json:"errors"`
}

// summaryErrorLimit bounds the error list shown in summaries; storage keeps
// the full list.
const summaryErrorLimit = 10

// Summary is a display-friendly view of a record.
type Summary struct {
	Completed  int         `json:"completed"`
	LastItem   string      `json:"last_item,omitempty"`
	LastRun    *time.Time  `json:"last_run,omitempty"`
	ErrorCount int         `json:"error_count"`
	Errors     []ItemError `json:"errors"`
}

// Summarize truncates the record for reporting.
func (r *Record) Summarize() Summary {
	s := Summary{
		Completed:  len(r.CompletedItems),
		LastItem:   r.LastItem,
		LastRun:    r.LastRun,
		ErrorCount: len(r.Errors),
	}
	if len(r.Errors) > summaryErrorLimit {
		s.Errors = r.Errors[:summaryErrorLimit]
	} else {
		s.Errors = r.Errors
	}
	return s
}
