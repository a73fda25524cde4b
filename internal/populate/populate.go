package populate

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Unit is one self-contained slice of the overall job, independently
// retryable and independently markable as complete.
type Unit struct {
	Key    string            // opaque completion key
	Params map[string]string // passed through to the fetcher
}

// Record is one sink-ready row.
type Record map[string]any

// UpsertResult reports what an idempotent upsert did.
type UpsertResult struct {
	Inserted int64
	Updated  int64
}

// Fetcher pulls the raw payload for one unit from the external data source.
// Errors are opaque until passed through the failure classifier.
type Fetcher interface {
	Fetch(ctx context.Context, unit Unit) ([]map[string]any, error)
}

// Enumerator lists the work units for a task run.
type Enumerator interface {
	Units(ctx context.Context) ([]Unit, error)
}

// Transformer validates a raw payload against the expected schema and turns
// it into sink-ready records. The mapping logic belongs to the collaborator,
// not to this package.
type Transformer interface {
	Validate(rows []map[string]any, required []string) error
	Transform(rows []map[string]any) ([]Record, error)
}

// Sink lands records durably. Upsert must be idempotent under repeated
// identical input.
type Sink interface {
	Upsert(ctx context.Context, table string, records []Record, keyColumns []string) (UpsertResult, error)
}

// SchemaError reports rows that violated the expected schema contract.
type SchemaError struct {
	Missing []string
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	return fmt.Sprintf("payload missing required fields: %s", strings.Join(e.Missing, ", "))
}

// StaticEnumerator returns a fixed unit list.
type StaticEnumerator []Unit

// Units implements Enumerator.
func (e StaticEnumerator) Units(ctx context.Context) ([]Unit, error) {
	return e, nil
}

// IdentityTransformer passes rows through unchanged after checking that every
// row carries the required fields. Endpoint-specific mapping lives in the
// collaborator that replaces this.
type IdentityTransformer struct{}

// Validate implements Transformer.
func (IdentityTransformer) Validate(rows []map[string]any, required []string) error {
	missing := make(map[string]struct{})
	for _, row := range rows {
		for _, field := range required {
			if _, ok := row[field]; !ok {
				missing[field] = struct{}{}
			}
		}
	}
	if len(missing) == 0 {
		return nil
	}

	fields := make([]string, 0, len(missing))
	for f := range missing {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return &SchemaError{Missing: fields}
}

// Transform implements Transformer.
func (IdentityTransformer) Transform(rows []map[string]any) ([]Record, error) {
	records := make([]Record, len(rows))
	for i, row := range rows {
		records[i] = Record(row)
	}
	return records, nil
}
