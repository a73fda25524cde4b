package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/popcore/populate/internal/populate"
)

// Sink is an in-memory populate.Sink for tests and database-less runs.
// Rows are keyed by table plus the composite key-column values, so repeated
// upserts of the same input converge to one row.
type Sink struct {
	mu     sync.RWMutex
	tables map[string]map[string]populate.Record
}

// NewSink creates an empty in-memory sink.
func NewSink() *Sink {
	return &Sink{tables: make(map[string]map[string]populate.Record)}
}

// Upsert implements populate.Sink.
func (s *Sink) Upsert(
	ctx context.Context,
	table string,
	records []populate.Record,
	keyColumns []string,
) (populate.UpsertResult, error) {
	var result populate.UpsertResult
	if len(keyColumns) == 0 {
		return result, fmt.Errorf("upsert into %s requires key columns", table)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, ok := s.tables[table]
	if !ok {
		rows = make(map[string]populate.Record)
		s.tables[table] = rows
	}

	for _, rec := range records {
		key, err := compositeKey(rec, keyColumns)
		if err != nil {
			return result, fmt.Errorf("upsert into %s: %w", table, err)
		}
		if _, exists := rows[key]; exists {
			result.Updated++
		} else {
			result.Inserted++
		}
		copied := make(populate.Record, len(rec))
		for k, v := range rec {
			copied[k] = v
		}
		rows[key] = copied
	}
	return result, nil
}

// Rows returns a copy of a table's rows.
func (s *Sink) Rows(table string) []populate.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]populate.Record, 0, len(s.tables[table]))
	for _, rec := range s.tables[table] {
		copied := make(populate.Record, len(rec))
		for k, v := range rec {
			copied[k] = v
		}
		out = append(out, copied)
	}
	return out
}

// Count returns the number of rows in a table.
func (s *Sink) Count(table string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tables[table])
}

func compositeKey(rec populate.Record, keyColumns []string) (string, error) {
	parts := make([]string, len(keyColumns))
	for i, k := range keyColumns {
		v, ok := rec[k]
		if !ok {
			return "", fmt.Errorf("record missing key column %s", k)
		}
		parts[i] = fmt.Sprintf("%v", v)
	}
	return strings.Join(parts, "\x1f"), nil
}
