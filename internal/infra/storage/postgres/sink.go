package postgres

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/lib/pq"

	"github.com/popcore/populate/internal/populate"
)

// upsertBatchSize bounds the number of rows per INSERT statement.
const upsertBatchSize = 500

// Sink implements populate.Sink with an idempotent
// INSERT ... ON CONFLICT DO UPDATE keyed by the caller's key columns.
type Sink struct {
	db *DB
}

// NewSink creates a PostgreSQL sink.
func NewSink(db *DB) *Sink {
	return &Sink{db: db}
}

// Upsert lands records in the named table. Re-running the same input never
// duplicates rows. Inserted vs updated rows are distinguished by the
// xmax = 0 test on the returned set.
func (s *Sink) Upsert(
	ctx context.Context,
	table string,
	records []populate.Record,
	keyColumns []string,
) (populate.UpsertResult, error) {
	var result populate.UpsertResult
	if len(records) == 0 {
		return result, nil
	}
	if len(keyColumns) == 0 {
		return result, fmt.Errorf("upsert into %s requires key columns", table)
	}

	columns := recordColumns(records[0])

	for start := 0; start < len(records); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]

		query, args := buildUpsertQuery(table, columns, keyColumns, batch)
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return result, fmt.Errorf("upsert into %s failed: %w", table, err)
		}

		for rows.Next() {
			var inserted bool
			if err := rows.Scan(&inserted); err != nil {
				_ = rows.Close()
				return result, fmt.Errorf("failed to scan upsert result: %w", err)
			}
			if inserted {
				result.Inserted++
			} else {
				result.Updated++
			}
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return result, fmt.Errorf("upsert rows failed: %w", err)
		}
		_ = rows.Close()
	}

	return result, nil
}

// recordColumns returns the record's columns in a stable order.
func recordColumns(r populate.Record) []string {
	columns := make([]string, 0, len(r))
	for c := range r {
		columns = append(columns, c)
	}
	sort.Strings(columns)
	return columns
}

// buildUpsertQuery assembles the multi-row upsert. Table and column names
// come from configuration, not user input, but are quoted anyway.
func buildUpsertQuery(
	table string,
	columns, keyColumns []string,
	records []populate.Record,
) (string, []any) {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = pq.QuoteIdentifier(c)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ",
		pq.QuoteIdentifier(table), strings.Join(quoted, ", "))

	args := make([]any, 0, len(records)*len(columns))
	placeholder := 1
	for i, rec := range records {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j, c := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", placeholder)
			placeholder++
			args = append(args, rec[c])
		}
		b.WriteString(")")
	}

	keys := make([]string, len(keyColumns))
	for i, k := range keyColumns {
		keys[i] = pq.QuoteIdentifier(k)
	}
	fmt.Fprintf(&b, " ON CONFLICT (%s)", strings.Join(keys, ", "))

	updates := make([]string, 0, len(columns))
	for _, c := range columns {
		if isKeyColumn(c, keyColumns) {
			continue
		}
		q := pq.QuoteIdentifier(c)
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", q, q))
	}

	if len(updates) == 0 {
		// Key-only table: nothing to update, but keep the statement idempotent
		b.WriteString(" DO NOTHING")
	} else {
		fmt.Fprintf(&b, " DO UPDATE SET %s", strings.Join(updates, ", "))
	}
	b.WriteString(" RETURNING (xmax = 0)")

	return b.String(), args
}

func isKeyColumn(column string, keyColumns []string) bool {
	for _, k := range keyColumns {
		if k == column {
			return true
		}
	}
	return false
}
