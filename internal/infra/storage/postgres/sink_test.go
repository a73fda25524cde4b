package postgres

import (
	"strings"
	"testing"

	"github.com/popcore/populate/internal/populate"
)

func TestBuildUpsertQuery(t *testing.T) {
	records := []populate.Record{
		{"code": "US", "name": "United States", "population": 331000000},
		{"code": "DE", "name": "Germany", "population": 83000000},
	}
	columns := recordColumns(records[0])

	query, args := buildUpsertQuery("countries", columns, []string{"code"}, records)

	if !strings.HasPrefix(query, `INSERT INTO "countries" ("code", "name", "population") VALUES `) {
		t.Errorf("unexpected insert prefix: %s", query)
	}
	if !strings.Contains(query, `ON CONFLICT ("code") DO UPDATE SET "name" = EXCLUDED."name", "population" = EXCLUDED."population"`) {
		t.Errorf("unexpected conflict clause: %s", query)
	}
	if !strings.HasSuffix(query, "RETURNING (xmax = 0)") {
		t.Errorf("expected xmax marker, got: %s", query)
	}
	if !strings.Contains(query, "($1, $2, $3), ($4, $5, $6)") {
		t.Errorf("unexpected placeholders: %s", query)
	}

	if len(args) != 6 {
		t.Fatalf("expected 6 args, got %d", len(args))
	}
	// Columns are sorted, so code comes first
	if args[0] != "US" || args[3] != "DE" {
		t.Errorf("args out of order: %v", args)
	}
}

func TestBuildUpsertQueryKeyOnlyTable(t *testing.T) {
	records := []populate.Record{{"code": "US"}}
	query, _ := buildUpsertQuery("seen", []string{"code"}, []string{"code"}, records)

	if !strings.Contains(query, "DO NOTHING") {
		t.Errorf("key-only table must use DO NOTHING: %s", query)
	}
	if strings.Contains(query, "DO UPDATE") {
		t.Errorf("key-only table must not update: %s", query)
	}
}

func TestBuildUpsertQueryCompositeKey(t *testing.T) {
	records := []populate.Record{{"country": "US", "year": 2024, "population": 331000000}}
	columns := recordColumns(records[0])

	query, _ := buildUpsertQuery("census", columns, []string{"country", "year"}, records)

	if !strings.Contains(query, `ON CONFLICT ("country", "year")`) {
		t.Errorf("expected composite conflict target: %s", query)
	}
	if strings.Contains(query, `"country" = EXCLUDED`) || strings.Contains(query, `"year" = EXCLUDED`) {
		t.Errorf("key columns must not be updated: %s", query)
	}
	if !strings.Contains(query, `"population" = EXCLUDED."population"`) {
		t.Errorf("expected non-key column updated: %s", query)
	}
}

func TestBuildUpsertQueryQuotesIdentifiers(t *testing.T) {
	records := []populate.Record{{"user": "a", "order": "b"}}
	columns := recordColumns(records[0])

	query, _ := buildUpsertQuery("select", columns, []string{"user"}, records)

	// Reserved words survive because everything is quoted
	for _, ident := range []string{`"select"`, `"user"`, `"order"`} {
		if !strings.Contains(query, ident) {
			t.Errorf("expected quoted identifier %s in: %s", ident, query)
		}
	}
}

func TestRecordColumnsStableOrder(t *testing.T) {
	rec := populate.Record{"zeta": 1, "alpha": 2, "mid": 3}
	for i := 0; i < 10; i++ {
		cols := recordColumns(rec)
		if cols[0] != "alpha" || cols[1] != "mid" || cols[2] != "zeta" {
			t.Fatalf("expected sorted columns, got %v", cols)
		}
	}
}
