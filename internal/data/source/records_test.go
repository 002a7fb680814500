package source

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/halcyonops/opsml-backend/internal/data/repos/testutil"
)

func TestFetchRecordsMapsAndFiltersRows(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()

	if err := tx.Exec(`CREATE TABLE IF NOT EXISTS operational_records (
		id INTEGER PRIMARY KEY,
		entity_id TEXT,
		record_id TEXT,
		created_at DATETIME,
		label TEXT,
		actual_flag BOOLEAN,
		amount REAL,
		region TEXT
	)`).Error; err != nil {
		t.Skipf("cannot create source fixture table: %v", err)
	}

	entity := uuid.New()
	other := uuid.New()
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	insert := func(e uuid.UUID, recordID string, at time.Time, label string, flag interface{}, amount float64, region string) {
		if err := tx.Exec(
			`INSERT INTO operational_records (entity_id, record_id, created_at, label, actual_flag, amount, region) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e, recordID, at, label, flag, amount, region,
		).Error; err != nil {
			t.Fatalf("insert fixture: %v", err)
		}
	}

	insert(entity, "rec-b", base.Add(time.Hour), "high", true, 42.5, "emea")
	insert(entity, "rec-a", base.Add(time.Hour), "", nil, 7, "apac")
	insert(entity, "rec-old", base.Add(-time.Hour), "low", false, 1, "emea") // before the period
	insert(other, "rec-x", base.Add(time.Hour), "low", false, 9, "emea")     // other entity

	q := &querier{db: tx.WithContext(ctx), log: testutil.Logger(t), table: "operational_records"}
	rows, err := q.FetchRecords(ctx, entity, base, base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("FetchRecords: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows in period for entity, got %d", len(rows))
	}

	// Equal timestamps tie-break on record id.
	if rows[0].RecordID != "rec-a" || rows[1].RecordID != "rec-b" {
		t.Fatalf("row order not deterministic: %s, %s", rows[0].RecordID, rows[1].RecordID)
	}

	b := rows[1]
	if b.Label != "high" {
		t.Fatalf("label = %q", b.Label)
	}
	if b.ActualFlag == nil || !*b.ActualFlag {
		t.Fatalf("actual_flag not mapped: %v", b.ActualFlag)
	}
	if b.Values["amount"] != "42.5" || b.Values["region"] != "emea" {
		t.Fatalf("feature values wrong: %v", b.Values)
	}
	if _, reserved := b.Values["record_id"]; reserved {
		t.Fatalf("reserved columns must not leak into feature values")
	}

	a := rows[0]
	if a.Label != "" || a.ActualFlag != nil {
		t.Fatalf("absent label/flag should stay empty: label=%q flag=%v", a.Label, a.ActualFlag)
	}
}
