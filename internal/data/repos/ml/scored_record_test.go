package ml

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/halcyonops/opsml-backend/internal/data/repos/testutil"
	types "github.com/halcyonops/opsml-backend/internal/domain"
	"github.com/halcyonops/opsml-backend/internal/platform/dbctx"
)

func TestScoredRecordUpsertIsIdempotent(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	repo := NewScoredRecordRepo(db, testutil.Logger(t))

	entity := uuid.New()
	model := uuid.New()
	runA := uuid.New()
	runB := uuid.New()
	now := time.Now().UTC()

	mkRow := func(runID uuid.UUID, prob float64) *types.ScoredRecord {
		return &types.ScoredRecord{
			ID:             uuid.New(),
			EntityID:       entity,
			RecordID:       "rec-001",
			ModelID:        model,
			InferenceRunID: runID,
			Probability:    prob,
			PredictedFlag:  prob >= 0.5,
			FeaturesJSON:   datatypes.JSON([]byte(`{"amount":10}`)),
			ScoredAt:       now,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
	}

	if err := repo.UpsertMany(dbc, []*types.ScoredRecord{mkRow(runA, 0.3)}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	// Second pass over the same (entity, record, model) overwrites, never dupes.
	if err := repo.UpsertMany(dbc, []*types.ScoredRecord{mkRow(runB, 0.9)}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	cur, err := repo.GetCurrent(dbc, entity, "rec-001", model)
	if err != nil || cur == nil {
		t.Fatalf("GetCurrent: row=%v err=%v", cur, err)
	}
	if cur.InferenceRunID != runB {
		t.Fatalf("latest run should win: got %s want %s", cur.InferenceRunID, runB)
	}
	if cur.Probability != 0.9 || !cur.PredictedFlag {
		t.Fatalf("latest values should win: prob=%v flag=%v", cur.Probability, cur.PredictedFlag)
	}

	var total int64
	if err := tx.WithContext(ctx).
		Model(&types.ScoredRecord{}).
		Where("entity_id = ? AND record_id = ? AND model_id = ?", entity, "rec-001", model).
		Count(&total).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected exactly one row per (entity, record, model), got %d", total)
	}

	if n, err := repo.CountByRun(dbc, runB); err != nil || n != 1 {
		t.Fatalf("CountByRun: n=%d err=%v", n, err)
	}
}
