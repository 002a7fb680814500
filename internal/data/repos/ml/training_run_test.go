package ml

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/halcyonops/opsml-backend/internal/data/repos/testutil"
	types "github.com/halcyonops/opsml-backend/internal/domain"
	"github.com/halcyonops/opsml-backend/internal/platform/dbctx"
)

func TestTrainingRunTerminalGuard(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	repo := NewTrainingRunRepo(db, testutil.Logger(t))
	entity := uuid.New()
	run := testutil.SeedTrainingRun(t, ctx, tx, entity, "k", types.RunStatusRunning, time.Now().UTC())

	terminal := []string{types.RunStatusSuccess, types.RunStatusFailed}

	ok, err := repo.UpdateFieldsUnlessStatus(dbc, run.ID, terminal, map[string]interface{}{
		"status": types.RunStatusSuccess,
	})
	if err != nil || !ok {
		t.Fatalf("terminal transition: ok=%v err=%v", ok, err)
	}

	// A second terminal write must be rejected by the status guard.
	ok, err = repo.UpdateFieldsUnlessStatus(dbc, run.ID, terminal, map[string]interface{}{
		"status": types.RunStatusFailed,
		"error":  "late failure",
	})
	if err != nil {
		t.Fatalf("guarded update: %v", err)
	}
	if ok {
		t.Fatalf("expected second terminal transition to be rejected")
	}

	got, err := repo.GetByID(dbc, run.ID)
	if err != nil || got == nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != types.RunStatusSuccess || got.Error != "" {
		t.Fatalf("terminal state overwritten: status=%s error=%q", got.Status, got.Error)
	}
}

func TestTrainingRunListStaleRunning(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	repo := NewTrainingRunRepo(db, testutil.Logger(t))
	entity := uuid.New()
	now := time.Now().UTC()

	stale := testutil.SeedTrainingRun(t, ctx, tx, entity, "k", types.RunStatusRunning, now.Add(-48*time.Hour))
	testutil.SeedTrainingRun(t, ctx, tx, entity, "k", types.RunStatusRunning, now.Add(-time.Minute))
	testutil.SeedTrainingRun(t, ctx, tx, entity, "k", types.RunStatusFailed, now.Add(-72*time.Hour))

	rows, err := repo.ListStaleRunning(dbc, now.Add(-24*time.Hour), 10)
	if err != nil {
		t.Fatalf("ListStaleRunning: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != stale.ID {
		t.Fatalf("expected only the stale running row, got %d rows", len(rows))
	}
}
