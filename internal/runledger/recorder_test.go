package runledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/halcyonops/opsml-backend/internal/data/repos"
	"github.com/halcyonops/opsml-backend/internal/data/repos/testutil"
	types "github.com/halcyonops/opsml-backend/internal/domain"
	"github.com/halcyonops/opsml-backend/internal/platform/dbctx"
)

func setup(t *testing.T) (*Recorder, *repos.All, dbctx.Context) {
	t.Helper()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	all := repos.NewAll(tx, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	return New(testutil.Logger(t), all), all, dbc
}

func TestTrainingLifecyclePairsAuditEvents(t *testing.T) {
	rec, all, dbc := setup(t)
	entity := uuid.New()

	run := &types.TrainingRun{EntityID: entity, ModelKey: "ticket_priority", Seed: 42}
	if err := rec.StartTraining(dbc, run); err != nil {
		t.Fatalf("StartTraining: %v", err)
	}
	if run.ID == uuid.Nil || run.Status != types.RunStatusRunning {
		t.Fatalf("run not initialized: %+v", run)
	}

	artifactDoc, metricsDoc, logsDoc := uuid.New(), uuid.New(), uuid.New()
	ok, err := rec.FinishTrainingSuccess(dbc, run, artifactDoc, metricsDoc, logsDoc)
	if err != nil || !ok {
		t.Fatalf("FinishTrainingSuccess: ok=%v err=%v", ok, err)
	}

	stored, err := all.TrainingRuns.GetByID(dbc, run.ID)
	if err != nil || stored == nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != types.RunStatusSuccess || stored.ArtifactDocumentID == nil || *stored.ArtifactDocumentID != artifactDoc {
		t.Fatalf("terminal state not persisted: %+v", stored)
	}
	if stored.FinishedAt == nil {
		t.Fatalf("finished_at not set")
	}

	events, err := all.AuditEvents.ListBySubject(dbc, run.ID)
	if err != nil {
		t.Fatalf("ListBySubject: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected started+completed audit events, got %d", len(events))
	}
	if events[0].EventType != types.AuditTrainingStarted || events[1].EventType != types.AuditTrainingCompleted {
		t.Fatalf("event types: %s, %s", events[0].EventType, events[1].EventType)
	}
	if len(events[1].AfterJSON) == 0 {
		t.Fatalf("completed event missing after snapshot")
	}

	// A late failure must not override the success, and must not audit.
	ok, err = rec.FinishTrainingFailed(dbc, run, "late", errors.New("boom"))
	if err != nil {
		t.Fatalf("guarded FinishTrainingFailed: %v", err)
	}
	if ok {
		t.Fatalf("second terminal transition should be rejected")
	}
	events, _ = all.AuditEvents.ListBySubject(dbc, run.ID)
	if len(events) != 2 {
		t.Fatalf("rejected transition must not append audit events, got %d", len(events))
	}
}

func TestInferenceFailurePath(t *testing.T) {
	rec, all, dbc := setup(t)
	entity := uuid.New()

	modelID := uuid.New()
	run := &types.InferenceRun{
		EntityID:    entity,
		ModelID:     &modelID,
		ModelKey:    "expense_anomaly",
		PeriodStart: time.Now().UTC().Add(-24 * time.Hour),
		PeriodEnd:   time.Now().UTC(),
	}
	if err := rec.StartInference(dbc, run); err != nil {
		t.Fatalf("StartInference: %v", err)
	}

	ok, err := rec.FinishInferenceFailed(dbc, run, "load_artifact", errors.New("artifact: corrupt or incompatible bundle"))
	if err != nil || !ok {
		t.Fatalf("FinishInferenceFailed: ok=%v err=%v", ok, err)
	}

	stored, err := all.InferenceRuns.GetByID(dbc, run.ID)
	if err != nil || stored == nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != types.RunStatusFailed || stored.Stage != "load_artifact" || stored.Error == "" {
		t.Fatalf("failure not persisted: %+v", stored)
	}

	events, err := all.AuditEvents.ListBySubject(dbc, run.ID)
	if err != nil || len(events) != 2 {
		t.Fatalf("expected started+failed audit events, got %d (err=%v)", len(events), err)
	}
	if events[1].EventType != types.AuditInferenceFailed {
		t.Fatalf("second event = %s", events[1].EventType)
	}
}

func TestModelEventSnapshotsModelRow(t *testing.T) {
	rec, all, dbc := setup(t)
	model := &types.ModelVersion{
		ID:       uuid.New(),
		EntityID: uuid.New(),
		ModelKey: "ticket_priority",
		Version:  3,
		Status:   types.ModelStatusActive,
	}
	if err := rec.ModelEvent(dbc, types.AuditModelPromoted, model); err != nil {
		t.Fatalf("ModelEvent: %v", err)
	}
	events, err := all.AuditEvents.ListBySubject(dbc, model.ID)
	if err != nil || len(events) != 1 {
		t.Fatalf("expected one event, got %d (err=%v)", len(events), err)
	}
	if events[0].EventType != types.AuditModelPromoted || events[0].SubjectType != SubjectModelVersion {
		t.Fatalf("event wrong: %+v", events[0])
	}
}
