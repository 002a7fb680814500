package runledger

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/halcyonops/opsml-backend/internal/data/repos"
	types "github.com/halcyonops/opsml-backend/internal/domain"
	"github.com/halcyonops/opsml-backend/internal/platform/dbctx"
	"github.com/halcyonops/opsml-backend/internal/platform/logger"
)

const (
	SubjectTrainingRun  = "training_run"
	SubjectInferenceRun = "inference_run"
	SubjectModelVersion = "model_version"
)

var terminalRunStatuses = []string{types.RunStatusSuccess, types.RunStatusFailed}

// Recorder pairs every run-ledger transition with its audit event so the two
// trails cannot drift apart. All writes go through the caller's dbc, which
// lets a pipeline keep a transition and its audit row in one transaction.
type Recorder struct {
	log   *logger.Logger
	runs  repos.TrainingRunRepo
	infs  repos.InferenceRunRepo
	audit repos.AuditEventRepo
}

func New(baseLog *logger.Logger, r *repos.All) *Recorder {
	return &Recorder{
		log:   baseLog.With("component", "RunLedger"),
		runs:  r.TrainingRuns,
		infs:  r.InferenceRuns,
		audit: r.AuditEvents,
	}
}

// StartTraining inserts the running row and the started audit event.
func (rec *Recorder) StartTraining(dbc dbctx.Context, run *types.TrainingRun) error {
	now := time.Now().UTC()
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	run.Status = types.RunStatusRunning
	if run.StartedAt.IsZero() {
		run.StartedAt = now
	}
	run.CreatedAt = now
	run.UpdatedAt = now
	if err := rec.runs.Create(dbc, run); err != nil {
		return err
	}
	rec.log.Info("training run started", "run_id", run.ID.String(), "model_key", run.ModelKey)
	return rec.append(dbc, run.EntityID, types.AuditTrainingStarted, SubjectTrainingRun, run.ID, run)
}

// FinishTrainingSuccess applies the single terminal transition with the
// produced document ids. A false return means the run was already terminal
// and nothing was written.
func (rec *Recorder) FinishTrainingSuccess(dbc dbctx.Context, run *types.TrainingRun, artifactDoc, metricsDoc, logsDoc uuid.UUID) (bool, error) {
	now := time.Now().UTC()
	ok, err := rec.runs.UpdateFieldsUnlessStatus(dbc, run.ID, terminalRunStatuses, map[string]interface{}{
		"status":               types.RunStatusSuccess,
		"stage":                "done",
		"artifact_document_id": artifactDoc,
		"metrics_document_id":  metricsDoc,
		"logs_document_id":     logsDoc,
		"finished_at":          now,
		"updated_at":           now,
	})
	if err != nil || !ok {
		return ok, err
	}
	run.Status = types.RunStatusSuccess
	run.ArtifactDocumentID = &artifactDoc
	run.MetricsDocumentID = &metricsDoc
	run.LogsDocumentID = &logsDoc
	run.FinishedAt = &now
	rec.log.Info("training run succeeded", "run_id", run.ID.String())
	return true, rec.append(dbc, run.EntityID, types.AuditTrainingCompleted, SubjectTrainingRun, run.ID, run)
}

// FinishTrainingFailed records the failure stage and cause. Guarded the same
// way: a run that already finished keeps its original outcome.
func (rec *Recorder) FinishTrainingFailed(dbc dbctx.Context, run *types.TrainingRun, stage string, cause error) (bool, error) {
	now := time.Now().UTC()
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	ok, err := rec.runs.UpdateFieldsUnlessStatus(dbc, run.ID, terminalRunStatuses, map[string]interface{}{
		"status":      types.RunStatusFailed,
		"stage":       stage,
		"error":       msg,
		"finished_at": now,
		"updated_at":  now,
	})
	if err != nil || !ok {
		return ok, err
	}
	run.Status = types.RunStatusFailed
	run.Stage = stage
	run.Error = msg
	run.FinishedAt = &now
	rec.log.Error("training run failed", "run_id", run.ID.String(), "stage", stage, "error", msg)
	return true, rec.append(dbc, run.EntityID, types.AuditTrainingFailed, SubjectTrainingRun, run.ID, run)
}

func (rec *Recorder) StartInference(dbc dbctx.Context, run *types.InferenceRun) error {
	now := time.Now().UTC()
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	run.Status = types.RunStatusRunning
	if run.StartedAt.IsZero() {
		run.StartedAt = now
	}
	run.CreatedAt = now
	run.UpdatedAt = now
	if err := rec.infs.Create(dbc, run); err != nil {
		return err
	}
	rec.log.Info("inference run started",
		"run_id", run.ID.String(),
		"model_key", run.ModelKey)
	return rec.append(dbc, run.EntityID, types.AuditInferenceStarted, SubjectInferenceRun, run.ID, run)
}

func (rec *Recorder) FinishInferenceSuccess(dbc dbctx.Context, run *types.InferenceRun, outputDoc *uuid.UUID, summary map[string]interface{}) (bool, error) {
	now := time.Now().UTC()
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return false, err
	}
	updates := map[string]interface{}{
		"status":       types.RunStatusSuccess,
		"stage":        "done",
		"summary_json": datatypes.JSON(summaryJSON),
		"finished_at":  now,
		"updated_at":   now,
	}
	if outputDoc != nil {
		updates["output_document_id"] = *outputDoc
	}
	ok, err := rec.infs.UpdateFieldsUnlessStatus(dbc, run.ID, terminalRunStatuses, updates)
	if err != nil || !ok {
		return ok, err
	}
	run.Status = types.RunStatusSuccess
	run.OutputDocumentID = outputDoc
	run.SummaryJSON = datatypes.JSON(summaryJSON)
	run.FinishedAt = &now
	rec.log.Info("inference run succeeded", "run_id", run.ID.String())
	return true, rec.append(dbc, run.EntityID, types.AuditInferenceCompleted, SubjectInferenceRun, run.ID, run)
}

func (rec *Recorder) FinishInferenceFailed(dbc dbctx.Context, run *types.InferenceRun, stage string, cause error) (bool, error) {
	now := time.Now().UTC()
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	ok, err := rec.infs.UpdateFieldsUnlessStatus(dbc, run.ID, terminalRunStatuses, map[string]interface{}{
		"status":      types.RunStatusFailed,
		"stage":       stage,
		"error":       msg,
		"finished_at": now,
		"updated_at":  now,
	})
	if err != nil || !ok {
		return ok, err
	}
	run.Status = types.RunStatusFailed
	run.Stage = stage
	run.Error = msg
	run.FinishedAt = &now
	rec.log.Error("inference run failed", "run_id", run.ID.String(), "stage", stage, "error", msg)
	return true, rec.append(dbc, run.EntityID, types.AuditInferenceFailed, SubjectInferenceRun, run.ID, run)
}

// ModelEvent records a registry transition (registered, promoted, retired)
// with the model row as the after-state snapshot.
func (rec *Recorder) ModelEvent(dbc dbctx.Context, eventType string, model *types.ModelVersion) error {
	return rec.append(dbc, model.EntityID, eventType, SubjectModelVersion, model.ID, model)
}

func (rec *Recorder) append(dbc dbctx.Context, entityID uuid.UUID, eventType, subjectType string, subjectID uuid.UUID, after interface{}) error {
	snapshot, err := json.Marshal(after)
	if err != nil {
		return err
	}
	return rec.audit.Create(dbc, &types.AuditEvent{
		ID:          uuid.New(),
		EntityID:    entityID,
		EventType:   eventType,
		SubjectType: subjectType,
		SubjectID:   subjectID,
		AfterJSON:   datatypes.JSON(snapshot),
		CreatedAt:   time.Now().UTC(),
	})
}
