package infer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/halcyonops/opsml-backend/internal/data/repos"
	"github.com/halcyonops/opsml-backend/internal/data/repos/testutil"
	types "github.com/halcyonops/opsml-backend/internal/domain"
	"github.com/halcyonops/opsml-backend/internal/ml/feature"
	"github.com/halcyonops/opsml-backend/internal/pipeline/train"
	"github.com/halcyonops/opsml-backend/internal/platform/dbctx"
	"github.com/halcyonops/opsml-backend/internal/platform/gcp"
	"github.com/halcyonops/opsml-backend/internal/runledger"
)

// stubSource stands in for the operational database query.
type stubSource struct {
	rows []feature.Row
	err  error
}

func (s *stubSource) FetchRecords(_ context.Context, _ uuid.UUID, _, _ time.Time) ([]feature.Row, error) {
	return s.rows, s.err
}

type fixture struct {
	infer  *Pipeline
	train  *train.Pipeline
	repos  *repos.All
	cas    *gcp.MemCAS
	source *stubSource
	dbc    dbctx.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)
	all := repos.NewAll(tx, log)
	cas := gcp.NewMemCAS("test-exports")
	ledger := runledger.New(log, all)
	src := &stubSource{}
	return &fixture{
		infer: New(Deps{
			DB:     tx,
			Log:    log,
			CAS:    cas,
			Repos:  all,
			Ledger: ledger,
			Source: src,
		}),
		train: train.New(train.Deps{
			DB:     tx,
			Log:    log,
			CAS:    cas,
			Repos:  all,
			Ledger: ledger,
		}),
		repos:  all,
		cas:    cas,
		source: src,
		dbc:    dbctx.Context{Ctx: context.Background(), Tx: tx},
	}
}

func seedCSV(n int) []byte {
	var b strings.Builder
	b.WriteString("record_id,created_at,label,amount,region\n")
	base := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		amount := float64(i%10) + 0.5
		label := "low"
		if amount > 5 {
			label = "high"
		}
		fmt.Fprintf(&b, "rec-%04d,%s,%s,%0.1f,emea\n",
			i, base.Add(time.Duration(i)*time.Minute).Format(time.RFC3339), label, amount)
	}
	return []byte(b.String())
}

// trainActiveModel registers and promotes a model so inference can resolve it.
func (f *fixture) trainActiveModel(t *testing.T, entity uuid.UUID, algorithm string) uuid.UUID {
	t.Helper()
	blobPath := fmt.Sprintf("datasets/%s/train.csv", algorithm)
	if _, err := f.cas.Upload(f.dbc.Ctx, blobPath, bytes.NewReader(seedCSV(300)), "text/csv"); err != nil {
		t.Fatalf("seed dataset: %v", err)
	}
	out, err := f.train.Run(f.dbc.Ctx, train.Input{
		EntityID:        entity,
		ModelKey:        "ticket_priority",
		Algorithm:       algorithm,
		DatasetBlobPath: blobPath,
		Hyperparams: train.Hyperparams{
			Seed:                7,
			NumericFeatures:     []string{"amount"},
			CategoricalFeatures: []string{"region"},
			NumRounds:           10,
			NumTrees:            20,
			SampleSize:          64,
			Contamination:       0.1,
		},
	})
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if _, _, err := f.repos.Models.Promote(f.dbc, out.ModelID); err != nil {
		t.Fatalf("promote: %v", err)
	}
	return out.ModelID
}

func liveRows(n int) []feature.Row {
	base := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	rows := make([]feature.Row, n)
	for i := range rows {
		rows[i] = feature.Row{
			RecordID:  fmt.Sprintf("live-%04d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			Values: map[string]string{
				"amount": fmt.Sprintf("%0.1f", float64(i%10)+0.5),
				"region": "emea",
			},
		}
	}
	return rows
}

func scoringInput(entity uuid.UUID) Input {
	return Input{
		EntityID:    entity,
		ModelKey:    "ticket_priority",
		PeriodStart: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC),
		AsOf:        time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC),
	}
}

func TestRunScoresAndUpserts(t *testing.T) {
	f := newFixture(t)
	entity := uuid.New()
	modelID := f.trainActiveModel(t, entity, types.AlgorithmGBM)
	f.source.rows = liveRows(40)

	out, err := f.infer.Run(f.dbc.Ctx, scoringInput(entity))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Status != types.RunStatusSuccess || out.ModelID != modelID || out.ScoredRows != 40 {
		t.Fatalf("output wrong: %+v", out)
	}

	// Scored records landed with the run id and a predicted class.
	if n, err := f.repos.ScoredRecords.CountByRun(f.dbc, out.RunID); err != nil || n != 40 {
		t.Fatalf("CountByRun: n=%d err=%v", n, err)
	}
	rec, err := f.repos.ScoredRecords.GetCurrent(f.dbc, entity, "live-0000", modelID)
	if err != nil || rec == nil {
		t.Fatalf("GetCurrent: %v", err)
	}
	if rec.PredictedClass == "" || rec.Confidence <= 0 {
		t.Fatalf("scored record not populated: %+v", rec)
	}

	// The output document holds one CSV line per scored record plus header.
	if out.OutputDocumentID == nil {
		t.Fatalf("output document missing")
	}
	doc, err := f.repos.Documents.GetByID(f.dbc, *out.OutputDocumentID)
	if err != nil {
		t.Fatalf("output document row: %v", err)
	}
	data, sha, err := f.cas.DownloadBytes(f.dbc.Ctx, doc.BlobPath)
	if err != nil || sha != doc.SHA256 {
		t.Fatalf("output blob: sha=%s err=%v", sha, err)
	}
	if lines := strings.Count(string(data), "\n"); lines != 41 {
		t.Fatalf("output csv has %d lines, want 41", lines)
	}

	if _, ok := out.Summary["class_distribution"]; !ok {
		t.Fatalf("summary missing class distribution: %v", out.Summary)
	}

	// Re-running the same period overwrites rather than duplicating.
	out2, err := f.infer.Run(f.dbc.Ctx, scoringInput(entity))
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	rec, err = f.repos.ScoredRecords.GetCurrent(f.dbc, entity, "live-0000", modelID)
	if err != nil || rec.InferenceRunID != out2.RunID {
		t.Fatalf("second run should own the row: %v err=%v", rec, err)
	}
}

func TestRunWithNoRecordsSucceedsEmpty(t *testing.T) {
	f := newFixture(t)
	entity := uuid.New()
	f.trainActiveModel(t, entity, types.AlgorithmGBM)
	f.source.rows = nil

	out, err := f.infer.Run(f.dbc.Ctx, scoringInput(entity))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Status != types.RunStatusSuccess || out.TotalRows != 0 || out.OutputDocumentID != nil {
		t.Fatalf("empty-period output wrong: %+v", out)
	}
	run, err := f.repos.InferenceRuns.GetByID(f.dbc, out.RunID)
	if err != nil || run == nil || run.Status != types.RunStatusSuccess {
		t.Fatalf("run row: %+v err=%v", run, err)
	}
	if !strings.Contains(string(run.SummaryJSON), `"total_rows":0`) {
		t.Fatalf("summary not persisted: %s", run.SummaryJSON)
	}
}

func TestRunWithoutActiveModelFails(t *testing.T) {
	f := newFixture(t)
	out, err := f.infer.Run(f.dbc.Ctx, scoringInput(uuid.New()))
	if !errors.Is(err, repos.ErrNoActiveModel) {
		t.Fatalf("expected ErrNoActiveModel, got %v", err)
	}

	// The attempt is still in the ledger: a failed run row with no model
	// bound, plus the started and failed audit events.
	if out.RunID == uuid.Nil {
		t.Fatalf("failed resolution must still return the run id")
	}
	run, gerr := f.repos.InferenceRuns.GetByID(f.dbc, out.RunID)
	if gerr != nil || run == nil {
		t.Fatalf("run row: %v", gerr)
	}
	if run.Status != types.RunStatusFailed || run.Stage != "resolve_model" || run.Error == "" {
		t.Fatalf("failure not recorded: %+v", run)
	}
	if run.ModelID != nil {
		t.Fatalf("no model was resolved, run must not reference one: %v", run.ModelID)
	}
	events, eerr := f.repos.AuditEvents.ListBySubject(f.dbc, out.RunID)
	if eerr != nil || len(events) != 2 {
		t.Fatalf("audit events: %d (err=%v)", len(events), eerr)
	}
	if events[0].EventType != types.AuditInferenceStarted || events[1].EventType != types.AuditInferenceFailed {
		t.Fatalf("event types: %s, %s", events[0].EventType, events[1].EventType)
	}
}

func TestRunRefusesConcurrentPeriod(t *testing.T) {
	f := newFixture(t)
	entity := uuid.New()
	modelID := f.trainActiveModel(t, entity, types.AlgorithmGBM)
	f.source.rows = liveRows(5)

	in := scoringInput(entity)
	stuck := &types.InferenceRun{
		ID:          uuid.New(),
		EntityID:    entity,
		ModelID:     &modelID,
		ModelKey:    "ticket_priority",
		PeriodStart: in.PeriodStart,
		PeriodEnd:   in.PeriodEnd,
		Status:      types.RunStatusRunning,
		StartedAt:   time.Now().UTC(),
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := f.repos.InferenceRuns.Create(f.dbc, stuck); err != nil {
		t.Fatalf("seed running run: %v", err)
	}

	rejected, err := f.infer.Run(f.dbc.Ctx, in)
	if !errors.Is(err, repos.ErrRunInFlight) {
		t.Fatalf("expected ErrRunInFlight, got %v", err)
	}
	// The rejected attempt leaves its own failed run row behind.
	run, gerr := f.repos.InferenceRuns.GetByID(f.dbc, rejected.RunID)
	if gerr != nil || run == nil || run.Status != types.RunStatusFailed || run.Stage != "resolve_model" {
		t.Fatalf("rejected attempt not ledgered: %+v err=%v", run, gerr)
	}

	// Failing the stuck run unblocks the period.
	if ok, err := f.repos.InferenceRuns.UpdateFieldsUnlessStatus(f.dbc, stuck.ID, nil, map[string]interface{}{
		"status": types.RunStatusFailed,
	}); err != nil || !ok {
		t.Fatalf("fail stuck run: ok=%v err=%v", ok, err)
	}
	if _, err := f.infer.Run(f.dbc.Ctx, in); err != nil {
		t.Fatalf("Run after unblocking: %v", err)
	}
}

func TestRunThresholdOverride(t *testing.T) {
	f := newFixture(t)
	entity := uuid.New()
	f.trainActiveModel(t, entity, types.AlgorithmIsolationForest)
	f.source.rows = liveRows(30)

	in := scoringInput(entity)
	zero := 0.0
	in.ThresholdOverride = &zero

	out, err := f.infer.Run(f.dbc.Ctx, in)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Summary["threshold_source"] != "override" {
		t.Fatalf("threshold source = %v", out.Summary["threshold_source"])
	}
	// Threshold zero flags everything.
	if out.Summary["flagged_rows"] != 30 {
		t.Fatalf("flagged_rows = %v, want 30", out.Summary["flagged_rows"])
	}

	run, err := f.repos.InferenceRuns.GetByID(f.dbc, out.RunID)
	if err != nil || run == nil {
		t.Fatalf("run row: %v", err)
	}
	if run.ThresholdOverride == nil || *run.ThresholdOverride != 0 {
		t.Fatalf("override not persisted on run row: %v", run.ThresholdOverride)
	}
}

func (f *fixture) artifactDoc(t *testing.T, modelID uuid.UUID) *types.Document {
	t.Helper()
	model, err := f.repos.Models.GetByID(f.dbc, modelID)
	if err != nil {
		t.Fatalf("model: %v", err)
	}
	doc, err := f.repos.Documents.GetByID(f.dbc, model.ArtifactDocumentID)
	if err != nil {
		t.Fatalf("artifact doc: %v", err)
	}
	return doc
}

func assertFailedAtLoadArtifact(t *testing.T, f *fixture, out Output, err error) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected corrupt artifact to fail the run")
	}
	run, gerr := f.repos.InferenceRuns.GetByID(f.dbc, out.RunID)
	if gerr != nil || run == nil {
		t.Fatalf("run row: %v", gerr)
	}
	if run.Status != types.RunStatusFailed || run.Stage != "load_artifact" {
		t.Fatalf("failure not recorded: status=%s stage=%s", run.Status, run.Stage)
	}
}

func TestRunFailsOnCorruptArtifact(t *testing.T) {
	f := newFixture(t)
	entity := uuid.New()
	modelID := f.trainActiveModel(t, entity, types.AlgorithmGBM)
	f.source.rows = liveRows(5)

	// Flip one byte without changing the length; the digest check must catch
	// what the size check cannot.
	doc := f.artifactDoc(t, modelID)
	data, _, err := f.cas.DownloadBytes(f.dbc.Ctx, doc.BlobPath)
	if err != nil {
		t.Fatalf("download artifact: %v", err)
	}
	data[0] ^= 0xff
	if _, err := f.cas.Upload(f.dbc.Ctx, doc.BlobPath, bytes.NewReader(data), "application/json"); err != nil {
		t.Fatalf("tamper: %v", err)
	}

	out, err := f.infer.Run(f.dbc.Ctx, scoringInput(entity))
	assertFailedAtLoadArtifact(t, f, out, err)
	if !strings.Contains(err.Error(), "digest mismatch") {
		t.Fatalf("expected digest mismatch, got %v", err)
	}
}

func TestRunFailsOnTruncatedArtifact(t *testing.T) {
	f := newFixture(t)
	entity := uuid.New()
	modelID := f.trainActiveModel(t, entity, types.AlgorithmGBM)
	f.source.rows = liveRows(5)

	// Replace the blob with something shorter; the object size no longer
	// matches the document row and the run fails before downloading.
	doc := f.artifactDoc(t, modelID)
	if _, err := f.cas.Upload(f.dbc.Ctx, doc.BlobPath, strings.NewReader("tampered"), "application/json"); err != nil {
		t.Fatalf("tamper: %v", err)
	}

	out, err := f.infer.Run(f.dbc.Ctx, scoringInput(entity))
	assertFailedAtLoadArtifact(t, f, out, err)
	if !strings.Contains(err.Error(), "size mismatch") {
		t.Fatalf("expected size mismatch, got %v", err)
	}
}
