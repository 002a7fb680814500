package infer

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/halcyonops/opsml-backend/internal/data/repos"
	"github.com/halcyonops/opsml-backend/internal/data/source"
	types "github.com/halcyonops/opsml-backend/internal/domain"
	"github.com/halcyonops/opsml-backend/internal/ml/artifact"
	"github.com/halcyonops/opsml-backend/internal/ml/evaluate"
	"github.com/halcyonops/opsml-backend/internal/ml/feature"
	"github.com/halcyonops/opsml-backend/internal/pipeline/runlog"
	"github.com/halcyonops/opsml-backend/internal/platform/dbctx"
	"github.com/halcyonops/opsml-backend/internal/platform/gcp"
	"github.com/halcyonops/opsml-backend/internal/platform/logger"
	"github.com/halcyonops/opsml-backend/internal/runledger"
)

const (
	stageResolveModel = "resolve_model"
	stageLoadArtifact = "load_artifact"
	stageFetchRecords = "fetch_records"
	stageScore        = "score"
	stagePersist      = "persist"
)

type Deps struct {
	DB     *gorm.DB
	Log    *logger.Logger
	CAS    gcp.CASStore
	Repos  *repos.All
	Ledger *runledger.Recorder
	Source source.Querier
}

type Pipeline struct {
	deps Deps
	log  *logger.Logger
}

func New(deps Deps) *Pipeline {
	return &Pipeline{deps: deps, log: deps.Log.With("pipeline", "infer")}
}

// Input selects the model and the scoring window. ModelID pins an exact
// version; when nil the active version for (entity, model key) is resolved.
// ThresholdOverride replaces the artifact's decision threshold for this run
// only and is recorded on the run row.
type Input struct {
	EntityID uuid.UUID
	ModelKey string
	ModelID  *uuid.UUID

	PeriodStart time.Time
	PeriodEnd   time.Time

	ThresholdOverride *float64

	// AsOf anchors time-derived features; zero means now.
	AsOf time.Time
}

func (in Input) validate() error {
	if in.EntityID == uuid.Nil {
		return fmt.Errorf("infer input: entity id is required")
	}
	if in.ModelKey == "" && in.ModelID == nil {
		return fmt.Errorf("infer input: either a model key or a model id is required")
	}
	if !in.PeriodEnd.After(in.PeriodStart) {
		return fmt.Errorf("infer input: period end must be after period start")
	}
	return nil
}

type Output struct {
	RunID   uuid.UUID `json:"run_id"`
	Status  string    `json:"status"`
	ModelID uuid.UUID `json:"model_id"`
	Version int       `json:"version"`

	TotalRows  int `json:"total_rows"`
	ScoredRows int `json:"scored_rows"`

	OutputDocumentID *uuid.UUID             `json:"output_document_id,omitempty"`
	Summary          map[string]interface{} `json:"summary,omitempty"`
}

// Run scores one period with a registered model. The artifact is reloaded and
// verified on every run; nothing is ever refit here. A period with no records
// is a successful no-op, not an error.
func (p *Pipeline) Run(ctx context.Context, in Input) (Output, error) {
	if err := in.validate(); err != nil {
		return Output{}, err
	}
	dbc := dbctx.Context{Ctx: ctx}

	// The run row exists before model resolution. A scoring attempt against a
	// missing or unresolvable model is still an attempt, and the ledger keeps
	// failed attempts; the model reference is backfilled once resolved.
	run := &types.InferenceRun{
		EntityID:          in.EntityID,
		ModelKey:          in.ModelKey,
		PeriodStart:       in.PeriodStart.UTC(),
		PeriodEnd:         in.PeriodEnd.UTC(),
		ThresholdOverride: in.ThresholdOverride,
	}
	if err := p.deps.Ledger.StartInference(dbc, run); err != nil {
		return Output{}, fmt.Errorf("start inference run: %w", err)
	}
	rlog := runlog.New()

	out := Output{RunID: run.ID, Status: types.RunStatusFailed}
	fail := func(stage string, cause error) (Output, error) {
		if _, ferr := p.deps.Ledger.FinishInferenceFailed(dbc, run, stage, cause); ferr != nil {
			p.log.Error("recording inference failure", "run_id", run.ID.String(), "error", ferr.Error())
		}
		return out, fmt.Errorf("%s: %w", stage, cause)
	}

	model, err := p.resolveModel(dbc, in)
	if err != nil {
		return fail(stageResolveModel, err)
	}
	out.ModelID = model.ID
	out.Version = model.Version
	if err := p.bindModel(dbc, run, model); err != nil {
		return fail(stageResolveModel, err)
	}
	rlog.Event(stageResolveModel, "resolved model", map[string]interface{}{
		"model_id": model.ID.String(),
		"version":  model.Version,
	})

	// One run per (entity, model key, period) at a time, this run's own row
	// excluded. A crashed run that never reached a terminal state blocks
	// retries until the reaper fails it.
	if inflight, err := p.deps.Repos.InferenceRuns.FindRunning(dbc, in.EntityID, model.ModelKey, run.PeriodStart, run.PeriodEnd, run.ID); err != nil {
		return fail(stageResolveModel, err)
	} else if inflight != nil {
		return fail(stageResolveModel, fmt.Errorf("run %s started %s: %w",
			inflight.ID, inflight.StartedAt.Format(time.RFC3339), repos.ErrRunInFlight))
	}

	bundle, err := p.loadArtifact(dbc, model, rlog)
	if err != nil {
		return fail(stageLoadArtifact, err)
	}

	threshold := bundle.Threshold
	thresholdSource := "artifact"
	if in.ThresholdOverride != nil {
		threshold = *in.ThresholdOverride
		thresholdSource = "override"
		p.log.Warn("decision threshold overridden for this run",
			"run_id", run.ID.String(),
			"artifact_threshold", bundle.Threshold,
			"override", threshold,
		)
		rlog.Event(stageScore, "threshold override in effect", map[string]interface{}{
			"artifact_threshold": bundle.Threshold,
			"override":           threshold,
		})
	}

	rows, err := p.deps.Source.FetchRecords(ctx, in.EntityID, in.PeriodStart, in.PeriodEnd)
	if err != nil {
		return fail(stageFetchRecords, err)
	}
	rlog.Event(stageFetchRecords, "fetched operational records", map[string]interface{}{"rows": len(rows)})

	if len(rows) == 0 {
		summary := map[string]interface{}{
			"total_rows":       0,
			"scored_rows":      0,
			"threshold":        threshold,
			"threshold_source": thresholdSource,
		}
		if _, err := p.deps.Ledger.FinishInferenceSuccess(dbc, run, nil, summary); err != nil {
			return fail(stagePersist, err)
		}
		p.log.Info("inference run scored no records", "run_id", run.ID.String())
		return Output{
			RunID:   run.ID,
			Status:  types.RunStatusSuccess,
			ModelID: model.ID,
			Version: model.Version,
			Summary: summary,
		}, nil
	}

	asOf := in.AsOf
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	scored, stats := p.score(bundle, model, run, rows, asOf, threshold)
	if stats.missingColumns() {
		p.log.Warn("records missing expected feature columns; defaults were used",
			"run_id", run.ID.String(),
			"column_counts", stats.MissingColumnRows,
		)
		rlog.Event(stageScore, "missing feature columns degraded to defaults", map[string]interface{}{
			"column_counts": stats.MissingColumnRows,
		})
	}
	rlog.Event(stageScore, "scored records", map[string]interface{}{"rows": len(scored)})

	summary := p.summarize(bundle, scored, stats, threshold, thresholdSource)
	outputDoc, err := p.persist(dbc, in, model, run, scored, summary, rlog)
	if err != nil {
		return fail(stagePersist, err)
	}

	p.log.Info("inference run complete",
		"run_id", run.ID.String(),
		"model_id", model.ID.String(),
		"rows", len(scored),
	)
	return Output{
		RunID:            run.ID,
		Status:           types.RunStatusSuccess,
		ModelID:          model.ID,
		Version:          model.Version,
		TotalRows:        len(rows),
		ScoredRows:       len(scored),
		OutputDocumentID: &outputDoc.ID,
		Summary:          summary,
	}, nil
}

func (p *Pipeline) resolveModel(dbc dbctx.Context, in Input) (*types.ModelVersion, error) {
	if in.ModelID != nil {
		model, err := p.deps.Repos.Models.GetByID(dbc, *in.ModelID)
		if err != nil {
			return nil, err
		}
		if in.ModelKey != "" && model.ModelKey != in.ModelKey {
			return nil, fmt.Errorf("model %s belongs to key %q, not %q", model.ID, model.ModelKey, in.ModelKey)
		}
		if model.EntityID != in.EntityID {
			return nil, fmt.Errorf("model %s belongs to a different entity", model.ID)
		}
		return model, nil
	}
	return p.deps.Repos.Models.ResolveActive(dbc, in.EntityID, in.ModelKey)
}

// bindModel backfills the resolved model onto the run row. The model key is
// written too: when the input pinned a model id the key may have been empty
// at run creation.
func (p *Pipeline) bindModel(dbc dbctx.Context, run *types.InferenceRun, model *types.ModelVersion) error {
	now := time.Now().UTC()
	ok, err := p.deps.Repos.InferenceRuns.UpdateFieldsUnlessStatus(dbc, run.ID,
		[]string{types.RunStatusSuccess, types.RunStatusFailed},
		map[string]interface{}{
			"model_id":   model.ID,
			"model_key":  model.ModelKey,
			"updated_at": now,
		})
	if err != nil {
		return fmt.Errorf("bind model to run: %w", err)
	}
	if !ok {
		return fmt.Errorf("inference run %s was already terminal", run.ID)
	}
	run.ModelID = &model.ID
	run.ModelKey = model.ModelKey
	return nil
}

// loadArtifact re-reads the artifact from the blob store and verifies it:
// object size against the document row, stored digest against the document
// row, decoded bundle validity, and feature spec digest against the
// registered model.
func (p *Pipeline) loadArtifact(dbc dbctx.Context, model *types.ModelVersion, rlog *runlog.Log) (*artifact.Bundle, error) {
	doc, err := p.deps.Repos.Documents.GetByID(dbc, model.ArtifactDocumentID)
	if err != nil {
		return nil, fmt.Errorf("artifact document for model %s: %w", model.ID, err)
	}
	attrs, err := p.deps.CAS.GetObjectAttrs(dbc.Ctx, doc.BlobPath)
	if err != nil {
		return nil, fmt.Errorf("artifact object %s: %w", doc.BlobPath, err)
	}
	if attrs.Size != doc.SizeBytes {
		return nil, fmt.Errorf("artifact %s size mismatch: document %d bytes, stored %d", doc.BlobPath, doc.SizeBytes, attrs.Size)
	}
	data, sha, err := p.deps.CAS.DownloadBytes(dbc.Ctx, doc.BlobPath)
	if err != nil {
		return nil, fmt.Errorf("download artifact %s: %w", doc.BlobPath, err)
	}
	if sha != doc.SHA256 {
		return nil, fmt.Errorf("artifact %s content digest mismatch: document %s, stored %s", doc.BlobPath, doc.SHA256, sha)
	}
	bundle, err := artifact.Decode(data)
	if err != nil {
		return nil, err
	}
	if bundle.Algorithm != model.Algorithm {
		return nil, fmt.Errorf("artifact algorithm %q does not match registered %q", bundle.Algorithm, model.Algorithm)
	}
	if digest := bundle.FeatureSpec.Digest(); digest != model.FeatureSpecDigest {
		return nil, fmt.Errorf("artifact feature spec digest %s does not match registered %s", digest, model.FeatureSpecDigest)
	}
	rlog.Event(stageLoadArtifact, "verified and decoded artifact", map[string]interface{}{
		"sha256":    sha,
		"algorithm": bundle.Algorithm,
	})
	return bundle, nil
}

type scoreStats struct {
	MissingColumnRows map[string]int
	FlaggedRows       int
	ClassCounts       map[string]int
	Probabilities     []float64
}

func (s scoreStats) missingColumns() bool { return len(s.MissingColumnRows) > 0 }

func (p *Pipeline) score(bundle *artifact.Bundle, model *types.ModelVersion, run *types.InferenceRun, rows []feature.Row, asOf time.Time, threshold float64) ([]*types.ScoredRecord, scoreStats) {
	stats := scoreStats{
		MissingColumnRows: map[string]int{},
		ClassCounts:       map[string]int{},
	}
	expected := append(append([]string{}, bundle.FeatureSpec.NumericFeatures...), bundle.FeatureSpec.CategoricalFeatures...)

	now := time.Now().UTC()
	out := make([]*types.ScoredRecord, 0, len(rows))
	for _, row := range rows {
		for _, col := range expected {
			if _, ok := row.Values[col]; !ok {
				stats.MissingColumnRows[col]++
			}
		}
		vec := bundle.FeatureSpec.Encode(row, asOf)
		rec := &types.ScoredRecord{
			ID:             uuid.New(),
			EntityID:       model.EntityID,
			RecordID:       row.RecordID,
			ModelID:        model.ID,
			InferenceRunID: run.ID,
			FeaturesJSON:   mustJSON(bundle.FeatureSpec.FeatureMap(row, asOf)),
			ActualLabel:    row.Label,
			ActualFlag:     row.ActualFlag,
			ScoredAt:       asOf,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		switch bundle.Algorithm {
		case artifact.AlgorithmGBM:
			class, conf := bundle.Classifier.PredictClass(vec)
			rec.PredictedClass = class
			rec.Confidence = conf
			rec.Probability = conf
			stats.ClassCounts[class]++
		case artifact.AlgorithmIsolationForest:
			score := bundle.Detector.Score(vec)
			rec.Probability = score
			rec.PredictedFlag = score >= threshold
			if rec.PredictedFlag {
				stats.FlaggedRows++
			}
		}
		stats.Probabilities = append(stats.Probabilities, rec.Probability)
		out = append(out, rec)
	}
	return out, stats
}

func (p *Pipeline) summarize(bundle *artifact.Bundle, scored []*types.ScoredRecord, stats scoreStats, threshold float64, thresholdSource string) map[string]interface{} {
	summary := map[string]interface{}{
		"total_rows":       len(scored),
		"scored_rows":      len(scored),
		"threshold":        threshold,
		"threshold_source": thresholdSource,
		"probability_p10":  evaluate.Percentile(stats.Probabilities, 10),
		"probability_p50":  evaluate.Percentile(stats.Probabilities, 50),
		"probability_p90":  evaluate.Percentile(stats.Probabilities, 90),
	}
	if len(stats.MissingColumnRows) > 0 {
		summary["missing_column_rows"] = stats.MissingColumnRows
	}
	switch bundle.Algorithm {
	case artifact.AlgorithmGBM:
		summary["class_distribution"] = stats.ClassCounts
	case artifact.AlgorithmIsolationForest:
		summary["flagged_rows"] = stats.FlaggedRows
		summary["flagged_fraction"] = float64(stats.FlaggedRows) / float64(len(scored))
	}
	return summary
}

// persist uploads the output document and then, in one transaction, creates
// its row, upserts the scored records and finalizes the run.
func (p *Pipeline) persist(dbc dbctx.Context, in Input, model *types.ModelVersion, run *types.InferenceRun, scored []*types.ScoredRecord, summary map[string]interface{}, rlog *runlog.Log) (*types.Document, error) {
	csvBytes, err := outputCSV(scored)
	if err != nil {
		return nil, err
	}
	key := gcp.InferenceExportKey(in.EntityID, model.ModelKey, run.ID, "scores.csv")
	put, err := p.deps.CAS.Upload(dbc.Ctx, key, bytes.NewReader(csvBytes), "text/csv")
	if err != nil {
		return nil, fmt.Errorf("upload scores: %w", err)
	}
	rlog.Event(stagePersist, "uploaded output document", map[string]interface{}{
		"blob_path": key,
		"sha256":    put.SHA256,
	})

	doc := &types.Document{
		ID:            uuid.New(),
		EntityID:      in.EntityID,
		BlobContainer: p.deps.CAS.BucketName(),
		BlobPath:      key,
		ContentType:   "text/csv",
		SizeBytes:     put.Size,
		SHA256:        put.SHA256,
		UploadedBy:    "pipeline/infer",
		LinkedType:    types.DocumentLinkedInferenceOutput,
		CreatedAt:     time.Now().UTC(),
	}
	err = p.transact(dbc, func(txc dbctx.Context) error {
		if err := p.deps.Repos.Documents.Create(txc, doc); err != nil {
			return fmt.Errorf("create output document: %w", err)
		}
		if err := p.deps.Repos.ScoredRecords.UpsertMany(txc, scored); err != nil {
			return fmt.Errorf("upsert scored records: %w", err)
		}
		ok, err := p.deps.Ledger.FinishInferenceSuccess(txc, run, &doc.ID, summary)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("inference run %s was already terminal", run.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (p *Pipeline) transact(dbc dbctx.Context, fn func(dbctx.Context) error) error {
	if dbc.Tx != nil {
		return fn(dbc)
	}
	return p.deps.DB.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		return fn(dbc.WithTx(tx))
	})
}
