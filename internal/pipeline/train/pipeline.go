package train

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/halcyonops/opsml-backend/internal/data/repos"
	types "github.com/halcyonops/opsml-backend/internal/domain"
	"github.com/halcyonops/opsml-backend/internal/ml/algo"
	"github.com/halcyonops/opsml-backend/internal/ml/artifact"
	"github.com/halcyonops/opsml-backend/internal/ml/evaluate"
	"github.com/halcyonops/opsml-backend/internal/ml/feature"
	"github.com/halcyonops/opsml-backend/internal/ml/split"
	"github.com/halcyonops/opsml-backend/internal/pipeline/runlog"
	"github.com/halcyonops/opsml-backend/internal/platform/dbctx"
	"github.com/halcyonops/opsml-backend/internal/platform/gcp"
	"github.com/halcyonops/opsml-backend/internal/platform/logger"
	"github.com/halcyonops/opsml-backend/internal/runledger"
)

const (
	stageLoadDataset = "load_dataset"
	stageSplit       = "split"
	stageFeatures    = "features"
	stageFit         = "fit"
	stageEvaluate    = "evaluate"
	stageArtifact    = "artifact"
	stageRegister    = "register"
)

type Deps struct {
	DB     *gorm.DB
	Log    *logger.Logger
	CAS    gcp.CASStore
	Repos  *repos.All
	Ledger *runledger.Recorder
}

type Pipeline struct {
	deps Deps
	log  *logger.Logger
}

func New(deps Deps) *Pipeline {
	return &Pipeline{deps: deps, log: deps.Log.With("pipeline", "train")}
}

// Input identifies what to train on. Either DatasetID references an already
// registered extract, or DatasetBlobPath names a CSV in the blob store that
// this run will register as a new dataset.
type Input struct {
	EntityID  uuid.UUID
	ModelKey  string
	Algorithm string

	// Version 0 means next available for (entity, model key).
	Version int

	DatasetID       uuid.UUID
	DatasetKey      string
	DatasetBlobPath string

	Hyperparams Hyperparams
}

func (in Input) validate() error {
	if in.EntityID == uuid.Nil {
		return fmt.Errorf("train input: entity id is required")
	}
	if in.ModelKey == "" {
		return fmt.Errorf("train input: model key is required")
	}
	if in.DatasetID == uuid.Nil && in.DatasetBlobPath == "" {
		return fmt.Errorf("train input: either a dataset id or a dataset blob path is required")
	}
	return in.Hyperparams.validateFor(in.Algorithm)
}

type Output struct {
	RunID     uuid.UUID `json:"run_id"`
	Status    string    `json:"status"`
	ModelID   uuid.UUID `json:"model_id,omitempty"`
	Version   int       `json:"version,omitempty"`
	DatasetID uuid.UUID `json:"dataset_id,omitempty"`

	ArtifactSHA256 string `json:"artifact_sha256,omitempty"`

	RowCounts map[string]int         `json:"row_counts,omitempty"`
	Metrics   map[string]interface{} `json:"metrics,omitempty"`
}

// Run executes one full training pass: load and verify the dataset, split,
// fit the frozen feature spec on the training partition, fit and evaluate the
// model, then atomically register artifact documents, the draft model version
// and the run's terminal state.
func (p *Pipeline) Run(ctx context.Context, in Input) (Output, error) {
	if err := in.validate(); err != nil {
		return Output{}, err
	}
	h := in.Hyperparams.withDefaults()
	hpJSON, err := json.Marshal(h)
	if err != nil {
		return Output{}, fmt.Errorf("marshal hyperparams: %w", err)
	}

	dbc := dbctx.Context{Ctx: ctx}
	run := &types.TrainingRun{
		EntityID:        in.EntityID,
		ModelKey:        in.ModelKey,
		DatasetID:       in.DatasetID,
		Seed:            h.Seed,
		HyperparamsJSON: datatypes.JSON(hpJSON),
	}
	if err := p.deps.Ledger.StartTraining(dbc, run); err != nil {
		return Output{}, fmt.Errorf("start training run: %w", err)
	}
	rlog := runlog.New()

	fail := func(stage string, cause error) (Output, error) {
		if _, ferr := p.deps.Ledger.FinishTrainingFailed(dbc, run, stage, cause); ferr != nil {
			p.log.Error("recording training failure", "run_id", run.ID.String(), "error", ferr.Error())
		}
		return Output{RunID: run.ID, Status: types.RunStatusFailed}, fmt.Errorf("%s: %w", stage, cause)
	}

	// Load the dataset and pin its content hash.
	ds, rows, err := p.loadDataset(dbc, run, in, rlog)
	if err != nil {
		return fail(stageLoadDataset, err)
	}

	// Deterministic hash split; a training run without train or test data is
	// an extraction problem, not something to paper over.
	parts := map[split.Partition][]feature.Row{}
	for _, row := range rows {
		part := split.Assign(row.RecordID)
		parts[part] = append(parts[part], row)
	}
	rowCounts := map[string]int{
		"total": len(rows),
		"train": len(parts[split.Train]),
		"val":   len(parts[split.Val]),
		"test":  len(parts[split.Test]),
	}
	rlog.Event(stageSplit, "partitioned dataset", map[string]interface{}{"counts": rowCounts})
	if len(parts[split.Train]) == 0 {
		return fail(stageSplit, fmt.Errorf("train partition is empty (%d total rows)", len(rows)))
	}
	if len(parts[split.Test]) == 0 {
		return fail(stageSplit, fmt.Errorf("test partition is empty (%d total rows)", len(rows)))
	}

	// The feature spec is fit on the training partition only. age_hours is
	// anchored at the newest row in the dataset so re-training on the same
	// extract always produces the same matrix.
	asOf := newestCreatedAt(rows)
	spec := feature.Fit(parts[split.Train], h.NumericFeatures, h.CategoricalFeatures)
	rlog.Event(stageFeatures, "fitted feature spec", map[string]interface{}{
		"digest":  spec.Digest(),
		"columns": spec.Columns(),
	})

	bundle := &artifact.Bundle{
		SchemaVersion: artifact.SchemaVersion,
		Algorithm:     in.Algorithm,
		FeatureSpec:   spec,
		Seed:          h.Seed,
	}
	var metricsPayload map[string]interface{}
	switch in.Algorithm {
	case types.AlgorithmGBM:
		metricsPayload, err = p.fitClassifier(bundle, spec, parts, asOf, h, rlog)
	case types.AlgorithmIsolationForest:
		metricsPayload, err = p.fitDetector(bundle, spec, parts, asOf, h, rlog)
	}
	if err != nil {
		return fail(stageFit, err)
	}
	metricsPayload["row_counts"] = rowCounts
	metricsPayload["feature_spec_digest"] = spec.Digest()

	artifactBytes, artifactSHA, err := artifact.Encode(bundle)
	if err != nil {
		return fail(stageArtifact, err)
	}
	rlog.Event(stageArtifact, "encoded artifact", map[string]interface{}{
		"sha256": artifactSHA,
		"bytes":  len(artifactBytes),
	})

	metricsBytes, err := json.Marshal(metricsPayload)
	if err != nil {
		return fail(stageArtifact, fmt.Errorf("marshal metrics: %w", err))
	}

	model, err := p.register(dbc, run, in, ds, artifactBytes, artifactSHA, metricsBytes, spec.Digest(), hpJSON, rlog)
	if err != nil {
		return fail(stageRegister, err)
	}

	p.log.Info("training run complete",
		"run_id", run.ID.String(),
		"model_id", model.ID.String(),
		"version", model.Version,
		"artifact_sha256", artifactSHA,
	)
	return Output{
		RunID:          run.ID,
		Status:         types.RunStatusSuccess,
		ModelID:        model.ID,
		Version:        model.Version,
		DatasetID:      model.TrainingDatasetID,
		ArtifactSHA256: artifactSHA,
		RowCounts:      rowCounts,
		Metrics:        metricsPayload,
	}, nil
}

func (p *Pipeline) loadDataset(dbc dbctx.Context, run *types.TrainingRun, in Input, rlog *runlog.Log) (*types.Dataset, []feature.Row, error) {
	var ds *types.Dataset
	blobPath := in.DatasetBlobPath
	if in.DatasetID != uuid.Nil {
		existing, err := p.deps.Repos.Datasets.GetByID(dbc, in.DatasetID)
		if err != nil {
			return nil, nil, err
		}
		ds = existing
		blobPath = ds.BlobPath
	}

	data, sha, err := p.deps.CAS.DownloadBytes(dbc.Ctx, blobPath)
	if err != nil {
		return nil, nil, fmt.Errorf("download dataset %s: %w", blobPath, err)
	}
	if ds != nil && ds.ContentSHA256 != "" && ds.ContentSHA256 != sha {
		return nil, nil, fmt.Errorf("dataset %s content hash mismatch: registered %s, downloaded %s", ds.ID, ds.ContentSHA256, sha)
	}

	rows, err := ParseDatasetCSV(data)
	if err != nil {
		return nil, nil, err
	}
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("dataset %s has no rows", blobPath)
	}

	if ds == nil {
		key := in.DatasetKey
		if key == "" {
			key = fmt.Sprintf("%s-%s", in.ModelKey, sha[:12])
		}
		ds = &types.Dataset{
			ID:            uuid.New(),
			DatasetKey:    key,
			EntityID:      in.EntityID,
			BlobPath:      blobPath,
			ContentSHA256: sha,
			RowCount:      len(rows),
			CreatedAt:     time.Now().UTC(),
		}
		if err := p.deps.Repos.Datasets.Create(dbc, ds); err != nil {
			return nil, nil, fmt.Errorf("register dataset: %w", err)
		}
		if _, err := p.deps.Repos.TrainingRuns.UpdateFieldsUnlessStatus(dbc, run.ID,
			[]string{types.RunStatusSuccess, types.RunStatusFailed},
			map[string]interface{}{"dataset_id": ds.ID}); err != nil {
			return nil, nil, err
		}
		run.DatasetID = ds.ID
	}

	rlog.Event(stageLoadDataset, "loaded dataset", map[string]interface{}{
		"dataset_id": ds.ID.String(),
		"blob_path":  blobPath,
		"sha256":     sha,
		"rows":       len(rows),
	})
	return ds, rows, nil
}

func (p *Pipeline) fitClassifier(bundle *artifact.Bundle, spec feature.Spec, parts map[split.Partition][]feature.Row, asOf time.Time, h Hyperparams, rlog *runlog.Log) (map[string]interface{}, error) {
	trainRows, trainSkipped := labeledOnly(parts[split.Train])
	if len(trainRows) == 0 {
		return nil, fmt.Errorf("no labeled rows in the train partition")
	}
	labels := make([]string, len(trainRows))
	for i, r := range trainRows {
		labels[i] = r.Label
	}

	if minority := evaluate.MinorityClasses(labels, minorityShareThreshold); len(minority) > 0 {
		p.log.Warn("classes under-represented in training labels", "classes", minority)
		rlog.Event(stageFit, "class balance warning", map[string]interface{}{
			"minority_classes": minority,
			"shares":           evaluate.ClassShares(labels),
		})
	}

	clf, err := algo.FitGBM(spec.EncodeAll(trainRows, asOf), labels, algo.GBMParams{
		NumRounds:    h.NumRounds,
		LearningRate: h.LearningRate,
		MaxDepth:     h.MaxDepth,
		MinLeaf:      h.MinLeaf,
		Subsample:    h.Subsample,
		Seed:         h.Seed,
	})
	if err != nil {
		return nil, err
	}
	bundle.Classifier = clf
	rlog.Event(stageFit, "fitted classifier", map[string]interface{}{
		"classes":         clf.Classes,
		"rounds":          len(clf.Rounds),
		"train_unlabeled": trainSkipped,
		"train_rows_used": len(trainRows),
	})

	// Held-out evaluation on the test partition. Labels unseen in training
	// cannot be predicted and are excluded from the report, but counted.
	known := map[string]bool{}
	for _, c := range clf.Classes {
		known[c] = true
	}
	testRows, testSkipped := labeledOnly(parts[split.Test])
	var yTrue, yPred []string
	unknownLabelRows := 0
	for _, r := range testRows {
		if !known[r.Label] {
			unknownLabelRows++
			continue
		}
		pred, _ := clf.PredictClass(spec.Encode(r, asOf))
		yTrue = append(yTrue, r.Label)
		yPred = append(yPred, pred)
	}
	if len(yTrue) == 0 {
		return nil, fmt.Errorf("no usable labeled rows in the test partition")
	}
	report, err := evaluate.Classify(yTrue, yPred, clf.Classes)
	if err != nil {
		return nil, err
	}
	rlog.Event(stageEvaluate, "evaluated on held-out test partition", map[string]interface{}{
		"accuracy": report.Accuracy,
		"macro_f1": report.MacroF1,
	})

	return map[string]interface{}{
		"algorithm":               types.AlgorithmGBM,
		"report":                  report,
		"train_class_shares":      evaluate.ClassShares(labels),
		"train_unlabeled_rows":    trainSkipped,
		"test_unlabeled_rows":     testSkipped,
		"test_unknown_label_rows": unknownLabelRows,
	}, nil
}

func (p *Pipeline) fitDetector(bundle *artifact.Bundle, spec feature.Spec, parts map[split.Partition][]feature.Row, asOf time.Time, h Hyperparams, rlog *runlog.Log) (map[string]interface{}, error) {
	trainRows := parts[split.Train]
	X := spec.EncodeAll(trainRows, asOf)
	forest, err := algo.FitIsolationForest(X, algo.IsolationForestParams{
		NumTrees:   h.NumTrees,
		SampleSize: h.SampleSize,
		Seed:       h.Seed,
	})
	if err != nil {
		return nil, err
	}
	bundle.Detector = forest

	// The decision threshold is the score percentile implied by the expected
	// contamination rate, computed on the training scores.
	scores := forest.ScoreAll(X)
	threshold := evaluate.Percentile(scores, 100*(1-h.Contamination))
	bundle.Threshold = threshold

	flagged := 0
	for _, s := range scores {
		if s >= threshold {
			flagged++
		}
	}
	rlog.Event(stageFit, "fitted isolation forest", map[string]interface{}{
		"trees":      len(forest.Trees),
		"threshold":  threshold,
		"train_rows": len(trainRows),
	})

	// Held-out check: score the test partition with the frozen threshold. The
	// forest is unsupervised, so the report is score distribution drift rather
	// than accuracy, but it still requires a non-empty test partition.
	testRows := parts[split.Test]
	testScores := forest.ScoreAll(spec.EncodeAll(testRows, asOf))
	testFlagged := 0
	for _, s := range testScores {
		if s >= threshold {
			testFlagged++
		}
	}
	rlog.Event(stageEvaluate, "scored held-out test partition", map[string]interface{}{
		"test_rows":    len(testRows),
		"test_flagged": testFlagged,
	})

	return map[string]interface{}{
		"algorithm":              types.AlgorithmIsolationForest,
		"threshold":              threshold,
		"contamination":          h.Contamination,
		"train_score_p50":        evaluate.Percentile(scores, 50),
		"train_score_p90":        evaluate.Percentile(scores, 90),
		"train_score_p99":        evaluate.Percentile(scores, 99),
		"train_flagged_fraction": float64(flagged) / float64(len(scores)),
		"test_score_p50":         evaluate.Percentile(testScores, 50),
		"test_score_p90":         evaluate.Percentile(testScores, 90),
		"test_flagged_fraction":  float64(testFlagged) / float64(len(testScores)),
	}, nil
}

// register uploads the three run documents and then, in one transaction,
// creates their rows, the draft model version, the registration audit event
// and the run's terminal success state.
func (p *Pipeline) register(dbc dbctx.Context, run *types.TrainingRun, in Input, ds *types.Dataset, artifactBytes []byte, artifactSHA string, metricsBytes []byte, specDigest string, hpJSON []byte, rlog *runlog.Log) (*types.ModelVersion, error) {
	type blob struct {
		name       string
		data       []byte
		linkedType string
		put        gcp.PutResult
	}
	rlog.Event(stageRegister, "uploading run documents", nil)
	logsBytes, err := rlog.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal run log: %w", err)
	}
	blobs := []*blob{
		{name: "artifact.json", data: artifactBytes, linkedType: types.DocumentLinkedArtifact},
		{name: "metrics.json", data: metricsBytes, linkedType: types.DocumentLinkedMetrics},
		{name: "training_log.json", data: logsBytes, linkedType: types.DocumentLinkedLogs},
	}
	for _, b := range blobs {
		key := gcp.ModelExportKey(in.EntityID, in.ModelKey, run.ID, b.name)
		put, err := p.deps.CAS.Upload(dbc.Ctx, key, bytes.NewReader(b.data), "application/json")
		if err != nil {
			return nil, fmt.Errorf("upload %s: %w", b.name, err)
		}
		b.put = put
	}
	if blobs[0].put.SHA256 != artifactSHA {
		return nil, fmt.Errorf("artifact digest mismatch after upload: encoded %s, stored %s", artifactSHA, blobs[0].put.SHA256)
	}

	// The draft model row must never point at blobs the store cannot list
	// back; registration only proceeds once every upload is visible.
	stored, err := p.deps.CAS.ListKeys(dbc.Ctx, gcp.ModelExportKey(in.EntityID, in.ModelKey, run.ID, ""))
	if err != nil {
		return nil, fmt.Errorf("list run exports: %w", err)
	}
	visible := make(map[string]bool, len(stored))
	for _, k := range stored {
		visible[k] = true
	}
	for _, b := range blobs {
		if key := gcp.ModelExportKey(in.EntityID, in.ModelKey, run.ID, b.name); !visible[key] {
			return nil, fmt.Errorf("uploaded blob %s is not visible in the store", key)
		}
	}

	var model *types.ModelVersion
	err = p.transact(dbc, func(txc dbctx.Context) error {
		now := time.Now().UTC()
		docIDs := make([]uuid.UUID, len(blobs))
		for i, b := range blobs {
			doc := &types.Document{
				ID:            uuid.New(),
				EntityID:      in.EntityID,
				BlobContainer: p.deps.CAS.BucketName(),
				BlobPath:      gcp.ModelExportKey(in.EntityID, in.ModelKey, run.ID, b.name),
				ContentType:   "application/json",
				SizeBytes:     b.put.Size,
				SHA256:        b.put.SHA256,
				UploadedBy:    "pipeline/train",
				LinkedType:    b.linkedType,
				CreatedAt:     now,
			}
			if err := p.deps.Repos.Documents.Create(txc, doc); err != nil {
				return fmt.Errorf("create %s document: %w", b.linkedType, err)
			}
			docIDs[i] = doc.ID
		}

		version := in.Version
		if version <= 0 {
			next, err := p.deps.Repos.Models.NextVersion(txc, in.EntityID, in.ModelKey)
			if err != nil {
				return err
			}
			version = next
		}
		model = &types.ModelVersion{
			ID:                 uuid.New(),
			EntityID:           in.EntityID,
			ModelKey:           in.ModelKey,
			Version:            version,
			Algorithm:          in.Algorithm,
			Status:             types.ModelStatusDraft,
			ArtifactDocumentID: docIDs[0],
			MetricsDocumentID:  docIDs[1],
			HyperparamsJSON:    datatypes.JSON(hpJSON),
			FeatureSpecDigest:  specDigest,
			TrainingDatasetID:  ds.ID,
			TrainingRunID:      run.ID,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := p.deps.Repos.Models.Create(txc, model); err != nil {
			return fmt.Errorf("register model version %d: %w", version, err)
		}
		if err := p.deps.Ledger.ModelEvent(txc, types.AuditModelRegistered, model); err != nil {
			return err
		}
		ok, err := p.deps.Ledger.FinishTrainingSuccess(txc, run, docIDs[0], docIDs[1], docIDs[2])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("training run %s was already terminal", run.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return model, nil
}

func (p *Pipeline) transact(dbc dbctx.Context, fn func(dbctx.Context) error) error {
	if dbc.Tx != nil {
		return fn(dbc)
	}
	return p.deps.DB.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		return fn(dbc.WithTx(tx))
	})
}

func labeledOnly(rows []feature.Row) ([]feature.Row, int) {
	out := make([]feature.Row, 0, len(rows))
	skipped := 0
	for _, r := range rows {
		if r.Label == "" {
			skipped++
			continue
		}
		out = append(out, r)
	}
	return out, skipped
}

func newestCreatedAt(rows []feature.Row) time.Time {
	var newest time.Time
	for _, r := range rows {
		if r.CreatedAt.After(newest) {
			newest = r.CreatedAt
		}
	}
	return newest
}
