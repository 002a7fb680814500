package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/halcyonops/opsml-backend/internal/domain"
)

func SeedDocument(tb testing.TB, ctx context.Context, tx *gorm.DB, entityID uuid.UUID, linkedType string) *types.Document {
	tb.Helper()
	d := &types.Document{
		ID:            uuid.New(),
		EntityID:      entityID,
		BlobContainer: "exports",
		BlobPath:      "exports/" + entityID.String() + "/ml/models/k/" + uuid.NewString() + "/blob.json",
		ContentType:   "application/json",
		SizeBytes:     42,
		SHA256:        "deadbeef",
		UploadedBy:    "test",
		LinkedType:    linkedType,
		CreatedAt:     time.Now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(d).Error; err != nil {
		tb.Fatalf("seed document: %v", err)
	}
	return d
}

func SeedModelVersion(tb testing.TB, ctx context.Context, tx *gorm.DB, entityID uuid.UUID, modelKey string, version int, status string) *types.ModelVersion {
	tb.Helper()
	artifact := SeedDocument(tb, ctx, tx, entityID, types.DocumentLinkedArtifact)
	metrics := SeedDocument(tb, ctx, tx, entityID, types.DocumentLinkedMetrics)
	m := &types.ModelVersion{
		ID:                 uuid.New(),
		EntityID:           entityID,
		ModelKey:           modelKey,
		Version:            version,
		Algorithm:          types.AlgorithmGBM,
		Status:             status,
		ArtifactDocumentID: artifact.ID,
		MetricsDocumentID:  metrics.ID,
		HyperparamsJSON:    datatypes.JSON([]byte("{}")),
		FeatureSpecDigest:  "spec-digest",
		CreatedAt:          time.Now().UTC(),
		UpdatedAt:          time.Now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(m).Error; err != nil {
		tb.Fatalf("seed model version: %v", err)
	}
	return m
}

func SeedTrainingRun(tb testing.TB, ctx context.Context, tx *gorm.DB, entityID uuid.UUID, modelKey, status string, startedAt time.Time) *types.TrainingRun {
	tb.Helper()
	r := &types.TrainingRun{
		ID:              uuid.New(),
		EntityID:        entityID,
		ModelKey:        modelKey,
		Status:          status,
		HyperparamsJSON: datatypes.JSON([]byte("{}")),
		StartedAt:       startedAt,
		CreatedAt:       startedAt,
		UpdatedAt:       startedAt,
	}
	if err := tx.WithContext(ctx).Create(r).Error; err != nil {
		tb.Fatalf("seed training run: %v", err)
	}
	return r
}

func SeedInferenceRun(tb testing.TB, ctx context.Context, tx *gorm.DB, entityID, modelID uuid.UUID, modelKey, status string, startedAt time.Time) *types.InferenceRun {
	tb.Helper()
	r := &types.InferenceRun{
		ID:          uuid.New(),
		EntityID:    entityID,
		ModelID:     &modelID,
		ModelKey:    modelKey,
		PeriodStart: startedAt.Add(-24 * time.Hour),
		PeriodEnd:   startedAt,
		Status:      status,
		StartedAt:   startedAt,
		CreatedAt:   startedAt,
		UpdatedAt:   startedAt,
	}
	if err := tx.WithContext(ctx).Create(r).Error; err != nil {
		tb.Fatalf("seed inference run: %v", err)
	}
	return r
}
