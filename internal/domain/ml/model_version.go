package ml

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	ModelStatusDraft   = "draft"
	ModelStatusActive  = "active"
	ModelStatusRetired = "retired"
)

const (
	AlgorithmGBM             = "gbm"
	AlgorithmIsolationForest = "isolation_forest"
)

// ModelVersion is one registered, immutable model version per (entity, model
// key). Training only ever creates drafts; promotion is an out-of-band status
// flip. Versions are never deleted so the record of what scored what survives.
type ModelVersion struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	EntityID uuid.UUID `gorm:"type:uuid;not null;index:idx_model_version,unique,priority:1" json:"entity_id"`
	ModelKey string    `gorm:"column:model_key;not null;index:idx_model_version,unique,priority:2" json:"model_key"`
	Version  int       `gorm:"column:version;not null;index:idx_model_version,unique,priority:3" json:"version"`

	Algorithm string `gorm:"not null" json:"algorithm"`
	Status    string `gorm:"not null;default:draft;index" json:"status"`

	ArtifactDocumentID uuid.UUID `gorm:"type:uuid;not null" json:"artifact_document_id"`
	MetricsDocumentID  uuid.UUID `gorm:"type:uuid;not null" json:"metrics_document_id"`

	HyperparamsJSON   datatypes.JSON `gorm:"column:hyperparams_json;type:jsonb" json:"hyperparams_json"`
	FeatureSpecDigest string         `gorm:"column:feature_spec_digest;not null" json:"feature_spec_digest"`

	TrainingDatasetID uuid.UUID `gorm:"type:uuid" json:"training_dataset_id"`
	TrainingRunID     uuid.UUID `gorm:"type:uuid" json:"training_run_id"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (ModelVersion) TableName() string { return "ml_model_version" }
