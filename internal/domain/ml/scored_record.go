package ml

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ScoredRecord is the upsert target for inference output: the latest score per
// (entity, record, model). InferenceRunID tells which pass last wrote the row;
// prior passes stay reconstructable through their run and output documents.
type ScoredRecord struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	EntityID uuid.UUID `gorm:"type:uuid;not null;index:idx_scored_record,unique,priority:1" json:"entity_id"`
	RecordID string    `gorm:"column:record_id;not null;index:idx_scored_record,unique,priority:2" json:"record_id"`
	ModelID  uuid.UUID `gorm:"type:uuid;not null;index:idx_scored_record,unique,priority:3" json:"model_id"`

	InferenceRunID uuid.UUID `gorm:"type:uuid;not null;index" json:"inference_run_id"`

	PredictedClass string  `gorm:"column:predicted_class" json:"predicted_class,omitempty"`
	Confidence     float64 `gorm:"column:confidence" json:"confidence"`

	Probability   float64 `gorm:"column:probability" json:"probability"`
	PredictedFlag bool    `gorm:"column:predicted_flag" json:"predicted_flag"`

	// Feature values actually fed to the model, kept for drift/debug analysis.
	FeaturesJSON datatypes.JSON `gorm:"column:features_json;type:jsonb" json:"features_json"`

	// Ground truth snapshotted from the live system at scoring time, if present.
	ActualLabel string `gorm:"column:actual_label" json:"actual_label,omitempty"`
	ActualFlag  *bool  `gorm:"column:actual_flag" json:"actual_flag,omitempty"`

	ScoredAt time.Time `gorm:"not null" json:"scored_at"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (ScoredRecord) TableName() string { return "ml_scored_record" }
