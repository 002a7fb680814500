package ml

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
)

// TrainingRun is the ledger row for one training invocation. Created with
// status=running, it takes exactly one terminal update and is immutable after.
type TrainingRun struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	EntityID uuid.UUID `gorm:"type:uuid;not null;index" json:"entity_id"`
	ModelKey string    `gorm:"column:model_key;not null;index" json:"model_key"`

	DatasetID uuid.UUID `gorm:"type:uuid" json:"dataset_id"`

	Status string `gorm:"not null;default:running;index" json:"status"`
	Stage  string `gorm:"column:stage" json:"stage"`

	Seed            int64          `gorm:"column:seed" json:"seed"`
	HyperparamsJSON datatypes.JSON `gorm:"column:hyperparams_json;type:jsonb" json:"hyperparams_json"`

	ArtifactDocumentID *uuid.UUID `gorm:"type:uuid" json:"artifact_document_id,omitempty"`
	MetricsDocumentID  *uuid.UUID `gorm:"type:uuid" json:"metrics_document_id,omitempty"`
	LogsDocumentID     *uuid.UUID `gorm:"type:uuid" json:"logs_document_id,omitempty"`

	Error string `gorm:"column:error" json:"error,omitempty"`

	StartedAt  time.Time  `gorm:"not null" json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (TrainingRun) TableName() string { return "ml_training_run" }
