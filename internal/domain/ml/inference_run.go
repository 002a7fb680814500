package ml

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// InferenceRun records one scoring pass over an entity's period. Terminal-state
// discipline matches TrainingRun. ThresholdOverride is persisted so a
// misconfigured override is traceable after the fact. ModelID is nullable
// because the run row is created before model resolution: a run that failed to
// resolve a model still leaves its row and audit events behind.
type InferenceRun struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	EntityID uuid.UUID  `gorm:"type:uuid;not null;index" json:"entity_id"`
	ModelID  *uuid.UUID `gorm:"type:uuid;index" json:"model_id,omitempty"`
	ModelKey string     `gorm:"column:model_key;index" json:"model_key"`

	PeriodStart time.Time `gorm:"not null" json:"period_start"`
	PeriodEnd   time.Time `gorm:"not null" json:"period_end"`

	Status string `gorm:"not null;default:running;index" json:"status"`
	Stage  string `gorm:"column:stage" json:"stage"`

	ThresholdOverride *float64 `gorm:"column:threshold_override" json:"threshold_override,omitempty"`

	OutputDocumentID *uuid.UUID     `gorm:"type:uuid" json:"output_document_id,omitempty"`
	SummaryJSON      datatypes.JSON `gorm:"column:summary_json;type:jsonb" json:"summary_json,omitempty"`

	Error string `gorm:"column:error" json:"error,omitempty"`

	StartedAt  time.Time  `gorm:"not null" json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (InferenceRun) TableName() string { return "ml_inference_run" }
