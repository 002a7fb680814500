package ml

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	AuditTrainingStarted    = "ml.training_started"
	AuditTrainingCompleted  = "ml.training_completed"
	AuditTrainingFailed     = "ml.training_failed"
	AuditModelRegistered    = "ml.model_registered"
	AuditModelPromoted      = "ml.model_promoted"
	AuditModelRetired       = "ml.model_retired"
	AuditInferenceStarted   = "ml.inference_started"
	AuditInferenceCompleted = "ml.inference_completed"
	AuditInferenceFailed    = "ml.inference_failed"
)

// AuditEvent is append-only: one row per lifecycle transition, never updated.
type AuditEvent struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	EntityID  uuid.UUID `gorm:"type:uuid;not null;index" json:"entity_id"`
	EventType string    `gorm:"column:event_type;not null;index" json:"event_type"`

	SubjectType string    `gorm:"column:subject_type;not null" json:"subject_type"`
	SubjectID   uuid.UUID `gorm:"type:uuid;not null;index" json:"subject_id"`

	AfterJSON datatypes.JSON `gorm:"column:after_json;type:jsonb" json:"after_json"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}

func (AuditEvent) TableName() string { return "ml_audit_event" }
