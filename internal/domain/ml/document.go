package ml

import (
	"time"

	"github.com/google/uuid"
)

const (
	DocumentLinkedArtifact        = "ml.artifact"
	DocumentLinkedMetrics         = "ml.metrics"
	DocumentLinkedLogs            = "ml.logs"
	DocumentLinkedInferenceOutput = "ml.inference_output"
	DocumentLinkedTrainingDataset = "ml.training_dataset"
)

// Document is a CAS pointer row: where a blob lives plus the content hash and
// size the store reported when it was written. Immutable once created.
type Document struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	EntityID uuid.UUID `gorm:"type:uuid;not null;index" json:"entity_id"`

	BlobContainer string `gorm:"column:blob_container;not null" json:"blob_container"`
	BlobPath      string `gorm:"column:blob_path;not null" json:"blob_path"`
	ContentType   string `gorm:"column:content_type" json:"content_type"`

	SizeBytes int64  `gorm:"column:size_bytes;not null" json:"size_bytes"`
	SHA256    string `gorm:"column:sha256;not null;index" json:"sha256"`

	UploadedBy string `gorm:"column:uploaded_by" json:"uploaded_by"`
	LinkedType string `gorm:"column:linked_type;index" json:"linked_type"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (Document) TableName() string { return "ml_document" }
