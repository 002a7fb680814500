package ml

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Dataset identifies one materialized training extract: the blob path of the
// CSV plus the content hash the store reported. Immutable once a run refers
// to it, which keeps runs comparable across re-extractions.
type Dataset struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	DatasetKey string    `gorm:"column:dataset_key;not null;index" json:"dataset_key"`
	EntityID   uuid.UUID `gorm:"type:uuid;not null;index" json:"entity_id"`

	BlobPath      string `gorm:"column:blob_path;not null" json:"blob_path"`
	ContentSHA256 string `gorm:"column:content_sha256" json:"content_sha256"`
	RowCount      int    `gorm:"column:row_count" json:"row_count"`

	ParamsJSON datatypes.JSON `gorm:"column:params_json;type:jsonb" json:"params_json"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (Dataset) TableName() string { return "ml_dataset" }
