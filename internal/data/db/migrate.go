package db

import (
	"gorm.io/gorm"

	types "github.com/halcyonops/opsml-backend/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(

		// =========================
		// Datasets + documents (CAS pointers)
		// =========================
		&types.Dataset{},
		&types.Document{},

		// =========================
		// Run ledger
		// =========================
		&types.TrainingRun{},
		&types.InferenceRun{},

		// =========================
		// Registry + scores + audit
		// =========================
		&types.ModelVersion{},
		&types.ScoredRecord{},
		&types.AuditEvent{},
	)
}
