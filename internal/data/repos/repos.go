package repos

import (
	"gorm.io/gorm"

	"github.com/halcyonops/opsml-backend/internal/data/repos/ml"
	"github.com/halcyonops/opsml-backend/internal/platform/logger"
)

type DatasetRepo = ml.DatasetRepo
type TrainingRunRepo = ml.TrainingRunRepo
type InferenceRunRepo = ml.InferenceRunRepo
type ModelVersionRepo = ml.ModelVersionRepo
type DocumentRepo = ml.DocumentRepo
type AuditEventRepo = ml.AuditEventRepo
type ScoredRecordRepo = ml.ScoredRecordRepo

var (
	ErrModelNotFound    = ml.ErrModelNotFound
	ErrNoActiveModel    = ml.ErrNoActiveModel
	ErrNotPromotable    = ml.ErrNotPromotable
	ErrDocumentNotFound = ml.ErrDocumentNotFound
	ErrDatasetNotFound  = ml.ErrDatasetNotFound
	ErrRunInFlight      = ml.ErrRunInFlight
)

func NewDatasetRepo(db *gorm.DB, baseLog *logger.Logger) DatasetRepo {
	return ml.NewDatasetRepo(db, baseLog)
}
func NewTrainingRunRepo(db *gorm.DB, baseLog *logger.Logger) TrainingRunRepo {
	return ml.NewTrainingRunRepo(db, baseLog)
}
func NewInferenceRunRepo(db *gorm.DB, baseLog *logger.Logger) InferenceRunRepo {
	return ml.NewInferenceRunRepo(db, baseLog)
}
func NewModelVersionRepo(db *gorm.DB, baseLog *logger.Logger) ModelVersionRepo {
	return ml.NewModelVersionRepo(db, baseLog)
}
func NewDocumentRepo(db *gorm.DB, baseLog *logger.Logger) DocumentRepo {
	return ml.NewDocumentRepo(db, baseLog)
}
func NewAuditEventRepo(db *gorm.DB, baseLog *logger.Logger) AuditEventRepo {
	return ml.NewAuditEventRepo(db, baseLog)
}
func NewScoredRecordRepo(db *gorm.DB, baseLog *logger.Logger) ScoredRecordRepo {
	return ml.NewScoredRecordRepo(db, baseLog)
}

// All bundles every repository the pipelines need; cmd wiring builds one.
type All struct {
	Datasets      DatasetRepo
	TrainingRuns  TrainingRunRepo
	InferenceRuns InferenceRunRepo
	Models        ModelVersionRepo
	Documents     DocumentRepo
	AuditEvents   AuditEventRepo
	ScoredRecords ScoredRecordRepo
}

func NewAll(db *gorm.DB, baseLog *logger.Logger) *All {
	return &All{
		Datasets:      NewDatasetRepo(db, baseLog),
		TrainingRuns:  NewTrainingRunRepo(db, baseLog),
		InferenceRuns: NewInferenceRunRepo(db, baseLog),
		Models:        NewModelVersionRepo(db, baseLog),
		Documents:     NewDocumentRepo(db, baseLog),
		AuditEvents:   NewAuditEventRepo(db, baseLog),
		ScoredRecords: NewScoredRecordRepo(db, baseLog),
	}
}
