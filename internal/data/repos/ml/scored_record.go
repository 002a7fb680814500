package ml

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/halcyonops/opsml-backend/internal/domain"
	"github.com/halcyonops/opsml-backend/internal/platform/dbctx"
	"github.com/halcyonops/opsml-backend/internal/platform/logger"
)

type ScoredRecordRepo interface {
	// UpsertMany writes scores keyed on (entity_id, record_id, model_id):
	// re-scoring the same records overwrites, it never duplicates.
	UpsertMany(dbc dbctx.Context, rows []*types.ScoredRecord) error
	GetCurrent(dbc dbctx.Context, entityID uuid.UUID, recordID string, modelID uuid.UUID) (*types.ScoredRecord, error)
	ListByRun(dbc dbctx.Context, runID uuid.UUID) ([]*types.ScoredRecord, error)
	CountByRun(dbc dbctx.Context, runID uuid.UUID) (int64, error)
}

type scoredRecordRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewScoredRecordRepo(db *gorm.DB, baseLog *logger.Logger) ScoredRecordRepo {
	return &scoredRecordRepo{db: db, log: baseLog.With("repo", "ScoredRecordRepo")}
}

func (r *scoredRecordRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *scoredRecordRepo) UpsertMany(dbc dbctx.Context, rows []*types.ScoredRecord) error {
	if len(rows) == 0 {
		return nil
	}
	return r.handle(dbc).WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "entity_id"}, {Name: "record_id"}, {Name: "model_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"inference_run_id",
				"predicted_class",
				"confidence",
				"probability",
				"predicted_flag",
				"features_json",
				"actual_label",
				"actual_flag",
				"scored_at",
				"updated_at",
			}),
		}).
		Create(rows).Error
}

func (r *scoredRecordRepo) GetCurrent(dbc dbctx.Context, entityID uuid.UUID, recordID string, modelID uuid.UUID) (*types.ScoredRecord, error) {
	row := &types.ScoredRecord{}
	if err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("entity_id = ? AND record_id = ? AND model_id = ?", entityID, recordID, modelID).
		First(row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return row, nil
}

func (r *scoredRecordRepo) ListByRun(dbc dbctx.Context, runID uuid.UUID) ([]*types.ScoredRecord, error) {
	out := []*types.ScoredRecord{}
	if err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("inference_run_id = ?", runID).
		Order("record_id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *scoredRecordRepo) CountByRun(dbc dbctx.Context, runID uuid.UUID) (int64, error) {
	var n int64
	if err := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.ScoredRecord{}).
		Where("inference_run_id = ?", runID).
		Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
