package ml

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/halcyonops/opsml-backend/internal/domain"
	"github.com/halcyonops/opsml-backend/internal/platform/dbctx"
	"github.com/halcyonops/opsml-backend/internal/platform/logger"
)

type TrainingRunRepo interface {
	Create(dbc dbctx.Context, row *types.TrainingRun) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.TrainingRun, error)
	// UpdateFieldsUnlessStatus applies updates unless the row is already in one
	// of the excluded statuses. Guarding on terminal statuses is what enforces
	// the single-terminal-transition invariant at the storage layer.
	UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, excluded []string, updates map[string]interface{}) (bool, error)
	ListStaleRunning(dbc dbctx.Context, olderThan time.Time, limit int) ([]*types.TrainingRun, error)
}

type trainingRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTrainingRunRepo(db *gorm.DB, baseLog *logger.Logger) TrainingRunRepo {
	return &trainingRunRepo{db: db, log: baseLog.With("repo", "TrainingRunRepo")}
}

func (r *trainingRunRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *trainingRunRepo) Create(dbc dbctx.Context, row *types.TrainingRun) error {
	if row == nil {
		return nil
	}
	return r.handle(dbc).WithContext(dbc.Ctx).Create(row).Error
}

func (r *trainingRunRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.TrainingRun, error) {
	row := &types.TrainingRun{}
	if err := r.handle(dbc).WithContext(dbc.Ctx).Where("id = ?", id).First(row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return row, nil
}

func (r *trainingRunRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, excluded []string, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil || len(updates) == 0 {
		return false, nil
	}
	q := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.TrainingRun{}).
		Where("id = ?", id)
	if len(excluded) > 0 {
		q = q.Where("status NOT IN ?", excluded)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *trainingRunRepo) ListStaleRunning(dbc dbctx.Context, olderThan time.Time, limit int) ([]*types.TrainingRun, error) {
	if limit <= 0 {
		limit = 100
	}
	out := []*types.TrainingRun{}
	if err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("status = ? AND started_at < ?", types.RunStatusRunning, olderThan).
		Order("started_at ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
