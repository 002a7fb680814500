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

// ErrRunInFlight means another running inference run already claims the same
// model and period.
var ErrRunInFlight = errors.New("an inference run for this model and period is already running")

type InferenceRunRepo interface {
	Create(dbc dbctx.Context, row *types.InferenceRun) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.InferenceRun, error)
	UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, excluded []string, updates map[string]interface{}) (bool, error)
	FindRunning(dbc dbctx.Context, entityID uuid.UUID, modelKey string, periodStart, periodEnd time.Time, excludeRunID uuid.UUID) (*types.InferenceRun, error)
	ListStaleRunning(dbc dbctx.Context, olderThan time.Time, limit int) ([]*types.InferenceRun, error)
}

type inferenceRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewInferenceRunRepo(db *gorm.DB, baseLog *logger.Logger) InferenceRunRepo {
	return &inferenceRunRepo{db: db, log: baseLog.With("repo", "InferenceRunRepo")}
}

func (r *inferenceRunRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *inferenceRunRepo) Create(dbc dbctx.Context, row *types.InferenceRun) error {
	if row == nil {
		return nil
	}
	return r.handle(dbc).WithContext(dbc.Ctx).Create(row).Error
}

func (r *inferenceRunRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.InferenceRun, error) {
	row := &types.InferenceRun{}
	if err := r.handle(dbc).WithContext(dbc.Ctx).Where("id = ?", id).First(row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return row, nil
}

func (r *inferenceRunRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, excluded []string, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil || len(updates) == 0 {
		return false, nil
	}
	q := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.InferenceRun{}).
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

// FindRunning returns the oldest running run claiming the same model key and
// period, excluding the caller's own run row.
func (r *inferenceRunRepo) FindRunning(dbc dbctx.Context, entityID uuid.UUID, modelKey string, periodStart, periodEnd time.Time, excludeRunID uuid.UUID) (*types.InferenceRun, error) {
	row := &types.InferenceRun{}
	q := r.handle(dbc).WithContext(dbc.Ctx).
		Where("entity_id = ? AND model_key = ? AND period_start = ? AND period_end = ? AND status = ?",
			entityID, modelKey, periodStart, periodEnd, types.RunStatusRunning)
	if excludeRunID != uuid.Nil {
		q = q.Where("id <> ?", excludeRunID)
	}
	err := q.Order("started_at ASC").First(row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return row, nil
}

func (r *inferenceRunRepo) ListStaleRunning(dbc dbctx.Context, olderThan time.Time, limit int) ([]*types.InferenceRun, error) {
	if limit <= 0 {
		limit = 100
	}
	out := []*types.InferenceRun{}
	if err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("status = ? AND started_at < ?", types.RunStatusRunning, olderThan).
		Order("started_at ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
