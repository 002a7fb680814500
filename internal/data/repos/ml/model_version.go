package ml

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/halcyonops/opsml-backend/internal/domain"
	"github.com/halcyonops/opsml-backend/internal/platform/dbctx"
	"github.com/halcyonops/opsml-backend/internal/platform/logger"
)

// Resolution failures are typed so callers branch explicitly instead of
// pattern-matching error strings.
var (
	ErrModelNotFound = errors.New("model version not found")
	ErrNoActiveModel = errors.New("no active model for entity/model key")
	ErrNotPromotable = errors.New("model version is not in a promotable status")
)

type ModelVersionRepo interface {
	Create(dbc dbctx.Context, row *types.ModelVersion) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ModelVersion, error)
	// ResolveActive returns the active version with the highest version number
	// for (entity, model key), or ErrNoActiveModel. More than one active row is
	// an operational error: it is logged loudly and the highest version wins,
	// so resolution stays deterministic rather than silently arbitrary.
	ResolveActive(dbc dbctx.Context, entityID uuid.UUID, modelKey string) (*types.ModelVersion, error)
	NextVersion(dbc dbctx.Context, entityID uuid.UUID, modelKey string) (int, error)
	ListByKey(dbc dbctx.Context, entityID uuid.UUID, modelKey string, limit int) ([]*types.ModelVersion, error)
	// Promote flips a draft (or retired) version to active and retires the
	// previously active version of the same key in one transaction.
	Promote(dbc dbctx.Context, id uuid.UUID) (promoted *types.ModelVersion, retired *types.ModelVersion, err error)
	Retire(dbc dbctx.Context, id uuid.UUID) (*types.ModelVersion, error)
}

type modelVersionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewModelVersionRepo(db *gorm.DB, baseLog *logger.Logger) ModelVersionRepo {
	return &modelVersionRepo{db: db, log: baseLog.With("repo", "ModelVersionRepo")}
}

func (r *modelVersionRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *modelVersionRepo) Create(dbc dbctx.Context, row *types.ModelVersion) error {
	if row == nil || strings.TrimSpace(row.ModelKey) == "" {
		return fmt.Errorf("model version row requires a model key")
	}
	return r.handle(dbc).WithContext(dbc.Ctx).Create(row).Error
}

func (r *modelVersionRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ModelVersion, error) {
	row := &types.ModelVersion{}
	if err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("id = ?", id).
		First(row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrModelNotFound
		}
		return nil, err
	}
	return row, nil
}

func (r *modelVersionRepo) ResolveActive(dbc dbctx.Context, entityID uuid.UUID, modelKey string) (*types.ModelVersion, error) {
	modelKey = strings.TrimSpace(modelKey)
	rows := []*types.ModelVersion{}
	if err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("entity_id = ? AND model_key = ? AND status = ?", entityID, modelKey, types.ModelStatusActive).
		Order("version DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoActiveModel
	}
	if len(rows) > 1 {
		r.log.Error("multiple active model versions for one model key; resolver picked highest version",
			"entity_id", entityID,
			"model_key", modelKey,
			"active_count", len(rows),
			"picked_version", rows[0].Version,
		)
	}
	return rows[0], nil
}

func (r *modelVersionRepo) NextVersion(dbc dbctx.Context, entityID uuid.UUID, modelKey string) (int, error) {
	modelKey = strings.TrimSpace(modelKey)
	row := &types.ModelVersion{}
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("entity_id = ? AND model_key = ?", entityID, modelKey).
		Order("version DESC").
		Limit(1).
		First(row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 1, nil
		}
		return 0, err
	}
	return row.Version + 1, nil
}

func (r *modelVersionRepo) ListByKey(dbc dbctx.Context, entityID uuid.UUID, modelKey string, limit int) ([]*types.ModelVersion, error) {
	modelKey = strings.TrimSpace(modelKey)
	out := []*types.ModelVersion{}
	if modelKey == "" {
		return out, nil
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("entity_id = ? AND model_key = ?", entityID, modelKey).
		Order("version DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *modelVersionRepo) Promote(dbc dbctx.Context, id uuid.UUID) (*types.ModelVersion, *types.ModelVersion, error) {
	var promoted, retired *types.ModelVersion
	run := func(tx *gorm.DB) error {
		row := &types.ModelVersion{}
		if err := tx.WithContext(dbc.Ctx).Where("id = ?", id).First(row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrModelNotFound
			}
			return err
		}
		if row.Status == types.ModelStatusActive {
			return ErrNotPromotable
		}

		prev := &types.ModelVersion{}
		err := tx.WithContext(dbc.Ctx).
			Where("entity_id = ? AND model_key = ? AND status = ?", row.EntityID, row.ModelKey, types.ModelStatusActive).
			Order("version DESC").
			First(prev).Error
		switch {
		case err == nil:
			if err := tx.WithContext(dbc.Ctx).
				Model(&types.ModelVersion{}).
				Where("id = ?", prev.ID).
				Update("status", types.ModelStatusRetired).Error; err != nil {
				return err
			}
			prev.Status = types.ModelStatusRetired
			retired = prev
		case errors.Is(err, gorm.ErrRecordNotFound):
			// first promotion for this key
		default:
			return err
		}

		if err := tx.WithContext(dbc.Ctx).
			Model(&types.ModelVersion{}).
			Where("id = ?", row.ID).
			Update("status", types.ModelStatusActive).Error; err != nil {
			return err
		}
		row.Status = types.ModelStatusActive
		promoted = row
		return nil
	}

	var err error
	if dbc.Tx != nil {
		err = run(dbc.Tx)
	} else {
		err = r.db.WithContext(dbc.Ctx).Transaction(run)
	}
	if err != nil {
		return nil, nil, err
	}
	return promoted, retired, nil
}

func (r *modelVersionRepo) Retire(dbc dbctx.Context, id uuid.UUID) (*types.ModelVersion, error) {
	row := &types.ModelVersion{}
	if err := r.handle(dbc).WithContext(dbc.Ctx).Where("id = ?", id).First(row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrModelNotFound
		}
		return nil, err
	}
	if err := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.ModelVersion{}).
		Where("id = ?", id).
		Update("status", types.ModelStatusRetired).Error; err != nil {
		return nil, err
	}
	row.Status = types.ModelStatusRetired
	return row, nil
}
