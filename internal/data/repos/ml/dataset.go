package ml

import (
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/halcyonops/opsml-backend/internal/domain"
	"github.com/halcyonops/opsml-backend/internal/platform/dbctx"
	"github.com/halcyonops/opsml-backend/internal/platform/logger"
)

var ErrDatasetNotFound = errors.New("dataset not found")

type DatasetRepo interface {
	Create(dbc dbctx.Context, row *types.Dataset) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Dataset, error)
	GetByKey(dbc dbctx.Context, entityID uuid.UUID, datasetKey string) (*types.Dataset, error)
}

type datasetRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDatasetRepo(db *gorm.DB, baseLog *logger.Logger) DatasetRepo {
	return &datasetRepo{db: db, log: baseLog.With("repo", "DatasetRepo")}
}

func (r *datasetRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *datasetRepo) Create(dbc dbctx.Context, row *types.Dataset) error {
	if row == nil || strings.TrimSpace(row.DatasetKey) == "" {
		return nil
	}
	return r.handle(dbc).WithContext(dbc.Ctx).Create(row).Error
}

func (r *datasetRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Dataset, error) {
	row := &types.Dataset{}
	if err := r.handle(dbc).WithContext(dbc.Ctx).Where("id = ?", id).First(row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDatasetNotFound
		}
		return nil, err
	}
	return row, nil
}

func (r *datasetRepo) GetByKey(dbc dbctx.Context, entityID uuid.UUID, datasetKey string) (*types.Dataset, error) {
	datasetKey = strings.TrimSpace(datasetKey)
	row := &types.Dataset{}
	if err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("entity_id = ? AND dataset_key = ?", entityID, datasetKey).
		Order("created_at DESC").
		First(row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDatasetNotFound
		}
		return nil, err
	}
	return row, nil
}
