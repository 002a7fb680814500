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

var ErrDocumentNotFound = errors.New("document not found")

type DocumentRepo interface {
	Create(dbc dbctx.Context, row *types.Document) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Document, error)
	ListByEntity(dbc dbctx.Context, entityID uuid.UUID, linkedType string, limit int) ([]*types.Document, error)
}

type documentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDocumentRepo(db *gorm.DB, baseLog *logger.Logger) DocumentRepo {
	return &documentRepo{db: db, log: baseLog.With("repo", "DocumentRepo")}
}

func (r *documentRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *documentRepo) Create(dbc dbctx.Context, row *types.Document) error {
	if row == nil {
		return nil
	}
	if strings.TrimSpace(row.BlobPath) == "" || strings.TrimSpace(row.SHA256) == "" {
		return fmt.Errorf("document row requires blob_path and sha256")
	}
	return r.handle(dbc).WithContext(dbc.Ctx).Create(row).Error
}

func (r *documentRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Document, error) {
	row := &types.Document{}
	if err := r.handle(dbc).WithContext(dbc.Ctx).Where("id = ?", id).First(row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	return row, nil
}

func (r *documentRepo) ListByEntity(dbc dbctx.Context, entityID uuid.UUID, linkedType string, limit int) ([]*types.Document, error) {
	if limit <= 0 {
		limit = 100
	}
	out := []*types.Document{}
	q := r.handle(dbc).WithContext(dbc.Ctx).Where("entity_id = ?", entityID)
	if lt := strings.TrimSpace(linkedType); lt != "" {
		q = q.Where("linked_type = ?", lt)
	}
	if err := q.Order("created_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
