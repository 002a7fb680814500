package ml

import (
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/halcyonops/opsml-backend/internal/domain"
	"github.com/halcyonops/opsml-backend/internal/platform/dbctx"
	"github.com/halcyonops/opsml-backend/internal/platform/logger"
)

// AuditEventRepo is append-only on purpose: no update or delete methods exist,
// matching the immutability of the audit trail.
type AuditEventRepo interface {
	Create(dbc dbctx.Context, row *types.AuditEvent) error
	ListBySubject(dbc dbctx.Context, subjectID uuid.UUID) ([]*types.AuditEvent, error)
	ListByEntity(dbc dbctx.Context, entityID uuid.UUID, eventType string, limit int) ([]*types.AuditEvent, error)
}

type auditEventRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAuditEventRepo(db *gorm.DB, baseLog *logger.Logger) AuditEventRepo {
	return &auditEventRepo{db: db, log: baseLog.With("repo", "AuditEventRepo")}
}

func (r *auditEventRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *auditEventRepo) Create(dbc dbctx.Context, row *types.AuditEvent) error {
	if row == nil || strings.TrimSpace(row.EventType) == "" {
		return nil
	}
	return r.handle(dbc).WithContext(dbc.Ctx).Create(row).Error
}

func (r *auditEventRepo) ListBySubject(dbc dbctx.Context, subjectID uuid.UUID) ([]*types.AuditEvent, error) {
	out := []*types.AuditEvent{}
	if err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("subject_id = ?", subjectID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *auditEventRepo) ListByEntity(dbc dbctx.Context, entityID uuid.UUID, eventType string, limit int) ([]*types.AuditEvent, error) {
	if limit <= 0 {
		limit = 200
	}
	out := []*types.AuditEvent{}
	q := r.handle(dbc).WithContext(dbc.Ctx).Where("entity_id = ?", entityID)
	if et := strings.TrimSpace(eventType); et != "" {
		q = q.Where("event_type = ?", et)
	}
	if err := q.Order("created_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
