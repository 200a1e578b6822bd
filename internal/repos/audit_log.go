package repos

import (
	"gorm.io/gorm"

	"github.com/chapterhub/chapterhub-backend/internal/pkg/dbctx"
	"github.com/chapterhub/chapterhub-backend/internal/platform/logger"
	"github.com/chapterhub/chapterhub-backend/internal/types"
)

// AuditLogRepo is append-only on purpose; there is no update or delete.
type AuditLogRepo interface {
	Append(dbc dbctx.Context, entry *types.AuditLog) error
}

type auditLogRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAuditLogRepo(db *gorm.DB, baseLog *logger.Logger) AuditLogRepo {
	return &auditLogRepo{
		db:  db,
		log: baseLog.With("repo", "AuditLogRepo"),
	}
}

func (r *auditLogRepo) Append(dbc dbctx.Context, entry *types.AuditLog) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx).Create(entry).Error
}
