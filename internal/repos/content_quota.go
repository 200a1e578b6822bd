package repos

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/chapterhub/chapterhub-backend/internal/pkg/dbctx"
	"github.com/chapterhub/chapterhub-backend/internal/platform/logger"
	"github.com/chapterhub/chapterhub-backend/internal/types"
)

type ContentQuotaRepo interface {
	// CheckAndReserve lazily creates the (chapter, type, window) row with the
	// given default limit, then attempts a single conditional increment.
	// Returns the post-attempt row and whether the increment was admitted.
	// The check and the increment are one UPDATE, so two concurrent callers
	// can never both slip past a full window.
	CheckAndReserve(dbc dbctx.Context, chapterID uuid.UUID, contentType string, defaultLimit int, periodStart, periodEnd time.Time) (bool, *types.ContentQuota, error)
	Get(dbc dbctx.Context, chapterID uuid.UUID, contentType string, periodStart time.Time) (*types.ContentQuota, error)
}

type contentQuotaRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewContentQuotaRepo(db *gorm.DB, baseLog *logger.Logger) ContentQuotaRepo {
	return &contentQuotaRepo{
		db:  db,
		log: baseLog.With("repo", "ContentQuotaRepo"),
	}
}

func (r *contentQuotaRepo) CheckAndReserve(dbc dbctx.Context, chapterID uuid.UUID, contentType string, defaultLimit int, periodStart, periodEnd time.Time) (bool, *types.ContentQuota, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}

	row := &types.ContentQuota{
		ID:           uuid.New(),
		ChapterID:    chapterID,
		ContentType:  contentType,
		MonthlyLimit: defaultLimit,
		CurrentUsage: 0,
		PeriodStart:  periodStart,
		PeriodEnd:    periodEnd,
	}
	if err := transaction.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chapter_id"}, {Name: "content_type"}, {Name: "period_start"}},
			DoNothing: true,
		}).
		Create(row).Error; err != nil {
		return false, nil, err
	}

	res := transaction.WithContext(dbc.Ctx).
		Model(&types.ContentQuota{}).
		Where("chapter_id = ? AND content_type = ? AND period_start = ?", chapterID, contentType, periodStart).
		Where("monthly_limit = 0 OR current_usage < monthly_limit").
		Updates(map[string]interface{}{
			"current_usage": gorm.Expr("current_usage + 1"),
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return false, nil, res.Error
	}
	admitted := res.RowsAffected > 0

	quota, err := r.Get(dbc, chapterID, contentType, periodStart)
	if err != nil {
		return false, nil, err
	}
	return admitted, quota, nil
}

func (r *contentQuotaRepo) Get(dbc dbctx.Context, chapterID uuid.UUID, contentType string, periodStart time.Time) (*types.ContentQuota, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var quota types.ContentQuota
	err := transaction.WithContext(dbc.Ctx).
		Where("chapter_id = ? AND content_type = ? AND period_start = ?", chapterID, contentType, periodStart).
		Limit(1).
		Find(&quota).Error
	if err != nil {
		return nil, err
	}
	if quota.ID == uuid.Nil {
		return nil, nil
	}
	return &quota, nil
}
