package repos

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/chapterhub/chapterhub-backend/internal/pkg/dbctx"
	"github.com/chapterhub/chapterhub-backend/internal/platform/logger"
	"github.com/chapterhub/chapterhub-backend/internal/types"
)

type FlagListFilter struct {
	Priority    *int
	ContentType string
	Severity    string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

// FlagStats is derived on read; nothing here is persisted.
type FlagStats struct {
	Total              int64            `json:"total"`
	ByStatus           map[string]int64 `json:"by_status"`
	ByReason           map[string]int64 `json:"by_reason"`
	AvgReviewTimeHours float64          `json:"avg_review_time_hours"`
}

type FlaggedContentRepo interface {
	Create(dbc dbctx.Context, item *types.FlaggedContent) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.FlaggedContent, error)
	ListPending(dbc dbctx.Context, filter FlagListFilter, limit, offset int) ([]*types.FlaggedContent, error)
	// ResolveIfPending closes the item in a single guarded UPDATE. Returns
	// false when the row is missing or already left pending, so a second
	// resolve can never partially overwrite the first.
	ResolveIfPending(dbc dbctx.Context, id uuid.UUID, status string, reviewerID uuid.UUID, reviewedAt time.Time, notes, actionTaken string) (bool, error)
	// EscalateIfPending raises priority and severity without closing the
	// item; reviewed_by/reviewed_at stay unset.
	EscalateIfPending(dbc dbctx.Context, id uuid.UUID, newPriority int, newSeverity string) (bool, error)
	Stats(dbc dbctx.Context, since time.Time) (*FlagStats, error)
}

type flaggedContentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewFlaggedContentRepo(db *gorm.DB, baseLog *logger.Logger) FlaggedContentRepo {
	return &flaggedContentRepo{
		db:  db,
		log: baseLog.With("repo", "FlaggedContentRepo"),
	}
}

func (r *flaggedContentRepo) Create(dbc dbctx.Context, item *types.FlaggedContent) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx).Create(item).Error
}

func (r *flaggedContentRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.FlaggedContent, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var item types.FlaggedContent
	err := transaction.WithContext(dbc.Ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == uuid.Nil {
		return nil, nil
	}
	return &item, nil
}

func (r *flaggedContentRepo) ListPending(dbc dbctx.Context, filter FlagListFilter, limit, offset int) ([]*types.FlaggedContent, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(dbc.Ctx).
		Model(&types.FlaggedContent{}).
		Where("status = ?", types.FlagStatusPending)
	if filter.Priority != nil {
		q = q.Where("priority = ?", *filter.Priority)
	}
	if filter.ContentType != "" {
		q = q.Where("content_type = ?", filter.ContentType)
	}
	if filter.Severity != "" {
		q = q.Where("severity = ?", filter.Severity)
	}
	if filter.CreatedFrom != nil {
		q = q.Where("created_at >= ?", *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		q = q.Where("created_at <= ?", *filter.CreatedTo)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	var out []*types.FlaggedContent
	if err := q.Order("priority DESC, created_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *flaggedContentRepo) ResolveIfPending(dbc dbctx.Context, id uuid.UUID, status string, reviewerID uuid.UUID, reviewedAt time.Time, notes, actionTaken string) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.FlaggedContent{}).
		Where("id = ? AND status = ?", id, types.FlagStatusPending).
		Updates(map[string]interface{}{
			"status":       status,
			"reviewed_by":  reviewerID,
			"reviewed_at":  reviewedAt,
			"review_notes": notes,
			"action_taken": actionTaken,
			"updated_at":   time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *flaggedContentRepo) EscalateIfPending(dbc dbctx.Context, id uuid.UUID, newPriority int, newSeverity string) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.FlaggedContent{}).
		Where("id = ? AND status = ?", id, types.FlagStatusPending).
		Updates(map[string]interface{}{
			"priority":   newPriority,
			"severity":   newSeverity,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *flaggedContentRepo) Stats(dbc dbctx.Context, since time.Time) (*FlagStats, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	stats := &FlagStats{
		ByStatus: map[string]int64{},
		ByReason: map[string]int64{},
	}

	base := func() *gorm.DB {
		return transaction.WithContext(dbc.Ctx).
			Model(&types.FlaggedContent{}).
			Where("created_at >= ?", since)
	}

	if err := base().Count(&stats.Total).Error; err != nil {
		return nil, err
	}

	type bucket struct {
		Key string
		N   int64
	}
	var byStatus []bucket
	if err := base().Select("status as key, count(*) as n").Group("status").Scan(&byStatus).Error; err != nil {
		return nil, err
	}
	for _, b := range byStatus {
		stats.ByStatus[b.Key] = b.N
	}
	var byReason []bucket
	if err := base().Select("flag_reason as key, count(*) as n").Group("flag_reason").Scan(&byReason).Error; err != nil {
		return nil, err
	}
	for _, b := range byReason {
		stats.ByReason[b.Key] = b.N
	}

	var avgHours sql.NullFloat64
	err := base().
		Where("reviewed_at IS NOT NULL").
		Select("avg(extract(epoch from (reviewed_at - created_at)) / 3600.0)").
		Scan(&avgHours).Error
	if err != nil {
		return nil, err
	}
	if avgHours.Valid {
		stats.AvgReviewTimeHours = avgHours.Float64
	}
	return stats, nil
}
