package repos

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/chapterhub/chapterhub-backend/internal/pkg/dbctx"
	"github.com/chapterhub/chapterhub-backend/internal/platform/logger"
	"github.com/chapterhub/chapterhub-backend/internal/types"
)

type TranscodeJobRepo interface {
	Create(dbc dbctx.Context, job *types.TranscodeJob) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.TranscodeJob, error)
	// ClaimNextRunnable picks the oldest waiting job whose backoff window has
	// elapsed, or an active job whose worker went stale, and marks it active.
	// Uses SELECT ... FOR UPDATE SKIP LOCKED so concurrent workers never claim
	// the same row.
	ClaimNextRunnable(dbc dbctx.Context, staleActive time.Duration) (*types.TranscodeJob, error)
	MarkRetry(dbc dbctx.Context, id uuid.UUID, attempt int, lastError string, nextAttemptAt time.Time) error
	MarkCompleted(dbc dbctx.Context, id uuid.UUID) error
	MarkFailed(dbc dbctx.Context, id uuid.UUID, lastError string) error
	SetProgress(dbc dbctx.Context, id uuid.UUID, progress int) error
	HasActiveForUpload(dbc dbctx.Context, uploadID uuid.UUID) (bool, error)
	CountByStatus(dbc dbctx.Context) (map[string]int64, error)
	// PruneTerminal deletes all but the newest keepCompleted completed and
	// keepFailed failed rows. Bounded retention, not correctness.
	PruneTerminal(dbc dbctx.Context, keepCompleted, keepFailed int) error
}

type transcodeJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTranscodeJobRepo(db *gorm.DB, baseLog *logger.Logger) TranscodeJobRepo {
	return &transcodeJobRepo{
		db:  db,
		log: baseLog.With("repo", "TranscodeJobRepo"),
	}
}

func (r *transcodeJobRepo) Create(dbc dbctx.Context, job *types.TranscodeJob) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx).Create(job).Error
}

func (r *transcodeJobRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.TranscodeJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var job types.TranscodeJob
	err := transaction.WithContext(dbc.Ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *transcodeJobRepo) ClaimNextRunnable(dbc dbctx.Context, staleActive time.Duration) (*types.TranscodeJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	staleCutoff := now.Add(-staleActive)
	var claimed *types.TranscodeJob
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var job types.TranscodeJob
		q := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(`
        (
          (status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?))
          OR (status = ? AND locked_at IS NOT NULL AND locked_at < ?)
        )
      `, types.TranscodeStatusWaiting, now, types.TranscodeStatusActive, staleCutoff).
			Order("created_at ASC")
		qErr := q.First(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := txx.Model(&types.TranscodeJob{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"status":     types.TranscodeStatusActive,
				"attempts":   gorm.Expr("attempts + 1"),
				"locked_at":  now,
				"updated_at": now,
			}).Error
		if uErr != nil {
			return uErr
		}
		job.Status = types.TranscodeStatusActive
		job.Attempts++
		job.LockedAt = &now
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *transcodeJobRepo) MarkRetry(dbc dbctx.Context, id uuid.UUID, attempt int, lastError string, nextAttemptAt time.Time) error {
	now := time.Now()
	return r.update(dbc, id, map[string]interface{}{
		"status":          types.TranscodeStatusWaiting,
		"attempts":        attempt,
		"last_error":      lastError,
		"next_attempt_at": nextAttemptAt,
		"locked_at":       nil,
		"updated_at":      now,
	})
}

func (r *transcodeJobRepo) MarkCompleted(dbc dbctx.Context, id uuid.UUID) error {
	now := time.Now()
	return r.update(dbc, id, map[string]interface{}{
		"status":      types.TranscodeStatusCompleted,
		"progress":    100,
		"locked_at":   nil,
		"finished_at": now,
		"updated_at":  now,
	})
}

func (r *transcodeJobRepo) MarkFailed(dbc dbctx.Context, id uuid.UUID, lastError string) error {
	now := time.Now()
	return r.update(dbc, id, map[string]interface{}{
		"status":      types.TranscodeStatusFailed,
		"last_error":  lastError,
		"locked_at":   nil,
		"finished_at": now,
		"updated_at":  now,
	})
}

func (r *transcodeJobRepo) SetProgress(dbc dbctx.Context, id uuid.UUID, progress int) error {
	return r.update(dbc, id, map[string]interface{}{
		"progress":   progress,
		"updated_at": time.Now(),
	})
}

func (r *transcodeJobRepo) update(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.TranscodeJob{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *transcodeJobRepo) HasActiveForUpload(dbc dbctx.Context, uploadID uuid.UUID) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if uploadID == uuid.Nil {
		return false, nil
	}
	var count int64
	err := transaction.WithContext(dbc.Ctx).
		Model(&types.TranscodeJob{}).
		Where("upload_id = ? AND status IN ?", uploadID, []string{types.TranscodeStatusWaiting, types.TranscodeStatusActive}).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *transcodeJobRepo) CountByStatus(dbc dbctx.Context) (map[string]int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	type row struct {
		Status string
		N      int64
	}
	var rows []row
	err := transaction.WithContext(dbc.Ctx).
		Model(&types.TranscodeJob{}).
		Select("status, count(*) as n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, rr := range rows {
		out[rr.Status] = rr.N
	}
	return out, nil
}

func (r *transcodeJobRepo) PruneTerminal(dbc dbctx.Context, keepCompleted, keepFailed int) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	prune := func(status string, keep int) error {
		return transaction.WithContext(dbc.Ctx).Exec(`
      DELETE FROM transcode_job
      WHERE status = ? AND deleted_at IS NULL AND id NOT IN (
        SELECT id FROM transcode_job
        WHERE status = ? AND deleted_at IS NULL
        ORDER BY finished_at DESC NULLS LAST
        LIMIT ?
      )`, status, status, keep).Error
	}
	if err := prune(types.TranscodeStatusCompleted, keepCompleted); err != nil {
		return err
	}
	return prune(types.TranscodeStatusFailed, keepFailed)
}
