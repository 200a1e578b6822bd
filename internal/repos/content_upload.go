package repos

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/chapterhub/chapterhub-backend/internal/pkg/dbctx"
	"github.com/chapterhub/chapterhub-backend/internal/platform/logger"
	"github.com/chapterhub/chapterhub-backend/internal/types"
)

type UploadListFilter struct {
	ChapterID  uuid.UUID
	Status     string
	FileType   string
	LatestOnly bool
}

type ContentUploadRepo interface {
	Create(dbc dbctx.Context, upload *types.ContentUpload) error
	// CreateVersion inserts the new version row and flips the superseded
	// row's is_latest flag in one transaction.
	CreateVersion(dbc dbctx.Context, upload *types.ContentUpload, parentID uuid.UUID) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ContentUpload, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	List(dbc dbctx.Context, filter UploadListFilter, limit, offset int) ([]*types.ContentUpload, error)
}

type contentUploadRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewContentUploadRepo(db *gorm.DB, baseLog *logger.Logger) ContentUploadRepo {
	return &contentUploadRepo{
		db:  db,
		log: baseLog.With("repo", "ContentUploadRepo"),
	}
}

func (r *contentUploadRepo) Create(dbc dbctx.Context, upload *types.ContentUpload) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx).Create(upload).Error
}

func (r *contentUploadRepo) CreateVersion(dbc dbctx.Context, upload *types.ContentUpload, parentID uuid.UUID) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	return transaction.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&types.ContentUpload{}).
			Where("id = ? AND is_latest = ?", parentID, true).
			Updates(map[string]interface{}{
				"is_latest":  false,
				"updated_at": now,
			}).Error; err != nil {
			return err
		}
		return tx.Create(upload).Error
	})
}

func (r *contentUploadRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ContentUpload, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var upload types.ContentUpload
	err := transaction.WithContext(dbc.Ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&upload).Error
	if err != nil {
		return nil, err
	}
	if upload.ID == uuid.Nil {
		return nil, nil
	}
	return &upload, nil
}

func (r *contentUploadRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.ContentUpload{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *contentUploadRepo) List(dbc dbctx.Context, filter UploadListFilter, limit, offset int) ([]*types.ContentUpload, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(dbc.Ctx).Model(&types.ContentUpload{})
	if filter.ChapterID != uuid.Nil {
		q = q.Where("chapter_id = ?", filter.ChapterID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.FileType != "" {
		q = q.Where("file_type = ?", filter.FileType)
	}
	if filter.LatestOnly {
		q = q.Where("is_latest = ?", true)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	var out []*types.ContentUpload
	if err := q.Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
