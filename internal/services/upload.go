package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/chapterhub/chapterhub-backend/internal/pkg/dbctx"
	pkgerrors "github.com/chapterhub/chapterhub-backend/internal/pkg/errors"
	"github.com/chapterhub/chapterhub-backend/internal/platform/logger"
	"github.com/chapterhub/chapterhub-backend/internal/repos"
	"github.com/chapterhub/chapterhub-backend/internal/types"
)

// SubmitRequest carries one asset submission through intake.
type SubmitRequest struct {
	Title       string
	Description string
	FileName    string
	FileType    string
	MimeType    string
	SizeBytes   int64
	ChapterID   uuid.UUID
	UploaderID  uuid.UUID
	Tags        []string
	Category    string

	// ParentUploadID marks a re-upload of an existing asset; the new row
	// gets version = parent+1 and supersedes the parent's is_latest flag.
	ParentUploadID *uuid.UUID

	// AutoApprove publishes non-video assets immediately instead of queueing
	// them for review. Ignored for video, which always goes through the
	// transcode queue.
	AutoApprove bool

	File io.Reader
}

type UploadService interface {
	Submit(ctx context.Context, req SubmitRequest) (*types.ContentUpload, error)
	Retranscode(ctx context.Context, id uuid.UUID) (*types.TranscodeJob, error)
	Get(ctx context.Context, id uuid.UUID) (*types.ContentUpload, error)
	List(ctx context.Context, filter repos.UploadListFilter, limit, offset int) ([]*types.ContentUpload, error)
}

type uploadService struct {
	db         *gorm.DB
	log        *logger.Logger
	uploads    repos.ContentUploadRepo
	flags      repos.FlaggedContentRepo
	transcodes repos.TranscodeJobRepo
	quota      QuotaService
	bucket     BucketService
	now        func() time.Time
}

func NewUploadService(
	db *gorm.DB,
	baseLog *logger.Logger,
	uploads repos.ContentUploadRepo,
	flags repos.FlaggedContentRepo,
	transcodes repos.TranscodeJobRepo,
	quota QuotaService,
	bucket BucketService,
) UploadService {
	return &uploadService{
		db:         db,
		log:        baseLog.With("service", "UploadService"),
		uploads:    uploads,
		flags:      flags,
		transcodes: transcodes,
		quota:      quota,
		bucket:     bucket,
		now:        time.Now,
	}
}

func validFileType(ft string) bool {
	switch ft {
	case types.FileTypeVideo, types.FileTypeDocument, types.FileTypeImage, types.FileTypeAudio:
		return true
	default:
		return false
	}
}

func (s *uploadService) validate(req SubmitRequest) error {
	switch {
	case strings.TrimSpace(req.Title) == "":
		return fmt.Errorf("%w: title is required", pkgerrors.ErrInvalidArgument)
	case strings.TrimSpace(req.FileName) == "":
		return fmt.Errorf("%w: file name is required", pkgerrors.ErrInvalidArgument)
	case !validFileType(req.FileType):
		return fmt.Errorf("%w: file type must be one of video|document|image|audio", pkgerrors.ErrInvalidArgument)
	case req.ChapterID == uuid.Nil:
		return fmt.Errorf("%w: chapter id is required", pkgerrors.ErrInvalidArgument)
	case req.UploaderID == uuid.Nil:
		return fmt.Errorf("%w: uploader id is required", pkgerrors.ErrInvalidArgument)
	case req.File == nil:
		return fmt.Errorf("%w: file content is required", pkgerrors.ErrInvalidArgument)
	}
	return nil
}

func (s *uploadService) Submit(ctx context.Context, req SubmitRequest) (*types.ContentUpload, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	dbc := dbctx.Context{Ctx: ctx}

	// Versioned re-uploads inherit the chain; duplicate transcode requests
	// for an upload that already has an in-flight job are refused here, not
	// in the queue.
	var parent *types.ContentUpload
	if req.ParentUploadID != nil {
		var err error
		parent, err = s.uploads.GetByID(dbc, *req.ParentUploadID)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return nil, fmt.Errorf("%w: parent upload %s", pkgerrors.ErrNotFound, req.ParentUploadID)
		}
		if !parent.IsLatest {
			return nil, fmt.Errorf("%w: parent upload %s is already superseded", pkgerrors.ErrConflict, parent.ID)
		}
	}

	if _, err := s.quota.CheckAndReserve(ctx, req.ChapterID, req.FileType); err != nil {
		return nil, err
	}

	uploadID := uuid.New()
	storageKey := fmt.Sprintf("chapters/%s/uploads/%s", req.ChapterID, uploadID)
	fileURL, err := s.bucket.UploadFile(ctx, storageKey, req.MimeType, req.File)
	if err != nil {
		// Storage failure aborts the whole submission. The quota reservation
		// stands: usage tracks submission volume by design.
		s.log.Error("Bucket upload failed, aborting submission",
			"upload_id", uploadID,
			"storage_key", storageKey,
			"error", err,
		)
		return nil, fmt.Errorf("storage upload failed: %w", err)
	}

	now := s.now()
	tags, _ := json.Marshal(req.Tags)
	upload := &types.ContentUpload{
		ID:            uploadID,
		Title:         strings.TrimSpace(req.Title),
		Description:   req.Description,
		FileName:      req.FileName,
		FileType:      req.FileType,
		FilePath:      storageKey,
		FileSizeBytes: req.SizeBytes,
		MimeType:      req.MimeType,
		FileURL:       fileURL,
		UploaderID:    req.UploaderID,
		ChapterID:     req.ChapterID,
		Tags:          datatypes.JSON(tags),
		Category:      req.Category,
		Status:        types.UploadStatusPending,
		Metadata:      datatypes.JSON([]byte("{}")),
		Version:       1,
		IsLatest:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if parent != nil {
		upload.Version = parent.Version + 1
		upload.ParentVersionID = &parent.ID
		err = s.uploads.CreateVersion(dbc, upload, parent.ID)
	} else {
		err = s.uploads.Create(dbc, upload)
	}
	if err != nil {
		// Best-effort cleanup of the orphaned object; delete failures are
		// logged and swallowed.
		if delErr := s.bucket.DeleteFile(ctx, storageKey); delErr != nil {
			s.log.Warn("Cleanup delete failed for orphaned object", "storage_key", storageKey, "error", delErr)
		}
		return nil, err
	}

	if req.FileType == types.FileTypeVideo {
		if _, err := s.enqueueTranscode(dbc, upload); err != nil {
			return nil, err
		}
		return upload, nil
	}

	if req.AutoApprove {
		approvedAt := s.now()
		updates := map[string]interface{}{
			"status":      types.UploadStatusApproved,
			"approved_by": req.UploaderID,
			"approved_at": approvedAt,
		}
		if err := s.uploads.UpdateFields(dbc, upload.ID, updates); err != nil {
			return nil, err
		}
		upload.Status = types.UploadStatusApproved
		upload.ApprovedBy = &req.UploaderID
		upload.ApprovedAt = &approvedAt
		return upload, nil
	}

	// Non-video without auto-approve waits for a human pass; the upload stays
	// pending and a review item is queued.
	flag := &types.FlaggedContent{
		ID:          uuid.New(),
		ContentType: "upload",
		ContentID:   upload.ID,
		FlaggedBy:   "intake",
		FlagReason:  "upload_review",
		Severity:    types.FlagSeverityLow,
		Status:      types.FlagStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.flags.Create(dbc, flag); err != nil {
		return nil, err
	}
	return upload, nil
}

func (s *uploadService) enqueueTranscode(dbc dbctx.Context, upload *types.ContentUpload) (*types.TranscodeJob, error) {
	active, err := s.transcodes.HasActiveForUpload(dbc, upload.ID)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, fmt.Errorf("%w: transcode already in flight for upload %s", pkgerrors.ErrConflict, upload.ID)
	}
	job := &types.TranscodeJob{
		ID:               uuid.New(),
		UploadID:         upload.ID,
		SourceKey:        upload.FilePath,
		OriginalFilename: upload.FileName,
		ChapterID:        upload.ChapterID,
		UploaderID:       upload.UploaderID,
		Status:           types.TranscodeStatusWaiting,
		CreatedAt:        s.now(),
		UpdatedAt:        s.now(),
	}
	if err := s.transcodes.Create(dbc, job); err != nil {
		return nil, err
	}
	s.log.Info("Transcode job enqueued", "job_id", job.ID, "upload_id", upload.ID)
	return job, nil
}

// Retranscode queues a fresh transcode for a video upload, typically after a
// terminal failure. Refused while a waiting or active job exists.
func (s *uploadService) Retranscode(ctx context.Context, id uuid.UUID) (*types.TranscodeJob, error) {
	dbc := dbctx.Context{Ctx: ctx}
	upload, err := s.uploads.GetByID(dbc, id)
	if err != nil {
		return nil, err
	}
	if upload == nil {
		return nil, fmt.Errorf("%w: upload %s", pkgerrors.ErrNotFound, id)
	}
	if upload.FileType != types.FileTypeVideo {
		return nil, fmt.Errorf("%w: only video uploads can be transcoded", pkgerrors.ErrInvalidArgument)
	}
	job, err := s.enqueueTranscode(dbc, upload)
	if err != nil {
		return nil, err
	}
	if upload.Status != types.UploadStatusPending {
		if err := s.uploads.UpdateFields(dbc, upload.ID, map[string]interface{}{
			"status": types.UploadStatusPending,
		}); err != nil {
			s.log.Warn("Could not reset upload status for retranscode", "upload_id", upload.ID, "error", err)
		}
	}
	return job, nil
}

func (s *uploadService) Get(ctx context.Context, id uuid.UUID) (*types.ContentUpload, error) {
	upload, err := s.uploads.GetByID(dbctx.Context{Ctx: ctx}, id)
	if err != nil {
		return nil, err
	}
	if upload == nil {
		return nil, fmt.Errorf("%w: upload %s", pkgerrors.ErrNotFound, id)
	}
	return upload, nil
}

func (s *uploadService) List(ctx context.Context, filter repos.UploadListFilter, limit, offset int) ([]*types.ContentUpload, error) {
	return s.uploads.List(dbctx.Context{Ctx: ctx}, filter, limit, offset)
}
