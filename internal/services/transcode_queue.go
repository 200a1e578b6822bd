package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/chapterhub/chapterhub-backend/internal/pkg/dbctx"
	pkgerrors "github.com/chapterhub/chapterhub-backend/internal/pkg/errors"
	"github.com/chapterhub/chapterhub-backend/internal/platform/logger"
	"github.com/chapterhub/chapterhub-backend/internal/repos"
	"github.com/chapterhub/chapterhub-backend/internal/types"
	"github.com/chapterhub/chapterhub-backend/internal/utils"
)

// QueueConfig bounds the worker pool and the retry policy. Attempts are
// total tries, not retries: MaxAttempts = 3 means at most two retries after
// the first failure.
type QueueConfig struct {
	Concurrency    int
	MaxAttempts    int
	BackoffBase    time.Duration
	AttemptTimeout time.Duration
	PollInterval   time.Duration
	StaleActive    time.Duration
	PruneInterval  time.Duration
	KeepCompleted  int
	KeepFailed     int
}

func DefaultQueueConfig(log *logger.Logger) QueueConfig {
	return QueueConfig{
		Concurrency:    utils.GetEnvAsInt("TRANSCODE_CONCURRENCY", 2, log),
		MaxAttempts:    utils.GetEnvAsInt("TRANSCODE_MAX_ATTEMPTS", 3, log),
		BackoffBase:    time.Duration(utils.GetEnvAsInt("TRANSCODE_BACKOFF_BASE_SECONDS", 5, log)) * time.Second,
		AttemptTimeout: time.Duration(utils.GetEnvAsInt("TRANSCODE_ATTEMPT_TIMEOUT_SECONDS", 600, log)) * time.Second,
		PollInterval:   time.Second,
		StaleActive:    30 * time.Minute,
		PruneInterval:  time.Minute,
		KeepCompleted:  100,
		KeepFailed:     50,
	}
}

// JobStatus is the operational view returned by GetJobStatus.
type JobStatus struct {
	JobID     uuid.UUID `json:"job_id"`
	UploadID  uuid.UUID `json:"upload_id"`
	State     string    `json:"state"`
	Progress  int       `json:"progress"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
}

// QueueStats aggregates job counts per lifecycle state.
type QueueStats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// TranscodeQueueService owns the worker pool. Lifecycle is explicit: the
// service does nothing until Start and drains in-flight attempts on Stop.
type TranscodeQueueService interface {
	Start(ctx context.Context)
	Stop()
	GetJobStatus(ctx context.Context, jobID uuid.UUID) (*JobStatus, error)
	GetQueueStats(ctx context.Context) (*QueueStats, error)
}

type transcodeQueueService struct {
	db         *gorm.DB
	log        *logger.Logger
	cfg        QueueConfig
	jobs       repos.TranscodeJobRepo
	uploads    repos.ContentUploadRepo
	transcoder TranscoderClient
	notify     UploadNotifier

	cancel context.CancelFunc
	group  *errgroup.Group
}

func NewTranscodeQueueService(
	db *gorm.DB,
	baseLog *logger.Logger,
	cfg QueueConfig,
	jobs repos.TranscodeJobRepo,
	uploads repos.ContentUploadRepo,
	transcoder TranscoderClient,
	notify UploadNotifier,
) TranscodeQueueService {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &transcodeQueueService{
		db:         db,
		log:        baseLog.With("service", "TranscodeQueueService"),
		cfg:        cfg,
		jobs:       jobs,
		uploads:    uploads,
		transcoder: transcoder,
		notify:     notify,
	}
}

func (s *transcodeQueueService) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.group, ctx = errgroup.WithContext(ctx)

	s.log.Info("Starting transcode worker pool", "concurrency", s.cfg.Concurrency)
	for i := 0; i < s.cfg.Concurrency; i++ {
		workerID := i + 1
		s.group.Go(func() error {
			s.runLoop(ctx, workerID)
			return nil
		})
	}
	s.group.Go(func() error {
		s.pruneLoop(ctx)
		return nil
	})
}

func (s *transcodeQueueService) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	_ = s.group.Wait()
	s.log.Info("Transcode worker pool stopped")
}

func (s *transcodeQueueService) runLoop(ctx context.Context, workerID int) {
	interval := s.cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Worker loop stopped", "worker_id", workerID)
			return
		case <-ticker.C:
			for {
				processed, err := s.ProcessNext(ctx)
				if err != nil {
					s.log.Warn("ProcessNext failed", "worker_id", workerID, "error", err)
					break
				}
				if !processed {
					break
				}
			}
		}
	}
}

func (s *transcodeQueueService) pruneLoop(ctx context.Context) {
	interval := s.cfg.PruneInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.jobs.PruneTerminal(dbctx.Context{Ctx: ctx}, s.cfg.KeepCompleted, s.cfg.KeepFailed); err != nil {
				s.log.Warn("PruneTerminal failed", "error", err)
			}
		}
	}
}

// ProcessNext claims and runs at most one job attempt. Returns false when
// nothing was runnable.
func (s *transcodeQueueService) ProcessNext(ctx context.Context) (bool, error) {
	job, err := s.jobs.ClaimNextRunnable(dbctx.Context{Ctx: ctx}, s.cfg.StaleActive)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	s.runAttempt(ctx, job)
	return true, nil
}

func (s *transcodeQueueService) runAttempt(ctx context.Context, job *types.TranscodeJob) {
	dbc := dbctx.Context{Ctx: ctx}
	log := s.log.With("job_id", job.ID, "upload_id", job.UploadID, "attempt", job.Attempts)

	if job.Attempts == 1 {
		if err := s.uploads.UpdateFields(dbc, job.UploadID, map[string]interface{}{
			"status": types.UploadStatusProcessing,
		}); err != nil {
			log.Warn("Could not mark upload processing", "error", err)
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.AttemptTimeout)
	result, err := s.transcoder.Transcode(attemptCtx, job.SourceKey, job.OriginalFilename, job.UploadID, job.UploaderID)
	cancel()

	if err == nil {
		s.finishSuccess(dbc, job, result, log)
		return
	}

	if job.Attempts < s.cfg.MaxAttempts {
		delay := s.backoffFor(job.Attempts)
		log.Warn("Transcode attempt failed, scheduling retry", "error", err, "retry_in", delay)
		if rErr := s.jobs.MarkRetry(dbc, job.ID, job.Attempts, err.Error(), time.Now().Add(delay)); rErr != nil {
			log.Error("MarkRetry failed", "error", rErr)
		}
		return
	}

	s.finishFailure(dbc, job, err, log)
}

// backoffFor returns the delay before the attempt following attempt n:
// base after the first failure, doubling each retry.
func (s *transcodeQueueService) backoffFor(attempt int) time.Duration {
	delay := s.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

func (s *transcodeQueueService) finishSuccess(dbc dbctx.Context, job *types.TranscodeJob, result *TranscodeResult, log *logger.Logger) {
	if err := s.jobs.MarkCompleted(dbc, job.ID); err != nil {
		log.Error("MarkCompleted failed", "error", err)
		return
	}

	upload, err := s.uploads.GetByID(dbc, job.UploadID)
	if err != nil || upload == nil {
		log.Error("Could not load upload for terminal write-back", "error", err)
		return
	}
	meta := decodeMetadata(upload.Metadata)
	meta["duration_sec"] = result.DurationSec
	meta["thumbnail_key"] = result.ThumbnailKey
	meta["playback_key"] = result.PlaybackKey
	delete(meta, "processing_error")
	raw, _ := json.Marshal(meta)

	now := time.Now()
	if err := s.uploads.UpdateFields(dbc, job.UploadID, map[string]interface{}{
		"status":      types.UploadStatusApproved,
		"approved_by": types.PipelineActorID,
		"approved_at": now,
		"metadata":    datatypes.JSON(raw),
	}); err != nil {
		log.Error("Terminal write-back failed", "error", err)
		return
	}
	log.Info("Transcode completed", "duration_sec", result.DurationSec)
	s.notify.TranscodeCompleted(job.UploadID)
}

func (s *transcodeQueueService) finishFailure(dbc dbctx.Context, job *types.TranscodeJob, cause error, log *logger.Logger) {
	if err := s.jobs.MarkFailed(dbc, job.ID, cause.Error()); err != nil {
		log.Error("MarkFailed failed", "error", err)
	}

	upload, err := s.uploads.GetByID(dbc, job.UploadID)
	if err != nil || upload == nil {
		log.Error("Could not load upload for failure write-back", "error", err)
		return
	}
	meta := decodeMetadata(upload.Metadata)
	meta["processing_error"] = cause.Error()
	raw, _ := json.Marshal(meta)

	if err := s.uploads.UpdateFields(dbc, job.UploadID, map[string]interface{}{
		"status":   types.UploadStatusFailed,
		"metadata": datatypes.JSON(raw),
	}); err != nil {
		log.Error("Failure write-back failed", "error", err)
		return
	}
	log.Error("Transcode failed after final attempt", "error", cause, "attempts", job.Attempts)
	s.notify.UploadFailed(job.UploadID, cause.Error())
}

func decodeMetadata(raw datatypes.JSON) map[string]any {
	meta := map[string]any{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &meta)
	}
	return meta
}

func (s *transcodeQueueService) GetJobStatus(ctx context.Context, jobID uuid.UUID) (*JobStatus, error) {
	job, err := s.jobs.GetByID(dbctx.Context{Ctx: ctx}, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("%w: transcode job %s", pkgerrors.ErrNotFound, jobID)
	}
	return &JobStatus{
		JobID:     job.ID,
		UploadID:  job.UploadID,
		State:     job.Status,
		Progress:  job.Progress,
		Attempts:  job.Attempts,
		LastError: job.LastError,
	}, nil
}

func (s *transcodeQueueService) GetQueueStats(ctx context.Context) (*QueueStats, error) {
	counts, err := s.jobs.CountByStatus(dbctx.Context{Ctx: ctx})
	if err != nil {
		return nil, err
	}
	return &QueueStats{
		Waiting:   counts[types.TranscodeStatusWaiting],
		Active:    counts[types.TranscodeStatusActive],
		Completed: counts[types.TranscodeStatusCompleted],
		Failed:    counts[types.TranscodeStatusFailed],
	}, nil
}
