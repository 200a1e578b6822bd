package services

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/chapterhub/chapterhub-backend/internal/pkg/dbctx"
	"github.com/chapterhub/chapterhub-backend/internal/platform/logger"
	"github.com/chapterhub/chapterhub-backend/internal/repos"
	"github.com/chapterhub/chapterhub-backend/internal/types"
)

func testDBC() dbctx.Context {
	return dbctx.Context{Ctx: context.Background()}
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger init failed: %v", err)
	}
	return log
}

// ---- upload repo ----

type fakeUploadRepo struct {
	mu      sync.Mutex
	uploads map[uuid.UUID]*types.ContentUpload
	updates map[uuid.UUID][]map[string]interface{}

	createErr error
}

func newFakeUploadRepo() *fakeUploadRepo {
	return &fakeUploadRepo{
		uploads: map[uuid.UUID]*types.ContentUpload{},
		updates: map[uuid.UUID][]map[string]interface{}{},
	}
}

func (f *fakeUploadRepo) Create(dbc dbctx.Context, upload *types.ContentUpload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	cp := *upload
	f.uploads[upload.ID] = &cp
	return nil
}

func (f *fakeUploadRepo) CreateVersion(dbc dbctx.Context, upload *types.ContentUpload, parentID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if parent, ok := f.uploads[parentID]; ok {
		parent.IsLatest = false
	}
	cp := *upload
	f.uploads[upload.ID] = &cp
	return nil
}

func (f *fakeUploadRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ContentUpload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.uploads[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUploadRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.uploads[id]
	if !ok {
		return fmt.Errorf("upload %s not found", id)
	}
	f.updates[id] = append(f.updates[id], updates)
	for k, v := range updates {
		switch k {
		case "status":
			u.Status = v.(string)
		case "rejection_reason":
			u.RejectionReason = v.(string)
		case "approved_by":
			id := v.(uuid.UUID)
			u.ApprovedBy = &id
		case "approved_at":
			at := v.(time.Time)
			u.ApprovedAt = &at
		case "metadata":
			u.Metadata = v.(datatypes.JSON)
		}
	}
	return nil
}

func (f *fakeUploadRepo) List(dbc dbctx.Context, filter repos.UploadListFilter, limit, offset int) ([]*types.ContentUpload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.ContentUpload
	for _, u := range f.uploads {
		if filter.ChapterID != uuid.Nil && u.ChapterID != filter.ChapterID {
			continue
		}
		if filter.Status != "" && u.Status != filter.Status {
			continue
		}
		if filter.FileType != "" && u.FileType != filter.FileType {
			continue
		}
		if filter.LatestOnly && !u.IsLatest {
			continue
		}
		cp := *u
		out = append(out, &cp)
	}
	return out, nil
}

// ---- transcode job repo ----

type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*types.TranscodeJob

	retries    []retryRecord
	pruneCalls int
}

type retryRecord struct {
	JobID         uuid.UUID
	Attempt       int
	NextAttemptAt time.Time
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: map[uuid.UUID]*types.TranscodeJob{}}
}

func (f *fakeJobRepo) Create(dbc dbctx.Context, job *types.TranscodeJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *job
	f.jobs[job.ID] = &cp
	return nil
}

func (f *fakeJobRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.TranscodeJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

// ClaimNextRunnable ignores the backoff clock so tests can drive attempts
// back to back; the scheduled delay is still asserted via retries.
func (f *fakeJobRepo) ClaimNextRunnable(dbc dbctx.Context, staleActive time.Duration) (*types.TranscodeJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var oldest *types.TranscodeJob
	for _, j := range f.jobs {
		if j.Status != types.TranscodeStatusWaiting {
			continue
		}
		if oldest == nil || j.CreatedAt.Before(oldest.CreatedAt) {
			oldest = j
		}
	}
	if oldest == nil {
		return nil, nil
	}
	now := time.Now()
	oldest.Status = types.TranscodeStatusActive
	oldest.Attempts++
	oldest.LockedAt = &now
	cp := *oldest
	return &cp, nil
}

func (f *fakeJobRepo) MarkRetry(dbc dbctx.Context, id uuid.UUID, attempt int, lastError string, nextAttemptAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.jobs[id]
	j.Status = types.TranscodeStatusWaiting
	j.Attempts = attempt
	j.LastError = lastError
	j.NextAttemptAt = &nextAttemptAt
	j.LockedAt = nil
	f.retries = append(f.retries, retryRecord{JobID: id, Attempt: attempt, NextAttemptAt: nextAttemptAt})
	return nil
}

func (f *fakeJobRepo) MarkCompleted(dbc dbctx.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	j := f.jobs[id]
	j.Status = types.TranscodeStatusCompleted
	j.Progress = 100
	j.FinishedAt = &now
	j.LockedAt = nil
	return nil
}

func (f *fakeJobRepo) MarkFailed(dbc dbctx.Context, id uuid.UUID, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	j := f.jobs[id]
	j.Status = types.TranscodeStatusFailed
	j.LastError = lastError
	j.FinishedAt = &now
	j.LockedAt = nil
	return nil
}

func (f *fakeJobRepo) SetProgress(dbc dbctx.Context, id uuid.UUID, progress int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[id].Progress = progress
	return nil
}

func (f *fakeJobRepo) HasActiveForUpload(dbc dbctx.Context, uploadID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.jobs {
		if j.UploadID == uploadID && (j.Status == types.TranscodeStatusWaiting || j.Status == types.TranscodeStatusActive) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeJobRepo) CountByStatus(dbc dbctx.Context) (map[string]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := map[string]int64{}
	for _, j := range f.jobs {
		counts[j.Status]++
	}
	return counts, nil
}

func (f *fakeJobRepo) PruneTerminal(dbc dbctx.Context, keepCompleted, keepFailed int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruneCalls++
	return nil
}

// ---- flagged content repo ----

type fakeFlagRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*types.FlaggedContent
}

func newFakeFlagRepo() *fakeFlagRepo {
	return &fakeFlagRepo{items: map[uuid.UUID]*types.FlaggedContent{}}
}

func (f *fakeFlagRepo) Create(dbc dbctx.Context, item *types.FlaggedContent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *item
	f.items[item.ID] = &cp
	return nil
}

func (f *fakeFlagRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.FlaggedContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (f *fakeFlagRepo) ListPending(dbc dbctx.Context, filter repos.FlagListFilter, limit, offset int) ([]*types.FlaggedContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.FlaggedContent
	for _, item := range f.items {
		if item.Status != types.FlagStatusPending {
			continue
		}
		if filter.Priority != nil && item.Priority != *filter.Priority {
			continue
		}
		if filter.ContentType != "" && item.ContentType != filter.ContentType {
			continue
		}
		if filter.Severity != "" && item.Severity != filter.Severity {
			continue
		}
		cp := *item
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeFlagRepo) ResolveIfPending(dbc dbctx.Context, id uuid.UUID, status string, reviewerID uuid.UUID, reviewedAt time.Time, notes, actionTaken string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok || item.Status != types.FlagStatusPending {
		return false, nil
	}
	item.Status = status
	item.ReviewedBy = &reviewerID
	item.ReviewedAt = &reviewedAt
	item.ReviewNotes = notes
	item.ActionTaken = actionTaken
	return true, nil
}

func (f *fakeFlagRepo) EscalateIfPending(dbc dbctx.Context, id uuid.UUID, newPriority int, newSeverity string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok || item.Status != types.FlagStatusPending {
		return false, nil
	}
	item.Priority = newPriority
	item.Severity = newSeverity
	return true, nil
}

func (f *fakeFlagRepo) Stats(dbc dbctx.Context, since time.Time) (*repos.FlagStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := &repos.FlagStats{ByStatus: map[string]int64{}, ByReason: map[string]int64{}}
	var sumHours float64
	var reviewed int
	for _, item := range f.items {
		if item.CreatedAt.Before(since) {
			continue
		}
		stats.Total++
		stats.ByStatus[item.Status]++
		stats.ByReason[item.FlagReason]++
		if item.ReviewedAt != nil {
			sumHours += item.ReviewedAt.Sub(item.CreatedAt).Hours()
			reviewed++
		}
	}
	if reviewed > 0 {
		stats.AvgReviewTimeHours = sumHours / float64(reviewed)
	}
	return stats, nil
}

// ---- quota repo ----

type fakeQuotaRepo struct {
	mu   sync.Mutex
	rows map[string]*types.ContentQuota
}

func newFakeQuotaRepo() *fakeQuotaRepo {
	return &fakeQuotaRepo{rows: map[string]*types.ContentQuota{}}
}

func quotaKey(chapterID uuid.UUID, contentType string, periodStart time.Time) string {
	return fmt.Sprintf("%s|%s|%d", chapterID, contentType, periodStart.Unix())
}

func (f *fakeQuotaRepo) CheckAndReserve(dbc dbctx.Context, chapterID uuid.UUID, contentType string, defaultLimit int, periodStart, periodEnd time.Time) (bool, *types.ContentQuota, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := quotaKey(chapterID, contentType, periodStart)
	row, ok := f.rows[key]
	if !ok {
		row = &types.ContentQuota{
			ID:           uuid.New(),
			ChapterID:    chapterID,
			ContentType:  contentType,
			MonthlyLimit: defaultLimit,
			PeriodStart:  periodStart,
			PeriodEnd:    periodEnd,
		}
		f.rows[key] = row
	}
	if row.MonthlyLimit != 0 && row.CurrentUsage >= row.MonthlyLimit {
		cp := *row
		return false, &cp, nil
	}
	row.CurrentUsage++
	cp := *row
	return true, &cp, nil
}

func (f *fakeQuotaRepo) Get(dbc dbctx.Context, chapterID uuid.UUID, contentType string, periodStart time.Time) (*types.ContentQuota, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[quotaKey(chapterID, contentType, periodStart)]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

// ---- audit log repo ----

type fakeAuditRepo struct {
	mu      sync.Mutex
	entries []*types.AuditLog
}

func (f *fakeAuditRepo) Append(dbc dbctx.Context, entry *types.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *entry
	f.entries = append(f.entries, &cp)
	return nil
}

// ---- bucket ----

type fakeBucket struct {
	mu        sync.Mutex
	uploaded  []string
	deleted   []string
	uploadErr error
}

func (f *fakeBucket) UploadFile(ctx context.Context, key, contentType string, r io.Reader) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	f.uploaded = append(f.uploaded, key)
	return "https://cdn.example.com/" + key, nil
}

func (f *fakeBucket) DeleteFile(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeBucket) Exists(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range f.uploaded {
		if k == key {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeBucket) GetPublicURL(key string) string {
	return "https://cdn.example.com/" + key
}

// ---- transcoder ----

type fakeTranscoder struct {
	mu       sync.Mutex
	calls    int
	outcomes []error
	result   *TranscodeResult
}

func (f *fakeTranscoder) Transcode(ctx context.Context, sourceKey, filename string, uploadID, uploaderID uuid.UUID) (*TranscodeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	f.calls++
	if idx < len(f.outcomes) && f.outcomes[idx] != nil {
		return nil, f.outcomes[idx]
	}
	if f.result != nil {
		return f.result, nil
	}
	return &TranscodeResult{DurationSec: 90, ThumbnailKey: sourceKey + "/thumb.jpg", PlaybackKey: sourceKey + "/playlist.m3u8", Status: "ok"}, nil
}

// ---- notifier ----

type fakeNotifier struct {
	mu         sync.Mutex
	approved   []uuid.UUID
	rejected   []uuid.UUID
	failed     []uuid.UUID
	transcoded []uuid.UUID
	resolved   []uuid.UUID
}

func (f *fakeNotifier) UploadApproved(uploadID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approved = append(f.approved, uploadID)
}

func (f *fakeNotifier) UploadRejected(uploadID uuid.UUID, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejected = append(f.rejected, uploadID)
}

func (f *fakeNotifier) UploadFailed(uploadID uuid.UUID, errorMessage string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, uploadID)
}

func (f *fakeNotifier) TranscodeCompleted(uploadID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcoded = append(f.transcoded, uploadID)
}

func (f *fakeNotifier) ItemResolved(itemID uuid.UUID, outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolved = append(f.resolved, itemID)
}
