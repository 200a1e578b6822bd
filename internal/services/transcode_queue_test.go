package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/chapterhub/chapterhub-backend/internal/pkg/errors"
	"github.com/chapterhub/chapterhub-backend/internal/types"
)

type queueTestEnv struct {
	svc        *transcodeQueueService
	jobs       *fakeJobRepo
	uploads    *fakeUploadRepo
	transcoder *fakeTranscoder
	notifier   *fakeNotifier
}

func newQueueTestEnv(t *testing.T) *queueTestEnv {
	t.Helper()
	env := &queueTestEnv{
		jobs:       newFakeJobRepo(),
		uploads:    newFakeUploadRepo(),
		transcoder: &fakeTranscoder{},
		notifier:   &fakeNotifier{},
	}
	env.svc = &transcodeQueueService{
		log: testLogger(t),
		cfg: QueueConfig{
			Concurrency:    1,
			MaxAttempts:    3,
			BackoffBase:    5 * time.Second,
			AttemptTimeout: time.Second,
			PollInterval:   time.Millisecond,
			StaleActive:    time.Minute,
			KeepCompleted:  100,
			KeepFailed:     50,
		},
		jobs:       env.jobs,
		uploads:    env.uploads,
		transcoder: env.transcoder,
		notify:     env.notifier,
	}
	return env
}

func (env *queueTestEnv) seedJob(t *testing.T) (*types.TranscodeJob, *types.ContentUpload) {
	t.Helper()
	upload := &types.ContentUpload{
		ID:        uuid.New(),
		ChapterID: uuid.New(),
		FileType:  types.FileTypeVideo,
		FilePath:  "chapters/c/uploads/u",
		FileName:  "lecture.mp4",
		Status:    types.UploadStatusPending,
		Metadata:  []byte(`{}`),
	}
	if err := env.uploads.Create(testDBC(), upload); err != nil {
		t.Fatalf("seed upload: %v", err)
	}
	job := &types.TranscodeJob{
		ID:               uuid.New(),
		UploadID:         upload.ID,
		SourceKey:        upload.FilePath,
		OriginalFilename: upload.FileName,
		ChapterID:        upload.ChapterID,
		UploaderID:       uuid.New(),
		Status:           types.TranscodeStatusWaiting,
		CreatedAt:        time.Now(),
	}
	if err := env.jobs.Create(testDBC(), job); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return job, upload
}

func drainQueue(t *testing.T, env *queueTestEnv, maxRounds int) int {
	t.Helper()
	rounds := 0
	for i := 0; i < maxRounds; i++ {
		processed, err := env.svc.ProcessNext(context.Background())
		if err != nil {
			t.Fatalf("ProcessNext: %v", err)
		}
		if !processed {
			break
		}
		rounds++
	}
	return rounds
}

func TestQueue_SuccessOnFirstAttempt(t *testing.T) {
	env := newQueueTestEnv(t)
	job, upload := env.seedJob(t)

	if got := drainQueue(t, env, 10); got != 1 {
		t.Fatalf("attempts: want=1 got=%d", got)
	}

	final, _ := env.jobs.GetByID(testDBC(), job.ID)
	if final.Status != types.TranscodeStatusCompleted {
		t.Fatalf("job status: want=completed got=%s", final.Status)
	}
	if final.Progress != 100 {
		t.Fatalf("job progress: want=100 got=%d", final.Progress)
	}

	stored, _ := env.uploads.GetByID(testDBC(), upload.ID)
	if stored.Status != types.UploadStatusApproved {
		t.Fatalf("upload status: want=approved got=%s", stored.Status)
	}
	if stored.ApprovedBy == nil || *stored.ApprovedBy != types.PipelineActorID {
		t.Fatalf("approved_by: want=%s got=%v", types.PipelineActorID, stored.ApprovedBy)
	}
	if stored.ApprovedAt == nil {
		t.Fatal("approved_at must be set on an approved upload")
	}
	meta := map[string]any{}
	if err := json.Unmarshal(stored.Metadata, &meta); err != nil {
		t.Fatalf("metadata decode: %v", err)
	}
	for _, key := range []string{"duration_sec", "thumbnail_key", "playback_key"} {
		if _, ok := meta[key]; !ok {
			t.Fatalf("metadata missing %s: %v", key, meta)
		}
	}
	if _, ok := meta["processing_error"]; ok {
		t.Fatalf("successful transcode must not carry processing_error: %v", meta)
	}
	if len(env.notifier.transcoded) != 1 || env.notifier.transcoded[0] != upload.ID {
		t.Fatalf("completion notification: got %v", env.notifier.transcoded)
	}
}

func TestQueue_RetriesThenSucceeds(t *testing.T) {
	env := newQueueTestEnv(t)
	job, upload := env.seedJob(t)
	env.transcoder.outcomes = []error{errors.New("encoder busy"), nil}

	if got := drainQueue(t, env, 10); got != 2 {
		t.Fatalf("attempts: want=2 got=%d", got)
	}

	final, _ := env.jobs.GetByID(testDBC(), job.ID)
	if final.Status != types.TranscodeStatusCompleted {
		t.Fatalf("job status: want=completed got=%s", final.Status)
	}
	if final.Attempts != 2 {
		t.Fatalf("attempts recorded: want=2 got=%d", final.Attempts)
	}

	stored, _ := env.uploads.GetByID(testDBC(), upload.ID)
	if stored.Status != types.UploadStatusApproved {
		t.Fatalf("upload status: want=approved got=%s", stored.Status)
	}
	meta := map[string]any{}
	_ = json.Unmarshal(stored.Metadata, &meta)
	if _, ok := meta["processing_error"]; ok {
		t.Fatalf("recovered job must not leave processing_error behind: %v", meta)
	}
	if len(env.notifier.failed) != 0 {
		t.Fatalf("recovered job must not emit a failure notification, got %v", env.notifier.failed)
	}
}

func TestQueue_ExhaustsThreeAttemptsThenFails(t *testing.T) {
	env := newQueueTestEnv(t)
	job, upload := env.seedJob(t)
	cause := errors.New("corrupt container")
	env.transcoder.outcomes = []error{cause, cause, cause, cause}

	if got := drainQueue(t, env, 10); got != 3 {
		t.Fatalf("attempts: want exactly 3, got=%d", got)
	}
	if env.transcoder.calls != 3 {
		t.Fatalf("transcoder calls: want=3 got=%d", env.transcoder.calls)
	}

	final, _ := env.jobs.GetByID(testDBC(), job.ID)
	if final.Status != types.TranscodeStatusFailed {
		t.Fatalf("job status: want=failed got=%s", final.Status)
	}
	if final.LastError == "" {
		t.Fatal("failed job must record the last error")
	}

	stored, _ := env.uploads.GetByID(testDBC(), upload.ID)
	if stored.Status != types.UploadStatusFailed {
		t.Fatalf("upload status: want=failed got=%s", stored.Status)
	}
	meta := map[string]any{}
	_ = json.Unmarshal(stored.Metadata, &meta)
	if meta["processing_error"] != cause.Error() {
		t.Fatalf("processing_error: want=%q got=%v", cause.Error(), meta["processing_error"])
	}
	if len(env.notifier.failed) != 1 || env.notifier.failed[0] != upload.ID {
		t.Fatalf("failure notification: got %v", env.notifier.failed)
	}
}

func TestQueue_BackoffDoubles(t *testing.T) {
	env := newQueueTestEnv(t)
	env.seedJob(t)
	boom := errors.New("transient")
	env.transcoder.outcomes = []error{boom, boom, boom}

	before := time.Now()
	drainQueue(t, env, 10)

	if len(env.jobs.retries) != 2 {
		t.Fatalf("retry schedules: want=2 got=%d", len(env.jobs.retries))
	}
	wantDelays := []time.Duration{5 * time.Second, 10 * time.Second}
	for i, rec := range env.jobs.retries {
		got := rec.NextAttemptAt.Sub(before)
		if got < wantDelays[i]-time.Second || got > wantDelays[i]+2*time.Second {
			t.Fatalf("retry %d delay: want~%v got=%v", i+1, wantDelays[i], got)
		}
	}
}

func TestQueue_BackoffForSchedule(t *testing.T) {
	env := newQueueTestEnv(t)
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
	}
	for _, tc := range cases {
		if got := env.svc.backoffFor(tc.attempt); got != tc.want {
			t.Fatalf("backoff after attempt %d: want=%v got=%v", tc.attempt, tc.want, got)
		}
	}
}

func TestQueue_MarksUploadProcessingOnFirstAttempt(t *testing.T) {
	env := newQueueTestEnv(t)
	_, upload := env.seedJob(t)
	env.transcoder.outcomes = []error{errors.New("slow disk")}

	if _, err := env.svc.ProcessNext(context.Background()); err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}
	stored, _ := env.uploads.GetByID(testDBC(), upload.ID)
	if stored.Status != types.UploadStatusProcessing {
		t.Fatalf("upload status after first attempt: want=processing got=%s", stored.Status)
	}
}

func TestQueue_ProcessNextIdleQueue(t *testing.T) {
	env := newQueueTestEnv(t)
	processed, err := env.svc.ProcessNext(context.Background())
	if err != nil {
		t.Fatalf("ProcessNext on empty queue: %v", err)
	}
	if processed {
		t.Fatal("empty queue must report nothing processed")
	}
}

func TestQueue_GetJobStatus(t *testing.T) {
	env := newQueueTestEnv(t)
	job, _ := env.seedJob(t)

	status, err := env.svc.GetJobStatus(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJobStatus: %v", err)
	}
	if status.JobID != job.ID || status.State != types.TranscodeStatusWaiting {
		t.Fatalf("status: got %+v", status)
	}

	if _, err := env.svc.GetJobStatus(context.Background(), uuid.New()); !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Fatalf("missing job: want not found, got %v", err)
	}
}

func TestQueue_GetQueueStats(t *testing.T) {
	env := newQueueTestEnv(t)
	env.seedJob(t)
	job2, _ := env.seedJob(t)
	if err := env.jobs.MarkFailed(testDBC(), job2.ID, "x"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	stats, err := env.svc.GetQueueStats(context.Background())
	if err != nil {
		t.Fatalf("GetQueueStats: %v", err)
	}
	if stats.Waiting != 1 || stats.Failed != 1 {
		t.Fatalf("stats: want waiting=1 failed=1, got %+v", stats)
	}
}

func TestQueue_StartStopDrains(t *testing.T) {
	env := newQueueTestEnv(t)
	_, upload := env.seedJob(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.svc.Start(ctx)

	deadline := time.After(2 * time.Second)
	for {
		stored, _ := env.uploads.GetByID(testDBC(), upload.ID)
		if stored.Status == types.UploadStatusApproved {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("upload never approved, status=%s", stored.Status)
		case <-time.After(5 * time.Millisecond):
		}
	}
	env.svc.Stop()
}
