package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Transcode job lifecycle. waiting -> active -> (completed | waiting [retry] | failed).
const (
	TranscodeStatusWaiting   = "waiting"
	TranscodeStatusActive    = "active"
	TranscodeStatusCompleted = "completed"
	TranscodeStatusFailed    = "failed"
)

// TranscodeJob is one durable transcoding unit of work. Job identity is
// (upload_id, created_at); duplicate submissions stay distinguishable. The
// at-most-one-in-flight-per-upload invariant is enforced at intake, not here.
type TranscodeJob struct {
	ID       uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UploadID uuid.UUID `gorm:"type:uuid;column:upload_id;not null;index" json:"upload_id"`

	SourceKey        string    `gorm:"column:source_key;not null" json:"source_key"`
	OriginalFilename string    `gorm:"column:original_filename;not null" json:"original_filename"`
	ChapterID        uuid.UUID `gorm:"type:uuid;column:chapter_id;not null;index" json:"chapter_id"`
	UploaderID       uuid.UUID `gorm:"type:uuid;column:uploader_id;not null;index" json:"uploader_id"`

	Status   string `gorm:"column:status;not null;default:'waiting';index" json:"status"`
	Attempts int    `gorm:"column:attempts;not null;default:0" json:"attempts"`
	Progress int    `gorm:"column:progress;not null;default:0" json:"progress"`

	LastError     string     `gorm:"column:last_error" json:"last_error,omitempty"`
	NextAttemptAt *time.Time `gorm:"column:next_attempt_at;index" json:"next_attempt_at,omitempty"`
	LockedAt      *time.Time `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
	FinishedAt    *time.Time `gorm:"column:finished_at;index" json:"finished_at,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (TranscodeJob) TableName() string { return "transcode_job" }
