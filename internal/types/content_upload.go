package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// File type enum for ContentUpload.FileType.
const (
	FileTypeVideo    = "video"
	FileTypeDocument = "document"
	FileTypeImage    = "image"
	FileTypeAudio    = "audio"
)

// Upload lifecycle statuses. approved/rejected/failed are terminal.
const (
	UploadStatusPending    = "pending"
	UploadStatusProcessing = "processing"
	UploadStatusApproved   = "approved"
	UploadStatusRejected   = "rejected"
	UploadStatusFailed     = "failed"
	UploadStatusDraft      = "draft"
)

// PipelineActorID attributes automated approvals. The transcode pipeline
// writes it to approved_by so that approved rows always carry an actor.
var PipelineActorID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

type ContentUpload struct {
	ID          uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Title       string    `gorm:"column:title;not null" json:"title"`
	Description string    `gorm:"column:description" json:"description,omitempty"`

	FileName      string `gorm:"column:file_name;not null" json:"file_name"`
	FileType      string `gorm:"column:file_type;not null;index" json:"file_type"`
	FilePath      string `gorm:"column:file_path" json:"file_path"`
	FileSizeBytes int64  `gorm:"column:file_size_bytes" json:"file_size_bytes"`
	MimeType      string `gorm:"column:mime_type" json:"mime_type"`
	FileURL       string `gorm:"column:file_url" json:"file_url,omitempty"`

	UploaderID uuid.UUID `gorm:"type:uuid;column:uploader_id;not null;index" json:"uploader_id"`
	ChapterID  uuid.UUID `gorm:"type:uuid;column:chapter_id;not null;index" json:"chapter_id"`

	Tags     datatypes.JSON `gorm:"column:tags;type:jsonb" json:"tags"`
	Category string         `gorm:"column:category;index" json:"category,omitempty"`

	Status          string         `gorm:"column:status;not null;default:'pending';index" json:"status"`
	RejectionReason string         `gorm:"column:rejection_reason" json:"rejection_reason,omitempty"`
	ApprovedBy      *uuid.UUID     `gorm:"type:uuid;column:approved_by" json:"approved_by,omitempty"`
	ApprovedAt      *time.Time     `gorm:"column:approved_at" json:"approved_at,omitempty"`
	Metadata        datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata"`

	// Version chain: exactly one row per chain has is_latest = true.
	Version         int        `gorm:"column:version;not null;default:1" json:"version"`
	ParentVersionID *uuid.UUID `gorm:"type:uuid;column:parent_version_id;index" json:"parent_version_id,omitempty"`
	IsLatest        bool       `gorm:"column:is_latest;not null;default:true;index" json:"is_latest"`

	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (ContentUpload) TableName() string { return "content_upload" }

// IsTerminal reports whether status permits no further automatic transition.
func (u *ContentUpload) IsTerminal() bool {
	switch u.Status {
	case UploadStatusApproved, UploadStatusRejected, UploadStatusFailed:
		return true
	default:
		return false
	}
}
