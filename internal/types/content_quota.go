package types

import (
	"time"

	"github.com/google/uuid"
)

// ContentQuota is one (chapter, content type, calendar month) accounting
// window. MonthlyLimit = 0 means unlimited. CurrentUsage counts admitted
// submissions and is never decremented, even when the upload is later
// rejected.
type ContentQuota struct {
	ID          uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ChapterID   uuid.UUID `gorm:"type:uuid;column:chapter_id;not null;index:idx_content_quota_window,unique,priority:1" json:"chapter_id"`
	ContentType string    `gorm:"column:content_type;not null;index:idx_content_quota_window,unique,priority:2" json:"content_type"`

	MonthlyLimit int `gorm:"column:monthly_limit;not null;default:0" json:"monthly_limit"`
	CurrentUsage int `gorm:"column:current_usage;not null;default:0" json:"current_usage"`

	PeriodStart time.Time `gorm:"column:period_start;not null;index:idx_content_quota_window,unique,priority:3" json:"period_start"`
	PeriodEnd   time.Time `gorm:"column:period_end;not null" json:"period_end"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (ContentQuota) TableName() string { return "content_quota" }
