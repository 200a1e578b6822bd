package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	FlagSeverityLow    = "low"
	FlagSeverityMedium = "medium"
	FlagSeverityHigh   = "high"
)

// Moderation item statuses. Escalation is not a status: an escalated item
// stays pending at elevated priority.
const (
	FlagStatusPending  = "pending"
	FlagStatusApproved = "approved"
	FlagStatusRejected = "rejected"
)

// Reviewer actions accepted by Resolve.
const (
	ReviewActionApprove  = "approve"
	ReviewActionReject   = "reject"
	ReviewActionEscalate = "escalate_higher"
)

// FlaggedContent is one item awaiting human review, either user-flagged or
// auto-queued by upload intake. reviewed_by/reviewed_at are set iff status
// has left pending.
type FlaggedContent struct {
	ID          uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ContentType string    `gorm:"column:content_type;not null;index" json:"content_type"`
	ContentID   uuid.UUID `gorm:"type:uuid;column:content_id;not null;index" json:"content_id"`

	FlaggedBy  string `gorm:"column:flagged_by;not null" json:"flagged_by"`
	FlagReason string `gorm:"column:flag_reason;not null" json:"flag_reason"`
	Severity   string `gorm:"column:severity;not null;default:'low';index" json:"severity"`
	Priority   int    `gorm:"column:priority;not null;default:0;index" json:"priority"`

	Status      string     `gorm:"column:status;not null;default:'pending';index" json:"status"`
	ReviewedBy  *uuid.UUID `gorm:"type:uuid;column:reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time `gorm:"column:reviewed_at" json:"reviewed_at,omitempty"`
	ReviewNotes string     `gorm:"column:review_notes" json:"review_notes,omitempty"`
	ActionTaken string     `gorm:"column:action_taken" json:"action_taken,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (FlaggedContent) TableName() string { return "flagged_content" }
