package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// AuditLog rows are append-only; no update or delete path exists.
type AuditLog struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ActorID     uuid.UUID      `gorm:"type:uuid;column:actor_id;not null;index" json:"actor_id"`
	Action      string         `gorm:"column:action;not null;index" json:"action"`
	TargetType  string         `gorm:"column:target_type;not null;index" json:"target_type"`
	TargetID    uuid.UUID      `gorm:"type:uuid;column:target_id;not null;index" json:"target_id"`
	BeforeState datatypes.JSON `gorm:"column:before_state;type:jsonb" json:"before_state"`
	AfterState  datatypes.JSON `gorm:"column:after_state;type:jsonb" json:"after_state"`
	CreatedAt   time.Time      `gorm:"not null;default:now();index" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_log" }
