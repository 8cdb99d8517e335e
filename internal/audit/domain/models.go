package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// AuditLog is one persisted audit entry.
type AuditLog struct {
	ID         snowflake.ID      `json:"id" gorm:"primaryKey"`
	ActorID    string            `json:"actor_id" gorm:"type:text;not null"`
	ActorRole  string            `json:"actor_role" gorm:"type:text;not null"`
	Action     string            `json:"action" gorm:"type:text;not null"`
	EntityType string            `json:"entity_type" gorm:"type:text;not null;index:idx_audit_entity"`
	EntityID   string            `json:"entity_id" gorm:"type:text;not null;index:idx_audit_entity"`
	OldValues  datatypes.JSONMap `json:"old_values,omitempty" gorm:"type:jsonb"`
	NewValues  datatypes.JSONMap `json:"new_values,omitempty" gorm:"type:jsonb"`
	Reason     *string           `json:"reason,omitempty" gorm:"type:text"`
	IPAddress  *string           `json:"ip_address,omitempty" gorm:"type:text"`
	UserAgent  *string           `json:"user_agent,omitempty" gorm:"type:text"`
	RequestID  *string           `json:"request_id,omitempty" gorm:"type:text"`
	CreatedAt  time.Time         `json:"created_at" gorm:"not null"`
}

func (AuditLog) TableName() string { return "audit_logs" }

// Event is what callers hand to the audit collaborator.
type Event struct {
	ActorID    string
	ActorRole  string
	Action     string
	EntityType string
	EntityID   string
	OldValues  map[string]any
	NewValues  map[string]any
	Reason     string
	IPAddress  string
	UserAgent  string
	RequestID  string
}

type AuditCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	EntityType string
	EntityID   string
	Cursor     *AuditCursor
	Limit      int
}
