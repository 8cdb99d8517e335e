package domain

import (
	"context"
	"errors"

	"github.com/smallbiznis/clinicpay/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListAuditLogRequest struct {
	pagination.Pagination
	EntityType string
	EntityID   string
}

type ListAuditLogResponse struct {
	pagination.PageInfo
	AuditLogs []AuditLog `json:"audit_logs"`
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]AuditLog, error)
}

// Emitter accepts audit events without blocking the caller. Emit never fails;
// events that cannot be delivered are dropped and logged.
type Emitter interface {
	Emit(ctx context.Context, event Event)
}

type Service interface {
	Record(ctx context.Context, event Event) error
	List(ctx context.Context, req ListAuditLogRequest) (ListAuditLogResponse, error)
}

var (
	ErrInvalidAction    = errors.New("invalid_action")
	ErrInvalidEntity    = errors.New("invalid_entity")
	ErrInvalidPageToken = errors.New("invalid_page_token")
)
