// Package domain describes the clinical visit as seen by billing.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusScheduled      Status = "scheduled"
	StatusCheckedIn      Status = "checked_in"
	StatusInConsultation Status = "in_consultation"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
)

// Visit is owned by the clinical workflow. Billing reads it and marks it completed.
type Visit struct {
	ID                    snowflake.ID `json:"id" gorm:"primaryKey"`
	PatientID             snowflake.ID `json:"patient_id" gorm:"not null;index"`
	DoctorID              *string      `json:"doctor_id,omitempty" gorm:"type:text"`
	Status                Status       `json:"status" gorm:"type:text;not null"`
	ConsultationStartedAt *time.Time   `json:"consultation_started_at,omitempty"`
	ConsultationEndedAt   *time.Time   `json:"consultation_ended_at,omitempty"`
	CompletedAt           *time.Time   `json:"completed_at,omitempty"`
	CreatedAt             time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt             time.Time    `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Visit) TableName() string { return "visits" }

// ConsultationActive reports whether a doctor is still inside the consultation window.
func (v *Visit) ConsultationActive() bool {
	return v.Status == StatusInConsultation &&
		v.ConsultationStartedAt != nil &&
		v.ConsultationEndedAt == nil
}

var (
	ErrNotFound     = errors.New("visit_not_found")
	ErrCancelled    = errors.New("visit_cancelled")
	ErrInvalidVisit = errors.New("invalid_visit_id")
)

type Service interface {
	GetVisit(ctx context.Context, id snowflake.ID) (*Visit, error)
	// MarkCompleted is idempotent; completing a completed visit is a no-op.
	MarkCompleted(ctx context.Context, id snowflake.ID, at time.Time) error
	IsConsultationActive(ctx context.Context, id snowflake.ID) (bool, error)
}
