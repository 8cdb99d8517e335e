package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/clinicpay/internal/visit/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:visit_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.Exec(`CREATE TABLE visits (
		id INTEGER PRIMARY KEY,
		patient_id INTEGER NOT NULL,
		doctor_id TEXT,
		status TEXT NOT NULL,
		consultation_started_at DATETIME,
		consultation_ended_at DATETIME,
		completed_at DATETIME,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`).Error)
	return db
}

func TestMarkCompletedIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(Params{DB: db, Log: zap.NewNop()})
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, db.Create(&domain.Visit{ID: 10, PatientID: 7, Status: domain.StatusInConsultation, ConsultationStartedAt: &started}).Error)

	active, err := svc.IsConsultationActive(ctx, 10)
	require.NoError(t, err)
	assert.True(t, active)

	first := started.Add(time.Hour)
	require.NoError(t, svc.MarkCompleted(ctx, 10, first))
	require.NoError(t, svc.MarkCompleted(ctx, 10, first.Add(time.Hour)))

	visit, err := svc.GetVisit(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, visit.Status)
	require.NotNil(t, visit.CompletedAt)
	assert.True(t, visit.CompletedAt.Equal(first))
	assert.False(t, visit.ConsultationActive())
}

func TestMarkCompletedRejectsCancelledVisit(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(Params{DB: db, Log: zap.NewNop()})
	require.NoError(t, db.Create(&domain.Visit{ID: 11, PatientID: 7, Status: domain.StatusCancelled}).Error)

	err := svc.MarkCompleted(context.Background(), 11, time.Now())
	assert.ErrorIs(t, err, domain.ErrCancelled)

	_, err = svc.GetVisit(context.Background(), 999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
