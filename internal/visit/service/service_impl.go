package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clinicpay/internal/visit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewService(p Params) domain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("visit.service"),
	}
}

func (s *Service) GetVisit(ctx context.Context, id snowflake.ID) (*domain.Visit, error) {
	if id == 0 {
		return nil, domain.ErrInvalidVisit
	}
	var visit domain.Visit
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, patient_id, doctor_id, status, consultation_started_at,
			consultation_ended_at, completed_at, created_at, updated_at
		 FROM visits
		 WHERE id = ?`,
		id,
	).Scan(&visit).Error
	if err != nil {
		return nil, err
	}
	if visit.ID == 0 {
		return nil, domain.ErrNotFound
	}
	return &visit, nil
}

func (s *Service) MarkCompleted(ctx context.Context, id snowflake.ID, at time.Time) error {
	if id == 0 {
		return domain.ErrInvalidVisit
	}
	res := s.db.WithContext(ctx).Exec(
		`UPDATE visits
		 SET status = ?, completed_at = COALESCE(completed_at, ?), updated_at = ?
		 WHERE id = ? AND status <> ?`,
		domain.StatusCompleted,
		at,
		at,
		id,
		domain.StatusCancelled,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		s.log.Debug("visit marked completed", zap.String("visit_id", id.String()))
		return nil
	}

	visit, err := s.GetVisit(ctx, id)
	if err != nil {
		return err
	}
	if visit.Status == domain.StatusCancelled {
		return domain.ErrCancelled
	}
	return nil
}

func (s *Service) IsConsultationActive(ctx context.Context, id snowflake.ID) (bool, error) {
	visit, err := s.GetVisit(ctx, id)
	if err != nil {
		return false, err
	}
	return visit.ConsultationActive(), nil
}
