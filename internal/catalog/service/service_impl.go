package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/clinicpay/internal/catalog/domain"
	"gorm.io/gorm"
)

// Store reads the clinic's service catalog and prescriptions directly.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

type serviceRow struct {
	ID       snowflake.ID    `gorm:"primaryKey"`
	Name     string          `gorm:"type:text;not null"`
	Price    decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	IsActive bool            `gorm:"not null;default:true"`
}

func (serviceRow) TableName() string { return "services" }

type prescriptionRow struct {
	ID           snowflake.ID    `gorm:"primaryKey"`
	MedicineName string          `gorm:"type:text;not null"`
	UnitPrice    decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Quantity     int64           `gorm:"not null"`
}

func (prescriptionRow) TableName() string { return "prescription_items" }

// Models lists the catalog tables billing reads. They belong to the clinic
// system and are only created here for local databases.
func Models() []any {
	return []any{&serviceRow{}, &prescriptionRow{}}
}

func (s *Store) LookupService(ctx context.Context, id snowflake.ID) (*domain.Entry, error) {
	var row serviceRow
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, name, price, is_active
		 FROM services
		 WHERE id = ?`,
		id,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, domain.ErrNotFound
	}
	if !row.IsActive {
		return nil, domain.ErrInactive
	}
	return &domain.Entry{
		ID:              row.ID,
		Kind:            domain.KindService,
		Name:            row.Name,
		UnitPrice:       row.Price,
		DefaultQuantity: 1,
	}, nil
}

func (s *Store) LookupMedicine(ctx context.Context, prescriptionItemID snowflake.ID) (*domain.Entry, error) {
	var row prescriptionRow
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, medicine_name, unit_price, quantity
		 FROM prescription_items
		 WHERE id = ?`,
		prescriptionItemID,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, domain.ErrNotFound
	}
	qty := row.Quantity
	if qty <= 0 {
		qty = 1
	}
	return &domain.Entry{
		ID:              row.ID,
		Kind:            domain.KindMedicine,
		Name:            row.MedicineName,
		UnitPrice:       row.UnitPrice,
		DefaultQuantity: qty,
	}, nil
}
