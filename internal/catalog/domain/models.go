// Package domain describes priced catalog entries that invoices snapshot from.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindService  Kind = "service"
	KindMedicine Kind = "medicine"
)

// Entry is the name and price of a billable thing at lookup time.
type Entry struct {
	ID              snowflake.ID    `json:"id"`
	Kind            Kind            `json:"kind"`
	Name            string          `json:"name"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	DefaultQuantity int64           `json:"default_quantity"`
}

var (
	ErrNotFound = errors.New("catalog_entry_not_found")
	ErrInactive = errors.New("catalog_entry_inactive")
)

type Service interface {
	LookupService(ctx context.Context, id snowflake.ID) (*Entry, error)
	// LookupMedicine resolves a prescription item to the dispensed medicine.
	LookupMedicine(ctx context.Context, prescriptionItemID snowflake.ID) (*Entry, error)
}
