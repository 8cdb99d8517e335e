// Package testutil opens throwaway in-memory SQLite databases carrying the
// billing schema. Monetary columns are TEXT so decimals round-trip exactly.
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var dbSeq atomic.Int64

var billingSchema = []string{
	`CREATE TABLE invoices (
		id INTEGER PRIMARY KEY,
		invoice_number TEXT NOT NULL UNIQUE,
		visit_id INTEGER NOT NULL UNIQUE,
		patient_id INTEGER NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		subtotal_amount TEXT NOT NULL DEFAULT '0',
		discount_kind TEXT NOT NULL DEFAULT 'none',
		discount_value TEXT NOT NULL DEFAULT '0',
		discount_amount TEXT NOT NULL DEFAULT '0',
		total_amount TEXT NOT NULL DEFAULT '0',
		paid_amount TEXT NOT NULL DEFAULT '0',
		balance_due TEXT NOT NULL DEFAULT '0',
		hold_reason TEXT,
		payment_due_date DATETIME,
		created_by TEXT NOT NULL,
		completed_by TEXT,
		completed_at DATETIME,
		cancelled_by TEXT,
		cancelled_reason TEXT,
		cancelled_at DATETIME,
		version INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX idx_invoices_patient_status ON invoices (patient_id, status)`,
	`CREATE TABLE invoice_items (
		id INTEGER PRIMARY KEY,
		invoice_id INTEGER NOT NULL REFERENCES invoices(id),
		item_type TEXT NOT NULL,
		item_id INTEGER NOT NULL,
		item_name TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		unit_price TEXT NOT NULL,
		total_price TEXT NOT NULL,
		notes TEXT,
		added_by TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE payment_transactions (
		id INTEGER PRIMARY KEY,
		invoice_id INTEGER NOT NULL REFERENCES invoices(id),
		amount TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		payment_reference TEXT,
		notes TEXT,
		received_by TEXT NOT NULL,
		received_at DATETIME NOT NULL
	)`,
	`CREATE TABLE patient_billing_guards (
		patient_id INTEGER PRIMARY KEY,
		version INTEGER NOT NULL DEFAULT 1,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE invoice_sequences (
		name TEXT PRIMARY KEY,
		last_value INTEGER NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE visits (
		id INTEGER PRIMARY KEY,
		patient_id INTEGER NOT NULL,
		doctor_id TEXT,
		status TEXT NOT NULL,
		consultation_started_at DATETIME,
		consultation_ended_at DATETIME,
		completed_at DATETIME,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE services (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		price TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE prescription_items (
		id INTEGER PRIMARY KEY,
		medicine_name TEXT NOT NULL,
		unit_price TEXT NOT NULL,
		quantity INTEGER NOT NULL
	)`,
	`CREATE TABLE audit_logs (
		id INTEGER PRIMARY KEY,
		actor_id TEXT NOT NULL,
		actor_role TEXT NOT NULL,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		old_values TEXT,
		new_values TEXT,
		reason TEXT,
		ip_address TEXT,
		user_agent TEXT,
		request_id TEXT,
		created_at DATETIME NOT NULL
	)`,
}

// OpenBillingDB returns a fresh in-memory database with the billing schema.
func OpenBillingDB(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:billing_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range billingSchema {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}
