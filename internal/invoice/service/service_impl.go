package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/clinicpay/internal/audit/domain"
	catalogdomain "github.com/smallbiznis/clinicpay/internal/catalog/domain"
	"github.com/smallbiznis/clinicpay/internal/clock"
	"github.com/smallbiznis/clinicpay/internal/config"
	"github.com/smallbiznis/clinicpay/internal/invoice/balance"
	"github.com/smallbiznis/clinicpay/internal/invoice/domain"
	"github.com/smallbiznis/clinicpay/internal/observability/metrics"
	visitdomain "github.com/smallbiznis/clinicpay/internal/visit/domain"
	dbpkg "github.com/smallbiznis/clinicpay/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const entityInvoice = "invoice"

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    domain.Repository
	Balance *balance.Calculator
	Visits  visitdomain.Service
	Catalog catalogdomain.Service
	Audit   auditdomain.Emitter
	Policy  config.PolicySource
	Clock   clock.Clock      `optional:"true"`
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID   *snowflake.Node
	repo    domain.Repository
	balance *balance.Calculator
	visits  visitdomain.Service
	catalog catalogdomain.Service
	audit   auditdomain.Emitter
	policy  config.PolicySource
	clock   clock.Clock
	metrics *metrics.Metrics
}

func NewService(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("invoice.service"),
		genID: p.GenID,

		repo:    p.Repo,
		balance: p.Balance,
		visits:  p.Visits,
		catalog: p.Catalog,
		audit:   p.Audit,
		policy:  p.Policy,
		clock:   clk,
		metrics: p.Metrics,
	}
}

// effects collects what a committed mutation must announce. Nothing in it
// runs inside the storage transaction.
type effects struct {
	at              time.Time
	audits          []auditdomain.Event
	transitions     [][2]domain.InvoiceStatus
	payments        []domain.PaymentMethod
	completedVisits []snowflake.ID
}

func (e *effects) transition(from, to domain.InvoiceStatus) {
	if from != to {
		e.transitions = append(e.transitions, [2]domain.InvoiceStatus{from, to})
	}
}

func (e *effects) record(event auditdomain.Event) {
	e.audits = append(e.audits, event)
}

func (s *Service) scale() int32 {
	return s.policy.Get().CurrencyScale
}

// mutate runs fn in one transaction and retries the whole operation when a
// concurrent writer advanced an invoice version first.
func (s *Service) mutate(ctx context.Context, op string, fn func(tx *gorm.DB, eff *effects) error) (*effects, error) {
	retries := s.policy.Get().MaxMutationRetries
	if retries < 0 {
		retries = 0
	}

	for attempt := 0; ; attempt++ {
		eff := &effects{at: s.clock.Now()}
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(tx, eff)
		})
		if err == nil {
			return eff, nil
		}

		if errors.Is(err, domain.ErrVersionConflict) {
			s.metrics.RecordVersionConflict(ctx, op)
			if attempt < retries && ctx.Err() == nil {
				s.log.Debug("retrying after version conflict",
					zap.String("operation", op),
					zap.Int("attempt", attempt+1),
				)
				continue
			}
		}
		if errors.Is(err, domain.ErrCapExceeded) {
			s.metrics.RecordCapRejection(ctx, op)
		}
		return nil, s.classify(op, err)
	}
}

// classify leaves domain errors alone and turns transient storage failures
// into UpstreamUnavailableError.
func (s *Service) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrVersionConflict) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, domain.ErrUpstreamUnavailable) {
		return err
	}
	if dbpkg.IsUnavailable(err) {
		return &domain.UpstreamUnavailableError{Op: op, Err: err}
	}
	return err
}

// apply publishes post-commit effects and returns result warnings.
func (s *Service) apply(ctx context.Context, eff *effects) []string {
	for _, t := range eff.transitions {
		s.metrics.RecordInvoiceTransition(ctx, string(t[0]), string(t[1]))
	}
	for _, method := range eff.payments {
		s.metrics.RecordPayment(ctx, string(method))
	}
	for _, event := range eff.audits {
		s.audit.Emit(ctx, event)
	}

	var warnings []string
	for _, visitID := range eff.completedVisits {
		if err := s.visits.MarkCompleted(ctx, visitID, eff.at); err != nil {
			s.log.Warn("failed to mark visit completed",
				zap.String("visit_id", visitID.String()),
				zap.Error(err),
			)
			s.metrics.RecordVisitUpdateFailed(ctx)
			if len(warnings) == 0 {
				warnings = append(warnings, domain.WarningVisitUpdateFailed)
			}
		}
	}
	return warnings
}

// load reads an invoice with its live items and payments and refreshes the
// derived money columns.
func (s *Service) load(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.InvoiceDetail, error) {
	invoice, err := s.repo.FindInvoice(ctx, db, id)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, domain.ErrInvoiceNotFound
	}
	items, err := s.repo.ListItems(ctx, db, id)
	if err != nil {
		return nil, err
	}
	payments, err := s.repo.ListPayments(ctx, db, id)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.InvoiceItem{}
	}
	if payments == nil {
		payments = []domain.PaymentTransaction{}
	}

	invoice.Recalculate(items, payments, s.scale())
	return &domain.InvoiceDetail{Invoice: *invoice, Items: items, Payments: payments}, nil
}

// save recomputes totals and writes the invoice under its version check.
func (s *Service) save(ctx context.Context, tx *gorm.DB, d *domain.InvoiceDetail, now time.Time) error {
	d.Invoice.Recalculate(d.Items, d.Payments, s.scale())
	if d.Invoice.BalanceDue.IsNegative() {
		return domain.ErrTotalBelowPaid
	}
	d.Invoice.UpdatedAt = now
	return s.repo.UpdateInvoice(ctx, tx, &d.Invoice)
}

func (s *Service) lookupVisit(ctx context.Context, id snowflake.ID) (*visitdomain.Visit, error) {
	visit, err := s.visits.GetVisit(ctx, id)
	switch {
	case err == nil:
		return visit, nil
	case errors.Is(err, visitdomain.ErrNotFound):
		return nil, domain.ErrVisitNotFound
	case errors.Is(err, visitdomain.ErrInvalidVisit):
		return nil, domain.ErrInvalidVisitID
	}
	return nil, s.classify("get_visit", err)
}

func (s *Service) lookupCatalog(ctx context.Context, itemType domain.ItemType, id snowflake.ID) (*catalogdomain.Entry, error) {
	var (
		entry *catalogdomain.Entry
		err   error
	)
	switch itemType {
	case domain.ItemTypeService:
		entry, err = s.catalog.LookupService(ctx, id)
	case domain.ItemTypeMedicine:
		entry, err = s.catalog.LookupMedicine(ctx, id)
	default:
		return nil, domain.ErrInvalidItemType
	}
	switch {
	case err == nil:
		return entry, nil
	case errors.Is(err, catalogdomain.ErrNotFound):
		return nil, domain.ErrCatalogNotFound
	case errors.Is(err, catalogdomain.ErrInactive):
		return nil, domain.ErrCatalogEntryInactive
	}
	return nil, s.classify("lookup_catalog", err)
}

func invoiceEvent(actor domain.Actor, action string, invoice *domain.Invoice, oldValues, newValues map[string]any, reason string) auditdomain.Event {
	return auditdomain.Event{
		ActorID:    actor.ID,
		ActorRole:  string(actor.Role),
		Action:     action,
		EntityType: entityInvoice,
		EntityID:   invoice.ID.String(),
		OldValues:  oldValues,
		NewValues:  newValues,
		Reason:     reason,
	}
}

func snapshot(invoice *domain.Invoice) map[string]any {
	values := map[string]any{
		"invoice_number":  invoice.InvoiceNumber,
		"status":          string(invoice.Status),
		"subtotal_amount": invoice.SubtotalAmount.String(),
		"discount_kind":   string(invoice.DiscountKind),
		"discount_value":  invoice.DiscountValue.String(),
		"discount_amount": invoice.DiscountAmount.String(),
		"total_amount":    invoice.TotalAmount.String(),
		"paid_amount":     invoice.PaidAmount.String(),
		"balance_due":     invoice.BalanceDue.String(),
	}
	if invoice.HoldReason != nil {
		values["hold_reason"] = *invoice.HoldReason
	}
	if invoice.PaymentDueDate != nil {
		values["payment_due_date"] = invoice.PaymentDueDate.Format(time.DateOnly)
	}
	return values
}

func itemSnapshot(item domain.InvoiceItem) map[string]any {
	values := map[string]any{
		"id":          item.ID.String(),
		"item_type":   string(item.ItemType),
		"item_id":     item.ItemID.String(),
		"item_name":   item.ItemName,
		"quantity":    item.Quantity,
		"unit_price":  item.UnitPrice.String(),
		"total_price": item.TotalPrice.String(),
	}
	if item.Notes != nil {
		values["notes"] = *item.Notes
	}
	return values
}

func paymentSnapshot(p domain.PaymentTransaction) map[string]any {
	values := map[string]any{
		"payment_id":     p.ID.String(),
		"amount":         p.Amount.String(),
		"payment_method": string(p.PaymentMethod),
	}
	if p.PaymentReference != nil {
		values["payment_reference"] = *p.PaymentReference
	}
	return values
}

func with(values map[string]any, key string, value any) map[string]any {
	values[key] = value
	return values
}

func optionalText(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func stringPtr(value string) *string {
	return &value
}

func timePtr(value time.Time) *time.Time {
	return &value
}

// validDueDate rejects dates before the current calendar day.
func validDueDate(due *time.Time, now time.Time) bool {
	if due == nil {
		return true
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return !due.UTC().Before(today)
}
