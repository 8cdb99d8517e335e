package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/clinicpay/internal/invoice/domain"
	"github.com/smallbiznis/clinicpay/pkg/money"
	"gorm.io/gorm"
)

type paymentInput struct {
	method     domain.PaymentMethod
	reference  *string
	notes      *string
	holdReason *string
	dueDate    *time.Time
	// auditReason annotates the ledger entry in the audit trail.
	auditReason string
}

// RecordPayment appends a payment and advances the invoice status. With
// IncludePreviousBalance the patient's older outstanding invoices are settled
// in full first and only the remainder is applied here, all in one
// transaction.
func (s *Service) RecordPayment(ctx context.Context, invoiceID snowflake.ID, req domain.PaymentRequest, actor domain.Actor) (*domain.PaymentResult, error) {
	if invoiceID == 0 {
		return nil, domain.ErrInvalidInvoiceID
	}
	if !actor.Valid() {
		return nil, domain.ErrInvalidActor
	}
	scale := s.scale()
	if !req.Amount.IsPositive() || money.HasExcessPrecision(req.Amount, scale) {
		return nil, domain.ErrInvalidAmount
	}
	if !req.Method.Valid() {
		return nil, domain.ErrInvalidPaymentMethod
	}
	if !validDueDate(req.DueDate, s.clock.Now()) {
		return nil, domain.ErrInvalidDueDate
	}
	in := paymentInput{
		method:     req.Method,
		reference:  optionalText(req.Reference),
		notes:      optionalText(req.Notes),
		holdReason: optionalText(req.HoldReason),
		dueDate:    req.DueDate,
	}

	var result *domain.PaymentResult
	eff, err := s.mutate(ctx, "record_payment", func(tx *gorm.DB, eff *effects) error {
		d, err := s.load(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if err := domain.CheckMutable(d.Invoice.Status, "record payment on"); err != nil {
			return err
		}
		if err := s.repo.LockPatient(ctx, tx, d.Invoice.PatientID, eff.at); err != nil {
			return err
		}

		remaining := money.Round(req.Amount, scale)
		res := &domain.PaymentResult{}
		if req.IncludePreviousBalance {
			settled, rest, err := s.settlePrevious(ctx, tx, eff, d, remaining, in, actor)
			if err != nil {
				return err
			}
			res.Settled = settled
			res.RolledOverAmount = remaining.Sub(rest)
			remaining = rest
		}

		if remaining.IsPositive() {
			payment, err := s.applyPayment(ctx, tx, eff, d, remaining, in, actor)
			if err != nil {
				return err
			}
			res.Payment = payment
		}

		res.InvoiceDetail = *d
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Warnings = s.apply(ctx, eff)
	return result, nil
}

// CompleteInvoice collects whatever balance remains and marks the invoice
// paid. A zero-balance invoice is closed without a ledger entry.
func (s *Service) CompleteInvoice(ctx context.Context, invoiceID snowflake.ID, req domain.CompleteRequest, actor domain.Actor) (*domain.PaymentResult, error) {
	if invoiceID == 0 {
		return nil, domain.ErrInvalidInvoiceID
	}
	if !actor.Valid() {
		return nil, domain.ErrInvalidActor
	}
	method := req.Method
	if method == "" {
		method = domain.PaymentMethodCash
	}
	if !method.Valid() {
		return nil, domain.ErrInvalidPaymentMethod
	}
	in := paymentInput{
		method:    method,
		reference: optionalText(req.Reference),
		notes:     optionalText(req.Notes),
	}

	var result *domain.PaymentResult
	eff, err := s.mutate(ctx, "complete_invoice", func(tx *gorm.DB, eff *effects) error {
		d, err := s.load(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if err := domain.CheckMutable(d.Invoice.Status, "complete"); err != nil {
			return err
		}

		res := &domain.PaymentResult{}
		if d.Invoice.BalanceDue.IsPositive() {
			payment, err := s.applyPayment(ctx, tx, eff, d, d.Invoice.BalanceDue, in, actor)
			if err != nil {
				return err
			}
			res.Payment = payment
		} else {
			if err := s.closePaid(ctx, tx, eff, d, actor); err != nil {
				return err
			}
		}

		res.InvoiceDetail = *d
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Warnings = s.apply(ctx, eff)
	return result, nil
}

// applyPayment appends amount to d's ledger and moves d to its next status.
// d must have been loaded in tx.
func (s *Service) applyPayment(ctx context.Context, tx *gorm.DB, eff *effects, d *domain.InvoiceDetail, amount decimal.Decimal, in paymentInput, actor domain.Actor) (*domain.PaymentTransaction, error) {
	invoice := &d.Invoice
	if amount.GreaterThan(invoice.BalanceDue) {
		return nil, domain.ErrOverpayment
	}
	if amount.LessThan(invoice.BalanceDue) {
		if _, err := s.balance.CheckCap(ctx, tx, invoice.PatientID, invoice.ID); err != nil {
			return nil, err
		}
	}

	before := snapshot(invoice)
	from := invoice.Status
	payment := domain.PaymentTransaction{
		ID:               s.genID.Generate(),
		InvoiceID:        invoice.ID,
		Amount:           amount,
		PaymentMethod:    in.method,
		PaymentReference: in.reference,
		Notes:            in.notes,
		ReceivedBy:       actor.ID,
		ReceivedAt:       eff.at,
	}
	if err := s.repo.InsertPayment(ctx, tx, &payment); err != nil {
		return nil, err
	}
	d.Payments = append(d.Payments, payment)
	invoice.Recalculate(d.Items, d.Payments, s.scale())

	to := invoice.StatusAfterPayment()
	if to != domain.InvoiceStatusPaid && in.holdReason != nil {
		to = domain.InvoiceStatusOnHold
	}
	if to != from {
		if err := domain.CheckTransition(from, to, "record payment on"); err != nil {
			return nil, err
		}
	}
	invoice.Status = to

	switch to {
	case domain.InvoiceStatusPaid:
		invoice.CompletedBy = stringPtr(actor.ID)
		invoice.CompletedAt = timePtr(eff.at)
		invoice.HoldReason = nil
		invoice.PaymentDueDate = nil
		eff.completedVisits = append(eff.completedVisits, invoice.VisitID)
	case domain.InvoiceStatusOnHold:
		if in.holdReason != nil {
			invoice.HoldReason = in.holdReason
		}
	}
	if to != domain.InvoiceStatusPaid && in.dueDate != nil {
		invoice.PaymentDueDate = timePtr(in.dueDate.UTC())
	}

	if err := s.save(ctx, tx, d, eff.at); err != nil {
		return nil, err
	}

	eff.transition(from, to)
	eff.payments = append(eff.payments, in.method)
	eff.record(invoiceEvent(actor, "invoice.payment_recorded", invoice, before,
		with(snapshot(invoice), "payment", paymentSnapshot(payment)), in.auditReason))
	return &payment, nil
}

// closePaid marks a zero-balance invoice paid.
func (s *Service) closePaid(ctx context.Context, tx *gorm.DB, eff *effects, d *domain.InvoiceDetail, actor domain.Actor) error {
	invoice := &d.Invoice
	from := invoice.Status
	if err := domain.CheckTransition(from, domain.InvoiceStatusPaid, "complete"); err != nil {
		return err
	}

	before := snapshot(invoice)
	invoice.Status = domain.InvoiceStatusPaid
	invoice.CompletedBy = stringPtr(actor.ID)
	invoice.CompletedAt = timePtr(eff.at)
	invoice.HoldReason = nil
	invoice.PaymentDueDate = nil
	if err := s.save(ctx, tx, d, eff.at); err != nil {
		return err
	}

	eff.transition(from, domain.InvoiceStatusPaid)
	eff.completedVisits = append(eff.completedVisits, invoice.VisitID)
	eff.record(invoiceEvent(actor, "invoice.completed", invoice, before, snapshot(invoice), ""))
	return nil
}

// settlePrevious pays off every other outstanding invoice of the patient,
// oldest first, and returns what is left of amount. It fails without
// touching anything when amount does not cover them all.
func (s *Service) settlePrevious(ctx context.Context, tx *gorm.DB, eff *effects, current *domain.InvoiceDetail, amount decimal.Decimal, in paymentInput, actor domain.Actor) ([]domain.OutstandingInvoice, decimal.Decimal, error) {
	previous, err := s.balance.OutstandingInvoices(ctx, tx, current.Invoice.PatientID, current.Invoice.ID)
	if err != nil {
		return nil, decimal.Zero, err
	}

	owed := decimal.Zero
	for i := range previous {
		if previous[i].BalanceDue.IsPositive() {
			owed = owed.Add(previous[i].BalanceDue)
		}
	}
	if amount.LessThan(owed) {
		return nil, decimal.Zero, domain.ErrRolloverAmountTooLow
	}

	note := fmt.Sprintf("settled with payment on invoice %s", current.Invoice.InvoiceNumber)
	settleIn := paymentInput{
		method:      in.method,
		reference:   in.reference,
		notes:       &note,
		auditReason: "balance_rollover",
	}

	settled := make([]domain.OutstandingInvoice, 0, len(previous))
	for i := range previous {
		if !previous[i].BalanceDue.IsPositive() {
			continue
		}
		d, err := s.load(ctx, tx, previous[i].ID)
		if err != nil {
			return nil, decimal.Zero, err
		}
		if _, err := s.applyPayment(ctx, tx, eff, d, d.Invoice.BalanceDue, settleIn, actor); err != nil {
			return nil, decimal.Zero, err
		}
		settled = append(settled, d.Invoice.Summary())
	}
	return settled, amount.Sub(owed), nil
}
