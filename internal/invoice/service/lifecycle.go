package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/clinicpay/internal/invoice/domain"
	"github.com/smallbiznis/clinicpay/internal/invoice/format"
	"gorm.io/gorm"
)

// CreateInvoice opens the invoice for a visit. Calling it again for the same
// visit returns the existing invoice whatever its status.
func (s *Service) CreateInvoice(ctx context.Context, visitID snowflake.ID, actor domain.Actor) (*domain.InvoiceDetail, error) {
	if visitID == 0 {
		return nil, domain.ErrInvalidVisitID
	}
	if !actor.Valid() {
		return nil, domain.ErrInvalidActor
	}

	visit, err := s.lookupVisit(ctx, visitID)
	if err != nil {
		return nil, err
	}

	var result *domain.InvoiceDetail
	eff, err := s.mutate(ctx, "create_invoice", func(tx *gorm.DB, eff *effects) error {
		d, err := s.openInvoice(ctx, tx, eff, visitID, visit.PatientID, actor)
		if err != nil {
			return err
		}
		result = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.apply(ctx, eff)
	return result, nil
}

// openInvoice returns the visit's invoice inside tx, inserting a pending one
// under the patient guard and cap check when none exists yet.
func (s *Service) openInvoice(ctx context.Context, tx *gorm.DB, eff *effects, visitID, patientID snowflake.ID, actor domain.Actor) (*domain.InvoiceDetail, error) {
	existing, err := s.repo.FindInvoiceByVisit(ctx, tx, visitID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.load(ctx, tx, existing.ID)
	}

	now := eff.at
	if err := s.repo.LockPatient(ctx, tx, patientID, now); err != nil {
		return nil, err
	}
	if _, err := s.balance.CheckCap(ctx, tx, patientID, 0); err != nil {
		return nil, err
	}

	policy := s.policy.Get()
	seq, err := s.repo.NextInvoiceSequence(ctx, tx, now)
	if err != nil {
		return nil, err
	}
	number, err := format.FormatInvoiceNumber(policy.InvoiceNumberTemplate, now, seq)
	if err != nil {
		return nil, err
	}

	invoice := domain.Invoice{
		ID:             s.genID.Generate(),
		InvoiceNumber:  number,
		VisitID:        visitID,
		PatientID:      patientID,
		Currency:       policy.Currency,
		Status:         domain.InvoiceStatusPending,
		SubtotalAmount: decimal.Zero,
		DiscountKind:   domain.DiscountKindNone,
		DiscountValue:  decimal.Zero,
		DiscountAmount: decimal.Zero,
		TotalAmount:    decimal.Zero,
		PaidAmount:     decimal.Zero,
		BalanceDue:     decimal.Zero,
		CreatedBy:      actor.ID,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	inserted, err := s.repo.InsertInvoice(ctx, tx, &invoice)
	if err != nil {
		return nil, err
	}
	if !inserted {
		// A concurrent create for the same visit won.
		existing, err := s.repo.FindInvoiceByVisit(ctx, tx, visitID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, domain.ErrVersionConflict
		}
		return s.load(ctx, tx, existing.ID)
	}

	eff.record(invoiceEvent(actor, "invoice.created", &invoice, nil, snapshot(&invoice), ""))
	return &domain.InvoiceDetail{
		Invoice:  invoice,
		Items:    []domain.InvoiceItem{},
		Payments: []domain.PaymentTransaction{},
	}, nil
}

// EnsureInvoiceForVisit returns the visit's invoice, creating it on first use.
func (s *Service) EnsureInvoiceForVisit(ctx context.Context, visitID snowflake.ID, actor domain.Actor) (*domain.InvoiceDetail, error) {
	if visitID == 0 {
		return nil, domain.ErrInvalidVisitID
	}
	existing, err := s.repo.FindInvoiceByVisit(ctx, s.db, visitID)
	if err != nil {
		return nil, s.classify("find_invoice_by_visit", err)
	}
	if existing != nil {
		detail, err := s.load(ctx, s.db, existing.ID)
		return detail, s.classify("get_invoice", err)
	}
	return s.CreateInvoice(ctx, visitID, actor)
}

func (s *Service) CancelInvoice(ctx context.Context, invoiceID snowflake.ID, reason string, actor domain.Actor) (*domain.InvoiceDetail, error) {
	if invoiceID == 0 {
		return nil, domain.ErrInvalidInvoiceID
	}
	if !actor.Valid() {
		return nil, domain.ErrInvalidActor
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, domain.ErrReasonRequired
	}

	var result *domain.InvoiceDetail
	eff, err := s.mutate(ctx, "cancel_invoice", func(tx *gorm.DB, eff *effects) error {
		d, err := s.load(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		from := d.Invoice.Status
		if err := domain.CheckTransition(from, domain.InvoiceStatusCancelled, "cancel"); err != nil {
			return err
		}

		before := snapshot(&d.Invoice)
		d.Invoice.Status = domain.InvoiceStatusCancelled
		d.Invoice.CancelledBy = stringPtr(actor.ID)
		d.Invoice.CancelledReason = stringPtr(reason)
		d.Invoice.CancelledAt = timePtr(eff.at)
		d.Invoice.HoldReason = nil
		if err := s.save(ctx, tx, d, eff.at); err != nil {
			return err
		}

		eff.transition(from, domain.InvoiceStatusCancelled)
		eff.record(invoiceEvent(actor, "invoice.cancelled", &d.Invoice, before, snapshot(&d.Invoice), reason))
		result = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.apply(ctx, eff)
	return result, nil
}

func (s *Service) PutInvoiceOnHold(ctx context.Context, invoiceID snowflake.ID, req domain.HoldRequest, actor domain.Actor) (*domain.InvoiceDetail, error) {
	if invoiceID == 0 {
		return nil, domain.ErrInvalidInvoiceID
	}
	if !actor.Valid() {
		return nil, domain.ErrInvalidActor
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, domain.ErrReasonRequired
	}
	if !validDueDate(req.DueDate, s.clock.Now()) {
		return nil, domain.ErrInvalidDueDate
	}

	var result *domain.InvoiceDetail
	eff, err := s.mutate(ctx, "put_on_hold", func(tx *gorm.DB, eff *effects) error {
		d, err := s.load(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		from := d.Invoice.Status
		if err := domain.CheckTransition(from, domain.InvoiceStatusOnHold, "put on hold"); err != nil {
			return err
		}

		before := snapshot(&d.Invoice)
		d.Invoice.Status = domain.InvoiceStatusOnHold
		d.Invoice.HoldReason = stringPtr(reason)
		if req.DueDate != nil {
			d.Invoice.PaymentDueDate = timePtr(req.DueDate.UTC())
		}
		if err := s.save(ctx, tx, d, eff.at); err != nil {
			return err
		}

		eff.transition(from, domain.InvoiceStatusOnHold)
		eff.record(invoiceEvent(actor, "invoice.put_on_hold", &d.Invoice, before, snapshot(&d.Invoice), reason))
		result = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.apply(ctx, eff)
	return result, nil
}

// ResumeInvoiceFromHold returns an on-hold invoice to partial when anything
// was paid and to pending otherwise.
func (s *Service) ResumeInvoiceFromHold(ctx context.Context, invoiceID snowflake.ID, actor domain.Actor) (*domain.InvoiceDetail, error) {
	if invoiceID == 0 {
		return nil, domain.ErrInvalidInvoiceID
	}
	if !actor.Valid() {
		return nil, domain.ErrInvalidActor
	}

	var result *domain.InvoiceDetail
	eff, err := s.mutate(ctx, "resume_from_hold", func(tx *gorm.DB, eff *effects) error {
		d, err := s.load(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		from := d.Invoice.Status
		to := d.Invoice.StatusAfterResume()
		if from != domain.InvoiceStatusOnHold {
			if err := domain.CheckMutable(from, "resume"); err != nil {
				return err
			}
			return &domain.StateConflictError{Status: from, Operation: "resume", Err: domain.ErrInvalidTransition}
		}
		if err := domain.CheckTransition(from, to, "resume"); err != nil {
			return err
		}

		before := snapshot(&d.Invoice)
		d.Invoice.Status = to
		d.Invoice.HoldReason = nil
		if to == domain.InvoiceStatusPending {
			d.Invoice.PaymentDueDate = nil
		}
		if err := s.save(ctx, tx, d, eff.at); err != nil {
			return err
		}

		eff.transition(from, to)
		eff.record(invoiceEvent(actor, "invoice.resumed", &d.Invoice, before, snapshot(&d.Invoice), ""))
		result = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.apply(ctx, eff)
	return result, nil
}
