package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clinicpay/internal/invoice/domain"
	"github.com/smallbiznis/clinicpay/pkg/db/pagination"
)

func (s *Service) GetInvoiceByID(ctx context.Context, id snowflake.ID) (*domain.InvoiceDetail, error) {
	if id == 0 {
		return nil, domain.ErrInvalidInvoiceID
	}
	detail, err := s.load(ctx, s.db, id)
	if err != nil {
		return nil, s.classify("get_invoice", err)
	}
	return detail, nil
}

func (s *Service) GetInvoiceByVisit(ctx context.Context, visitID snowflake.ID) (*domain.InvoiceDetail, error) {
	if visitID == 0 {
		return nil, domain.ErrInvalidVisitID
	}
	invoice, err := s.repo.FindInvoiceByVisit(ctx, s.db, visitID)
	if err != nil {
		return nil, s.classify("get_invoice_by_visit", err)
	}
	if invoice == nil {
		return nil, domain.ErrInvoiceNotFound
	}
	detail, err := s.load(ctx, s.db, invoice.ID)
	if err != nil {
		return nil, s.classify("get_invoice_by_visit", err)
	}
	return detail, nil
}

// ListPatientInvoices pages through a patient's invoices, newest first.
func (s *Service) ListPatientInvoices(ctx context.Context, req domain.ListPatientInvoicesRequest) (domain.ListInvoicesResponse, error) {
	if req.PatientID == 0 {
		return domain.ListInvoicesResponse{}, domain.ErrInvalidPatientID
	}
	if req.Status != nil && !req.Status.Valid() {
		return domain.ListInvoicesResponse{}, domain.ErrInvalidStatusFilter
	}

	var after snowflake.ID
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return domain.ListInvoicesResponse{}, domain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(cursor.ID)
		if err != nil || id == 0 {
			return domain.ListInvoicesResponse{}, domain.ErrInvalidPageToken
		}
		after = id
	}

	limit := req.Size()
	rows, err := s.repo.ListByPatient(ctx, s.db, domain.ListFilter{
		PatientID: req.PatientID,
		Status:    req.Status,
		AfterID:   after,
		Limit:     limit,
	})
	if err != nil {
		return domain.ListInvoicesResponse{}, s.classify("list_patient_invoices", err)
	}

	page, info := pagination.BuildCursorPageInfo(rows, limit, func(inv domain.Invoice) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        inv.ID.String(),
			CreatedAt: inv.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if page == nil {
		page = []domain.Invoice{}
	}
	return domain.ListInvoicesResponse{PageInfo: info, Invoices: page}, nil
}

// GetPatientOutstandingBalance recomputes the patient's debt from live rows.
func (s *Service) GetPatientOutstandingBalance(ctx context.Context, patientID snowflake.ID) (*domain.OutstandingBalance, error) {
	if patientID == 0 {
		return nil, domain.ErrInvalidPatientID
	}
	outstanding, err := s.balance.Outstanding(ctx, s.db, patientID, 0)
	if err != nil {
		return nil, s.classify("outstanding_balance", err)
	}
	return outstanding, nil
}

func (s *Service) GetPatientOutstandingInvoices(ctx context.Context, patientID snowflake.ID) ([]domain.OutstandingInvoice, error) {
	outstanding, err := s.GetPatientOutstandingBalance(ctx, patientID)
	if err != nil {
		return nil, err
	}
	return outstanding.Invoices, nil
}

// CanPatientCreateInvoice reports whether a new invoice would stay within the
// outstanding invoice limit. It takes no lock; CreateInvoice re-checks.
func (s *Service) CanPatientCreateInvoice(ctx context.Context, patientID snowflake.ID) (*domain.CreateEligibility, error) {
	outstanding, err := s.GetPatientOutstandingBalance(ctx, patientID)
	if err != nil {
		return nil, err
	}
	limit := s.balance.Limit()
	return &domain.CreateEligibility{
		Allowed:     outstanding.Count < limit,
		Limit:       limit,
		Outstanding: *outstanding,
	}, nil
}
