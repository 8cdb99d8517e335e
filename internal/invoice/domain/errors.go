package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// Validation errors reject input before any state change.
var (
	ErrInvalidInvoiceID     = errors.New("invalid_invoice_id")
	ErrInvalidVisitID       = errors.New("invalid_visit_id")
	ErrInvalidPatientID     = errors.New("invalid_patient_id")
	ErrInvalidItemID        = errors.New("invalid_item_id")
	ErrInvalidItemType      = errors.New("invalid_item_type")
	ErrInvalidQuantity      = errors.New("invalid_quantity")
	ErrInvalidUnitPrice     = errors.New("invalid_unit_price")
	ErrInvalidAmount        = errors.New("invalid_amount")
	ErrInvalidPaymentMethod = errors.New("invalid_payment_method")
	ErrInvalidDiscount      = errors.New("invalid_discount")
	ErrDiscountConflict     = errors.New("discount_amount_and_percentage_both_set")
	ErrReasonRequired       = errors.New("reason_required")
	ErrInvalidDueDate       = errors.New("invalid_due_date")
	ErrEmptyPatch           = errors.New("empty_item_patch")
	ErrInvalidActor         = errors.New("invalid_actor")
	ErrTotalBelowPaid       = errors.New("total_below_paid_amount")
	ErrRolloverAmountTooLow = errors.New("payment_does_not_cover_previous_balance")
	ErrInvalidStatusFilter  = errors.New("invalid_status_filter")
	ErrInvalidPageToken     = errors.New("invalid_page_token")
	ErrCatalogEntryInactive = errors.New("catalog_entry_inactive")
)

// State conflict causes, wrapped by StateConflictError.
var (
	ErrTerminalState     = errors.New("invoice_terminal_state")
	ErrInvalidTransition = errors.New("invalid_status_transition")
	ErrVersionConflict   = errors.New("invoice_version_conflict")
)

var (
	ErrInvoiceNotFound = errors.New("invoice_not_found")
	ErrItemNotFound    = errors.New("invoice_item_not_found")
	ErrVisitNotFound   = errors.New("visit_not_found")
	ErrCatalogNotFound = errors.New("catalog_entry_not_found")
)

var (
	ErrOverpayment          = errors.New("payment_exceeds_balance_due")
	ErrCapExceeded          = errors.New("outstanding_invoice_limit_reached")
	ErrItemRemovalForbidden = errors.New("item_removal_not_allowed")
	ErrUpstreamUnavailable  = errors.New("upstream_unavailable")
)

var validationErrors = []error{
	ErrInvalidInvoiceID, ErrInvalidVisitID, ErrInvalidPatientID, ErrInvalidItemID,
	ErrInvalidItemType, ErrInvalidQuantity, ErrInvalidUnitPrice, ErrInvalidAmount,
	ErrInvalidPaymentMethod, ErrInvalidDiscount, ErrDiscountConflict, ErrReasonRequired,
	ErrInvalidDueDate, ErrEmptyPatch, ErrInvalidActor, ErrTotalBelowPaid,
	ErrRolloverAmountTooLow, ErrInvalidStatusFilter, ErrInvalidPageToken,
	ErrCatalogEntryInactive,
}

// StateConflictError reports an operation that is illegal for the invoice's status.
type StateConflictError struct {
	Status    InvoiceStatus
	Operation string
	Err       error
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("%s: cannot %s invoice in status %s", e.Err, e.Operation, e.Status)
}

func (e *StateConflictError) Unwrap() error { return e.Err }

// CapExceededError lists the invoices that keep the patient at the outstanding limit.
type CapExceededError struct {
	PatientID snowflake.ID
	Limit     int
	Invoices  []OutstandingInvoice
}

func (e *CapExceededError) Error() string {
	ids := make([]string, 0, len(e.Invoices))
	for _, inv := range e.Invoices {
		ids = append(ids, inv.ID.String())
	}
	return fmt.Sprintf("%s: patient %s has %d outstanding invoices (limit %d): %s",
		ErrCapExceeded, e.PatientID, len(e.Invoices), e.Limit, strings.Join(ids, ","))
}

func (e *CapExceededError) Is(target error) bool { return target == ErrCapExceeded }

// UpstreamUnavailableError wraps storage failures the caller may retry.
type UpstreamUnavailableError struct {
	Op  string
	Err error
}

func (e *UpstreamUnavailableError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrUpstreamUnavailable, e.Op, e.Err)
}

func (e *UpstreamUnavailableError) Unwrap() error { return e.Err }

func (e *UpstreamUnavailableError) Is(target error) bool { return target == ErrUpstreamUnavailable }

func IsValidationError(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func IsStateConflict(err error) bool {
	var sc *StateConflictError
	return errors.As(err, &sc) || errors.Is(err, ErrVersionConflict)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrInvoiceNotFound) ||
		errors.Is(err, ErrItemNotFound) ||
		errors.Is(err, ErrVisitNotFound) ||
		errors.Is(err, ErrCatalogNotFound)
}

// IsRetryable reports whether the caller may retry the same request with backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable)
}
