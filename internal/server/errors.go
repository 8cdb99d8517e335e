package server

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	auditdomain "github.com/smallbiznis/clinicpay/internal/audit/domain"
	invoicedomain "github.com/smallbiznis/clinicpay/internal/invoice/domain"
	"gorm.io/gorm"
)

// retryAfterSeconds is advertised on 503 responses.
const retryAfterSeconds = 5

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
	// Set for outstanding_invoice_limit_reached.
	Limit    int                               `json:"limit,omitempty"`
	Invoices []invoicedomain.OutstandingInvoice `json:"invoices,omitempty"`
	// Set for state conflicts.
	Status invoicedomain.InvoiceStatus `json:"status,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		if status == http.StatusServiceUnavailable {
			c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
		}
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

// fromOzzo flattens ozzo-validation field errors into the response shape,
// ordered by field name.
func fromOzzo(err error) error {
	var fieldErrs validation.Errors
	if !errors.As(err, &fieldErrs) {
		return invalidRequestError()
	}
	out := &ValidationErrors{}
	for field, ferr := range fieldErrs {
		code := "invalid_" + field
		var verr validation.Error
		if errors.As(ferr, &verr) {
			code = verr.Code()
		}
		out.Errors = append(out.Errors, ValidationError{
			Field:   field,
			Code:    code,
			Message: ferr.Error(),
		})
	}
	sort.Slice(out.Errors, func(i, j int) bool {
		return out.Errors[i].Field < out.Errors[j].Field
	})
	return out
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Code:    code,
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	var capErr *invoicedomain.CapExceededError
	if errors.As(err, &capErr) {
		return http.StatusConflict, errorPayload{
			Type:     "cap_exceeded",
			Code:     invoicedomain.ErrCapExceeded.Error(),
			Message:  "patient has reached the outstanding invoice limit",
			Limit:    capErr.Limit,
			Invoices: capErr.Invoices,
		}
	}

	var stateErr *invoicedomain.StateConflictError
	if errors.As(err, &stateErr) {
		return http.StatusConflict, errorPayload{
			Type:    "state_conflict",
			Code:    stateErr.Err.Error(),
			Message: stateErr.Error(),
			Status:  stateErr.Status,
		}
	}

	switch {
	case errors.Is(err, invoicedomain.ErrVersionConflict):
		return http.StatusConflict, errorPayload{
			Type:    "state_conflict",
			Code:    invoicedomain.ErrVersionConflict.Error(),
			Message: "invoice was modified concurrently, retry the request",
		}
	case errors.Is(err, invoicedomain.ErrOverpayment):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "overpayment",
			Code:    invoicedomain.ErrOverpayment.Error(),
			Message: "payment exceeds balance due",
		}
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, invoicedomain.ErrItemRemovalForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Code:    forbiddenCode(err),
			Message: "forbidden",
		}
	case errors.Is(err, ErrConflict):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Code:    notFoundCode(err),
			Message: "not found",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, invoicedomain.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog returns (error_type, error_code) for request logs.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Code
	if code == "" && len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		invoicedomain.IsValidationError(err),
		errors.Is(err, auditdomain.ErrInvalidEntity),
		errors.Is(err, auditdomain.ErrInvalidPageToken):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		invoicedomain.IsNotFound(err),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func notFoundCode(err error) string {
	for _, target := range []error{
		invoicedomain.ErrInvoiceNotFound,
		invoicedomain.ErrItemNotFound,
		invoicedomain.ErrVisitNotFound,
		invoicedomain.ErrCatalogNotFound,
	} {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return ""
}

func forbiddenCode(err error) string {
	if errors.Is(err, invoicedomain.ErrItemRemovalForbidden) {
		return invoicedomain.ErrItemRemovalForbidden.Error()
	}
	return ""
}

func validationErrorCode(err error) string {
	if errors.Is(err, ErrInvalidRequest) {
		return "invalid_request"
	}
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	switch code {
	case invoicedomain.ErrReasonRequired.Error():
		return "reason"
	case invoicedomain.ErrDiscountConflict.Error():
		return "discount"
	case invoicedomain.ErrCatalogEntryInactive.Error():
		return "item_id"
	case invoicedomain.ErrTotalBelowPaid.Error(),
		invoicedomain.ErrRolloverAmountTooLow.Error():
		return "amount"
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case invoicedomain.ErrReasonRequired.Error():
		return "reason is required"
	case invoicedomain.ErrTotalBelowPaid.Error():
		return "invoice total cannot drop below the amount already paid"
	case invoicedomain.ErrRolloverAmountTooLow.Error():
		return "amount does not cover the previous outstanding balance"
	default:
		return "invalid value"
	}
}
