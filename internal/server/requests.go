package server

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/clinicpay/internal/invoice/domain"
)

const maxTextLength = 500

var paymentMethods = []any{
	string(invoicedomain.PaymentMethodCash),
	string(invoicedomain.PaymentMethodCard),
	string(invoicedomain.PaymentMethodInsurance),
	string(invoicedomain.PaymentMethodMobilePayment),
	string(invoicedomain.PaymentMethodCheck),
}

type addItemRequest struct {
	ItemID    string           `json:"item_id"`
	Quantity  int64            `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unit_price"`
	Notes     *string          `json:"notes"`
}

func (r addItemRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ItemID, validation.Required, is.Digit),
		validation.Field(&r.Quantity, validation.Min(int64(0))),
		validation.Field(&r.Notes, validation.Length(0, maxTextLength)),
	)
}

func (r addItemRequest) toDomain() (invoicedomain.AddItemRequest, error) {
	id, err := parseSnowflake(r.ItemID)
	if err != nil {
		return invoicedomain.AddItemRequest{}, invoicedomain.ErrInvalidItemID
	}
	return invoicedomain.AddItemRequest{
		ItemID:    id,
		Quantity:  r.Quantity,
		UnitPrice: r.UnitPrice,
		Notes:     r.Notes,
	}, nil
}

type updateItemRequest struct {
	Quantity  *int64           `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unit_price"`
	Notes     *string          `json:"notes"`
}

func (r updateItemRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Notes, validation.Length(0, maxTextLength)),
	)
}

type discountRequest struct {
	Amount     *decimal.Decimal `json:"discount_amount"`
	Percentage *decimal.Decimal `json:"discount_percentage"`
}

type paymentRequest struct {
	Amount                 decimal.Decimal `json:"amount"`
	Method                 string          `json:"payment_method"`
	Reference              *string         `json:"payment_reference"`
	Notes                  *string         `json:"notes"`
	HoldReason             *string         `json:"hold_reason"`
	DueDate                *string         `json:"payment_due_date"`
	IncludePreviousBalance bool            `json:"include_previous_balance"`
}

func (r paymentRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Method, validation.Required, validation.In(paymentMethods...)),
		validation.Field(&r.Reference, validation.Length(0, maxTextLength)),
		validation.Field(&r.Notes, validation.Length(0, maxTextLength)),
		validation.Field(&r.HoldReason, validation.Length(0, maxTextLength)),
		validation.Field(&r.DueDate, validation.By(dateRule)),
	)
}

type completeRequest struct {
	Method    string  `json:"payment_method"`
	Reference *string `json:"payment_reference"`
	Notes     *string `json:"notes"`
}

func (r completeRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Method, validation.In(paymentMethods...)),
		validation.Field(&r.Reference, validation.Length(0, maxTextLength)),
		validation.Field(&r.Notes, validation.Length(0, maxTextLength)),
	)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (r cancelRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Reason, validation.Required, validation.Length(1, maxTextLength)),
	)
}

type holdRequest struct {
	Reason  string  `json:"reason"`
	DueDate *string `json:"payment_due_date"`
}

func (r holdRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Reason, validation.Required, validation.Length(1, maxTextLength)),
		validation.Field(&r.DueDate, validation.By(dateRule)),
	)
}

type listPatientInvoicesQuery struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
	Status    string `form:"status"`
}

func (q listPatientInvoicesQuery) Validate() error {
	return validation.ValidateStruct(&q,
		validation.Field(&q.PageSize, validation.Min(0), validation.Max(100)),
	)
}

func (q listPatientInvoicesQuery) status() *invoicedomain.InvoiceStatus {
	value := strings.TrimSpace(q.Status)
	if value == "" {
		return nil
	}
	status := invoicedomain.InvoiceStatus(strings.ToLower(value))
	return &status
}

func dateRule(value any) error {
	s, _ := value.(*string)
	if _, err := parseOptionalDate(s); err != nil {
		return validation.NewError("validation_invalid_date", "must be a date (YYYY-MM-DD) or RFC3339 timestamp")
	}
	return nil
}
