package format

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatInvoiceNumber(t *testing.T) {
	issued := time.Date(2026, 3, 7, 23, 0, 0, 0, time.UTC)

	got, err := FormatInvoiceNumber(DefaultInvoiceNumberTemplate, issued, 42)
	require.NoError(t, err)
	assert.Equal(t, "INV-20260307-000042", got)

	got, err = FormatInvoiceNumber("CL/{YY}/{SEQ}", issued, 7)
	require.NoError(t, err)
	assert.Equal(t, "CL/26/7", got)
}

func TestFormatInvoiceNumberErrors(t *testing.T) {
	issued := time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC)

	_, err := FormatInvoiceNumber("", issued, 1)
	assert.ErrorIs(t, err, ErrEmptyTemplate)

	_, err = FormatInvoiceNumber(DefaultInvoiceNumberTemplate, issued, 0)
	assert.ErrorIs(t, err, ErrInvalidSequence)

	_, err = FormatInvoiceNumber("INV-{BRANCH}-{SEQ}", issued, 1)
	assert.ErrorIs(t, err, ErrUnresolvedToken)
}

func TestFormatAmount(t *testing.T) {
	got, err := FormatAmount(decimal.RequireFromString("1234.5"), "USD", "en-US", 2)
	require.NoError(t, err)
	assert.Equal(t, "USD 1,234.50", got)

	got, err = FormatAmount(decimal.RequireFromString("7"), "usd", "en-US", 0)
	require.NoError(t, err)
	assert.Equal(t, "USD 7", got)

	_, err = FormatAmount(decimal.NewFromInt(1), "???", "en-US", 2)
	assert.ErrorIs(t, err, ErrInvalidCurrency)
}
