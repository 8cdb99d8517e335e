package format

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var ErrInvalidCurrency = errors.New("invalid_currency")

// FormatAmount renders amount for display as "<ISO code> <localized number>",
// e.g. "USD 1,234.50" for en-US. The result must never be parsed back into
// a monetary value.
func FormatAmount(amount decimal.Decimal, code, locale string, scale int32) (string, error) {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidCurrency, code)
	}
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.AmericanEnglish
	}
	if scale < 0 {
		scale = 0
	}

	p := message.NewPrinter(tag)
	value := number.Decimal(amount.Round(scale).InexactFloat64(), number.Scale(int(scale)))
	return p.Sprintf("%s %v", unit.String(), value), nil
}
