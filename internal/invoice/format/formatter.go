// Package format renders invoice numbers and amounts for display.
package format

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var seqPadRe = regexp.MustCompile(`\{SEQ(\d+)\}`)

const DefaultInvoiceNumberTemplate = "INV-{YYYY}{MM}{DD}-{SEQ6}"

var (
	ErrEmptyTemplate   = errors.New("invoice_number_template_empty")
	ErrInvalidSequence = errors.New("invalid_invoice_sequence")
	ErrUnresolvedToken = errors.New("invoice_number_unresolved_token")
)

// FormatInvoiceNumber renders template for an invoice issued at issuedAt
// with sequence seq. Supported tokens are {YYYY}, {YY}, {MM}, {DD}, {SEQ}
// and {SEQn} for a sequence zero padded to n digits.
func FormatInvoiceNumber(template string, issuedAt time.Time, seq int64) (string, error) {
	if strings.TrimSpace(template) == "" {
		return "", ErrEmptyTemplate
	}
	if seq <= 0 {
		return "", fmt.Errorf("%w: %d", ErrInvalidSequence, seq)
	}

	issuedAt = issuedAt.UTC()
	out := strings.NewReplacer(
		"{YYYY}", issuedAt.Format("2006"),
		"{YY}", issuedAt.Format("06"),
		"{MM}", issuedAt.Format("01"),
		"{DD}", issuedAt.Format("02"),
		"{SEQ}", strconv.FormatInt(seq, 10),
	).Replace(template)

	out = seqPadRe.ReplaceAllStringFunc(out, func(m string) string {
		match := seqPadRe.FindStringSubmatch(m)
		width, err := strconv.Atoi(match[1])
		if err != nil || width <= 0 {
			return m
		}
		return fmt.Sprintf("%0*d", width, seq)
	})

	if strings.ContainsAny(out, "{}") {
		return "", fmt.Errorf("%w: %s", ErrUnresolvedToken, out)
	}
	return out, nil
}
