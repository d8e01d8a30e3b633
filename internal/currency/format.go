package currency

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// FormatOptions tweaks how FormatMoney renders an amount.
type FormatOptions struct {
	// ShowSymbol renders the descriptor symbol next to the amount.
	ShowSymbol bool
	// ShowCode appends the ISO-like code after the amount.
	ShowCode bool
	// Locale selects digit grouping and decimal separators. Defaults to English.
	Locale language.Tag
	// Precision overrides the descriptor precision when set.
	Precision *int32
}

// FormatMoney renders amount for display in the given currency.
func (s *Store) FormatMoney(amount decimal.Decimal, code string, opts FormatOptions) (string, error) {
	return s.Snapshot().FormatMoney(amount, code, opts)
}

// FormatMoney renders amount for display in the given currency.
func (s Snapshot) FormatMoney(amount decimal.Decimal, code string, opts FormatOptions) (string, error) {
	d, ok := s.Descriptor(code)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCurrency, NormalizeCode(code))
	}
	precision := d.Precision
	if opts.Precision != nil && *opts.Precision >= 0 {
		precision = *opts.Precision
	}
	tag := opts.Locale
	if tag == language.Und {
		tag = language.English
	}

	rounded := amount.Round(precision)
	negative := rounded.IsNegative()
	digits := groupDigits(rounded.Abs().StringFixed(precision), tag)

	var b strings.Builder
	if negative {
		b.WriteByte('-')
	}
	symbol := d.Symbol
	if !opts.ShowSymbol {
		symbol = ""
	}
	if symbol != "" && d.Position == SymbolBefore {
		b.WriteString(symbol)
		b.WriteByte(' ')
	}
	b.WriteString(digits)
	if symbol != "" && d.Position == SymbolAfter {
		b.WriteByte(' ')
		b.WriteString(symbol)
	}
	if opts.ShowCode {
		b.WriteByte(' ')
		b.WriteString(d.Code)
	}
	return b.String(), nil
}

// groupDigits inserts the locale's grouping and decimal separators into a plain fixed-point string.
func groupDigits(fixed string, tag language.Tag) string {
	group, point := separators(tag)
	intPart, frac, hasFrac := strings.Cut(fixed, ".")

	var b strings.Builder
	lead := len(intPart) % 3
	if lead == 0 {
		lead = 3
	}
	b.WriteString(intPart[:lead])
	for i := lead; i < len(intPart); i += 3 {
		b.WriteString(group)
		b.WriteString(intPart[i : i+3])
	}
	if hasFrac && frac != "" {
		b.WriteString(point)
		b.WriteString(frac)
	}
	return b.String()
}

// separators asks the locale printer how it renders 12345.5 and lifts the two separators out.
func separators(tag language.Tag) (group, point string) {
	s := message.NewPrinter(tag).Sprint(number.Decimal(12345.5, number.Scale(1)))
	i := strings.Index(s, "345")
	if i < 2 || !strings.HasPrefix(s, "12") || !strings.HasSuffix(s, "5") || i+3 > len(s)-1 {
		return ",", "."
	}
	return s[2:i], s[i+3 : len(s)-1]
}
