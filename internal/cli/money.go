package cli

import (
	"strings"

	"github.com/shopspring/decimal"
)

const nbsp = "\u00a0"

// FormatMoney renders an amount the French way: two decimals, comma separator,
// non-breaking space between thousands and before the euro sign ("-1 234,50 €").
func FormatMoney(amount decimal.Decimal) string {
	return FormatAmount(amount) + nbsp + "€"
}

// FormatAmount is FormatMoney without the currency.
func FormatAmount(amount decimal.Decimal) string {
	fixed := amount.Abs().StringFixed(2)
	intPart, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	if amount.Round(2).IsNegative() {
		b.WriteByte('-')
	}
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteString(nbsp)
		}
		b.WriteRune(r)
	}
	b.WriteByte(',')
	b.WriteString(frac)
	return b.String()
}

// FormatSigned renders an amount colored by sign: credits green, debits red.
func FormatSigned(amount decimal.Decimal) string {
	if amount.IsNegative() {
		return ErrorStyle.Render(FormatMoney(amount))
	}
	return SuccessStyle.Render(FormatMoney(amount))
}
