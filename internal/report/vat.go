package report

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/settle/internal/model"
)

// VATMonth is the VAT position of one month, on a cash basis: VAT counts in the month
// the invoice was settled.
type VATMonth struct {
	Collected  decimal.Decimal
	Deductible decimal.Decimal
	Month      time.Month
}

// Net is the VAT due for the month. Negative means a credit.
func (m VATMonth) Net() decimal.Decimal {
	return m.Collected.Sub(m.Deductible)
}

// VAT is the monthly VAT report for one year.
type VAT struct {
	Months     [12]VATMonth
	Collected  decimal.Decimal
	Deductible decimal.Decimal
	Year       int
}

// Net is the VAT due for the year.
func (v *VAT) Net() decimal.Decimal {
	return v.Collected.Sub(v.Deductible)
}

// MonthlyVAT sums collected VAT from settled sale invoices and deductible VAT from
// settled purchase invoices, per month of settlement.
func (r *Reporter) MonthlyVAT(ctx context.Context, year int) (*VAT, error) {
	report := &VAT{Year: year, Collected: decimal.Zero, Deductible: decimal.Zero}
	for i := range report.Months {
		report.Months[i] = VATMonth{Month: time.Month(i + 1), Collected: decimal.Zero, Deductible: decimal.Zero}
	}

	sales, err := r.settledIn(ctx, model.KindInvoice, model.InvoiceTypeSale, year)
	if err != nil {
		return nil, err
	}
	for _, doc := range sales {
		m := &report.Months[doc.Settlement.Date.UTC().Month()-1]
		m.Collected = m.Collected.Add(doc.VATAmount)
		report.Collected = report.Collected.Add(doc.VATAmount)
	}

	purchases, err := r.settledIn(ctx, model.KindInvoice, model.InvoiceTypePurchase, year)
	if err != nil {
		return nil, err
	}
	for _, doc := range purchases {
		m := &report.Months[doc.Settlement.Date.UTC().Month()-1]
		m.Deductible = m.Deductible.Add(doc.VATAmount)
		report.Deductible = report.Deductible.Add(doc.VATAmount)
	}
	return report, nil
}

// Table lays the report out as one row per month with a yearly total.
func (v *VAT) Table() Table {
	t := Table{
		Title:   "Monthly VAT",
		Caption: fmt.Sprintf("Year %d, cash basis", v.Year),
		Headers: []string{"Month", "Collected", "Deductible", "Net due"},
	}
	for _, m := range v.Months {
		t.Rows = append(t.Rows, []any{m.Month.String(), m.Collected, m.Deductible, m.Net()})
	}
	t.Footer = []any{"Total", v.Collected, v.Deductible, v.Net()}
	return t
}
