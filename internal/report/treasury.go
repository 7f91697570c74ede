package report

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/settle/internal/model"
)

// TreasuryMonth summarizes bank movements and reconciliation progress for one month.
type TreasuryMonth struct {
	Statuses     map[model.ReconciliationStatus]int
	Credits      decimal.Decimal
	Debits       decimal.Decimal
	Settled      decimal.Decimal
	Month        time.Month
	Transactions int
	SettledCount int
}

// Net is credits minus debits.
func (m TreasuryMonth) Net() decimal.Decimal {
	return m.Credits.Sub(m.Debits)
}

// Treasury is the annual treasury report.
type Treasury struct {
	Months  [12]TreasuryMonth
	Credits decimal.Decimal
	Debits  decimal.Decimal
	Settled decimal.Decimal
	Year    int
}

// Net is the year's cash movement.
func (t *Treasury) Net() decimal.Decimal {
	return t.Credits.Sub(t.Debits)
}

// AnnualTreasury aggregates bank lines by transaction month with their record statuses,
// and the amount due of documents settled each month across all kinds.
func (r *Reporter) AnnualTreasury(ctx context.Context, year int) (*Treasury, error) {
	report := &Treasury{Year: year, Credits: decimal.Zero, Debits: decimal.Zero, Settled: decimal.Zero}
	for i := range report.Months {
		report.Months[i] = TreasuryMonth{
			Month:    time.Month(i + 1),
			Statuses: make(map[model.ReconciliationStatus]int),
			Credits:  decimal.Zero,
			Debits:   decimal.Zero,
			Settled:  decimal.Zero,
		}
	}

	start, end := yearRange(year)
	lines, err := r.store.GetReconciliationLines(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load reconciliation lines: %w", err)
	}
	for _, line := range lines {
		m := &report.Months[line.Transaction.Date.UTC().Month()-1]
		m.Transactions++
		m.Statuses[line.Status]++
		if line.Transaction.IsCredit() {
			m.Credits = m.Credits.Add(line.Transaction.Amount)
			report.Credits = report.Credits.Add(line.Transaction.Amount)
		} else {
			m.Debits = m.Debits.Add(line.Transaction.AbsAmount())
			report.Debits = report.Debits.Add(line.Transaction.AbsAmount())
		}
	}

	for _, kind := range model.DocumentKinds {
		docs, err := r.settledIn(ctx, kind, "", year)
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			m := &report.Months[doc.Settlement.Date.UTC().Month()-1]
			m.Settled = m.Settled.Add(doc.AmountDue)
			m.SettledCount++
			report.Settled = report.Settled.Add(doc.AmountDue)
		}
	}
	return report, nil
}

// Table lays the report out as one row per month with a yearly total.
func (t *Treasury) Table() Table {
	table := Table{
		Title:   "Annual treasury",
		Caption: fmt.Sprintf("Year %d", t.Year),
		Headers: []string{"Month", "Credits", "Debits", "Net", "Matched", "Uncertain", "Unmatched", "Settled docs", "Settled amount"},
	}
	var matched, uncertain, unmatched, settled int
	for _, m := range t.Months {
		table.Rows = append(table.Rows, []any{
			m.Month.String(),
			m.Credits,
			m.Debits,
			m.Net(),
			m.Statuses[model.StatusMatched],
			m.Statuses[model.StatusUncertain],
			m.Statuses[model.StatusUnmatched],
			m.SettledCount,
			m.Settled,
		})
		matched += m.Statuses[model.StatusMatched]
		uncertain += m.Statuses[model.StatusUncertain]
		unmatched += m.Statuses[model.StatusUnmatched]
		settled += m.SettledCount
	}
	table.Footer = []any{"Total", t.Credits, t.Debits, t.Net(), matched, uncertain, unmatched, settled, t.Settled}
	return table
}
