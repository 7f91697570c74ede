// Package report aggregates the ledger into the read-only views an accountant needs:
// overdue receivables, monthly VAT and the annual treasury. Reports only read the
// settled flag and date of documents, never assuming one transaction pays one document.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/Veraticus/settle/internal/model"
	"github.com/Veraticus/settle/internal/service"
)

// Reporter builds reports from the ledger store.
type Reporter struct {
	store service.Storage
}

// NewReporter creates a Reporter.
func NewReporter(store service.Storage) *Reporter {
	return &Reporter{store: store}
}

// yearRange returns the first and last instant of a calendar year in UTC.
func yearRange(year int) (time.Time, time.Time) {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(1, 0, 0).Add(-time.Nanosecond)
}

// settledIn returns every document of kind settled during the year.
func (r *Reporter) settledIn(ctx context.Context, kind model.DocumentKind, invoiceType model.InvoiceType, year int) ([]model.Document, error) {
	start, end := yearRange(year)
	docs, err := r.store.GetDocuments(ctx, service.DocumentFilter{
		Kind:        kind,
		InvoiceType: invoiceType,
		SettledOnly: true,
		SettledFrom: &start,
		SettledTo:   &end,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load settled %ss: %w", kind, err)
	}
	return docs, nil
}

// Table is the format-neutral shape every report exports to. Cells hold strings,
// ints or decimals; exporters render decimals as amounts.
type Table struct {
	Title   string
	Caption string
	Headers []string
	Rows    [][]any
	Footer  []any
}
