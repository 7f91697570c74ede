package report

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/settle/internal/model"
	"github.com/Veraticus/settle/internal/service"
)

// AgingBucket groups overdue invoices by days past due. MaxDays is 0 for the open-ended bucket.
type AgingBucket struct {
	Label   string
	Total   decimal.Decimal
	MinDays int
	MaxDays int
	Count   int
}

func (b AgingBucket) contains(days int) bool {
	return days >= b.MinDays && (b.MaxDays == 0 || days <= b.MaxDays)
}

// AgingItem is one overdue invoice.
type AgingItem struct {
	Document    model.Document
	Bucket      string
	DaysOverdue int
}

// Aging is the overdue receivables report.
type Aging struct {
	AsOf    time.Time
	Total   decimal.Decimal
	Buckets []AgingBucket
	Items   []AgingItem
}

func agingBuckets() []AgingBucket {
	return []AgingBucket{
		{Label: "0-30", MinDays: 0, MaxDays: 30},
		{Label: "31-60", MinDays: 31, MaxDays: 60},
		{Label: "61-90", MinDays: 61, MaxDays: 90},
		{Label: "90+", MinDays: 91},
	}
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// OverdueAging lists unsettled sale invoices whose due date is before asOf.
func (r *Reporter) OverdueAging(ctx context.Context, asOf time.Time) (*Aging, error) {
	docs, err := r.store.GetDocuments(ctx, service.DocumentFilter{
		Kind:          model.KindInvoice,
		InvoiceType:   model.InvoiceTypeSale,
		UnsettledOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load unsettled invoices: %w", err)
	}

	today := truncateDay(asOf)
	report := &Aging{AsOf: today, Buckets: agingBuckets(), Total: decimal.Zero}
	for i := range report.Buckets {
		report.Buckets[i].Total = decimal.Zero
	}

	for _, doc := range docs {
		if doc.DueDate.IsZero() {
			continue
		}
		days := int(today.Sub(truncateDay(doc.DueDate)).Hours() / 24)
		if days <= 0 {
			continue
		}
		for i := range report.Buckets {
			b := &report.Buckets[i]
			if !b.contains(days) {
				continue
			}
			b.Count++
			b.Total = b.Total.Add(doc.AmountDue)
			report.Items = append(report.Items, AgingItem{Document: doc, DaysOverdue: days, Bucket: b.Label})
			break
		}
		report.Total = report.Total.Add(doc.AmountDue)
	}
	return report, nil
}

// Table renders the per-invoice detail followed by bucket totals in the footer.
func (a *Aging) Table() Table {
	t := Table{
		Title:   "Overdue receivables",
		Caption: fmt.Sprintf("As of %s", a.AsOf.Format("2006-01-02")),
		Headers: []string{"Invoice", "Label", "Due date", "Days overdue", "Bucket", "Amount"},
	}
	for _, item := range a.Items {
		t.Rows = append(t.Rows, []any{
			item.Document.Number,
			item.Document.Label,
			item.Document.DueDate.Format("2006-01-02"),
			item.DaysOverdue,
			item.Bucket,
			item.Document.AmountDue,
		})
	}
	t.Footer = []any{"Total", "", "", len(a.Items), "", a.Total}
	return t
}
