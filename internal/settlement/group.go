package settlement

import (
	"github.com/shopspring/decimal"

	"github.com/Veraticus/settle/internal/model"
)

// DefaultTolerance is the slack allowed between a transaction and its documents.
var DefaultTolerance = decimal.New(1, -2)

// Group is the set of documents linked to one transaction. It is derived, never stored.
// Status is the status of the record that links them.
type Group struct {
	Transaction model.Transaction
	Status      model.ReconciliationStatus
	Documents   []model.Document
}

// Total sums the amounts due of the linked documents.
func (g Group) Total() decimal.Decimal {
	total := decimal.Zero
	for _, doc := range g.Documents {
		total = total.Add(doc.AmountDue)
	}
	return total
}

// Discrepancy is |abs(transaction amount) - total|.
func (g Group) Discrepancy() decimal.Decimal {
	return g.Transaction.AbsAmount().Sub(g.Total()).Abs()
}

// WithinTolerance reports whether the discrepancy is at most tol.
// An unmatched record with no documents claims no payment and is not checked.
func (g Group) WithinTolerance(tol decimal.Decimal) bool {
	if len(g.Documents) == 0 && g.Status == model.StatusUnmatched {
		return true
	}
	return g.Discrepancy().LessThanOrEqual(tol)
}

// Check returns a warning when the group is outside tolerance, nil otherwise.
func (g Group) Check(tol decimal.Decimal) *ToleranceWarning {
	if g.WithinTolerance(tol) {
		return nil
	}
	return &ToleranceWarning{
		Expected:   g.Transaction.AbsAmount(),
		Actual:     g.Total(),
		Difference: g.Discrepancy(),
	}
}
