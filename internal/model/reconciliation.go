package model

import (
	"slices"
	"time"
)

// ReconciliationStatus is the confidence classification of a reconciliation record.
type ReconciliationStatus string

// Reconciliation status constants. Any transition between them is allowed
// until the owning statement file is validated.
const (
	StatusMatched   ReconciliationStatus = "matched"
	StatusUncertain ReconciliationStatus = "uncertain"
	StatusUnmatched ReconciliationStatus = "unmatched"
)

// Valid reports whether s is one of the three known statuses.
func (s ReconciliationStatus) Valid() bool {
	switch s {
	case StatusMatched, StatusUncertain, StatusUnmatched:
		return true
	}
	return false
}

// Record is the reconciliation row owned by exactly one transaction.
type Record struct {
	UpdatedAt         time.Time
	SubscriptionID    *string
	DeclarationID     *string
	ProposedInvoiceID *string
	ID                string
	TransactionID     string
	StatementFileID   string
	Status            ReconciliationStatus
	ProposedStatus    ReconciliationStatus
	Notes             string
	InvoiceIDs        []string
	Version           int
}

// LinkState is the part of a record a reviewer can change.
type LinkState struct {
	SubscriptionID *string
	DeclarationID  *string
	Status         ReconciliationStatus
	Notes          string
	InvoiceIDs     []string
}

// State returns the record's current link state.
func (r *Record) State() LinkState {
	return LinkState{
		Status:         r.Status,
		InvoiceIDs:     slices.Clone(r.InvoiceIDs),
		SubscriptionID: cloneID(r.SubscriptionID),
		DeclarationID:  cloneID(r.DeclarationID),
		Notes:          r.Notes,
	}
}

// Refs returns every document the state links, invoices first.
func (s LinkState) Refs() []DocumentRef {
	refs := make([]DocumentRef, 0, len(s.InvoiceIDs)+2)
	for _, id := range s.InvoiceIDs {
		refs = append(refs, DocumentRef{Kind: KindInvoice, ID: id})
	}
	if s.SubscriptionID != nil {
		refs = append(refs, DocumentRef{Kind: KindSubscription, ID: *s.SubscriptionID})
	}
	if s.DeclarationID != nil {
		refs = append(refs, DocumentRef{Kind: KindDeclaration, ID: *s.DeclarationID})
	}
	return refs
}

// Normalize sorts and deduplicates invoice ids and drops empty optional ids.
func (s LinkState) Normalize() LinkState {
	out := s
	out.InvoiceIDs = NormalizeIDs(s.InvoiceIDs)
	if out.SubscriptionID != nil && *out.SubscriptionID == "" {
		out.SubscriptionID = nil
	}
	if out.DeclarationID != nil && *out.DeclarationID == "" {
		out.DeclarationID = nil
	}
	return out
}

// Equal reports whether two normalized states are identical.
func (s LinkState) Equal(o LinkState) bool {
	return s.Status == o.Status &&
		s.Notes == o.Notes &&
		slices.Equal(s.InvoiceIDs, o.InvoiceIDs) &&
		equalID(s.SubscriptionID, o.SubscriptionID) &&
		equalID(s.DeclarationID, o.DeclarationID)
}

// NormalizeIDs returns a sorted copy of ids without duplicates or blanks.
func NormalizeIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func cloneID(id *string) *string {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func equalID(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
