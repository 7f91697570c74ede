package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DocumentKind tags the three kinds of accounting documents a transaction can settle.
type DocumentKind string

// Document kinds.
const (
	KindInvoice      DocumentKind = "invoice"
	KindSubscription DocumentKind = "subscription"
	KindDeclaration  DocumentKind = "declaration"
)

// DocumentKinds lists every kind in a stable order.
var DocumentKinds = []DocumentKind{KindInvoice, KindSubscription, KindDeclaration}

// Valid reports whether k is a known document kind.
func (k DocumentKind) Valid() bool {
	switch k {
	case KindInvoice, KindSubscription, KindDeclaration:
		return true
	}
	return false
}

// InvoiceType distinguishes sales from purchases. Only invoices carry one.
type InvoiceType string

// Invoice types, as stored in factures.type_facture.
const (
	InvoiceTypeSale     InvoiceType = "vente"
	InvoiceTypePurchase InvoiceType = "achat"
)

// DocumentRef identifies a document across kinds.
type DocumentRef struct {
	Kind DocumentKind
	ID   string
}

func (r DocumentRef) String() string {
	return fmt.Sprintf("%s:%s", r.Kind, r.ID)
}

// Settlement records which transaction paid a document and when.
type Settlement struct {
	Date      time.Time
	Reference string
}

// Document is an invoice, a subscription charge or a social-contribution declaration.
type Document struct {
	IssueDate     time.Time
	DueDate       time.Time
	Settlement    *Settlement
	Ref           DocumentRef
	Number        string
	Label         string
	Status        string
	InvoiceType   InvoiceType
	AmountDue     decimal.Decimal // TTC
	AmountExclTax decimal.Decimal // HT
	VATAmount     decimal.Decimal
}

// IsSettled reports whether a transaction has been linked to the document.
func (d *Document) IsSettled() bool {
	return d.Settlement != nil && d.Settlement.Reference != ""
}

// SettledBy reports whether the document is settled with the given reference.
func (d *Document) SettledBy(reference string) bool {
	return d.IsSettled() && d.Settlement.Reference == reference
}
