package testutil

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/settle/internal/model"
)

// BaseDate anchors fixture dates.
var BaseDate = time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)

// Line describes a bank-statement line to seed.
type Line struct {
	Date       time.Time
	LineNumber string
	Label      string
	Amount     decimal.Decimal // signed
}

// Credit is an incoming payment line.
func Credit(lineNumber, amount string) Line {
	return Line{LineNumber: lineNumber, Amount: decimal.RequireFromString(amount)}
}

// Debit is an outgoing payment line; amount is given unsigned.
func Debit(lineNumber, amount string) Line {
	return Line{LineNumber: lineNumber, Amount: decimal.RequireFromString(amount).Neg()}
}

// On returns a copy of the line booked on date.
func (l Line) On(date time.Time) Line {
	l.Date = date
	return l
}

func (l Line) transaction(fileID string, i int) model.Transaction {
	txn := model.Transaction{
		ID:              fmt.Sprintf("%s-txn-%d", fileID, i),
		StatementFileID: fileID,
		LineNumber:      l.LineNumber,
		Date:            l.Date,
		Label:           l.Label,
		Amount:          l.Amount,
	}
	if txn.Date.IsZero() {
		txn.Date = BaseDate.AddDate(0, 0, i)
	}
	if txn.Label == "" {
		txn.Label = fmt.Sprintf("LINE %d", i)
	}
	if l.Amount.IsPositive() {
		txn.Credit = l.Amount
	} else {
		txn.Debit = l.Amount.Abs()
	}
	return txn
}

// Invoice builds an invoice with 20% VAT included in amount.
func Invoice(id, amount string, invoiceType model.InvoiceType) model.Document {
	due := decimal.RequireFromString(amount)
	exclTax := due.Div(decimal.NewFromFloat(1.2)).Round(2)
	return model.Document{
		Ref:           model.DocumentRef{Kind: model.KindInvoice, ID: id},
		Number:        "FAC-" + id,
		Label:         "Invoice " + id,
		InvoiceType:   invoiceType,
		AmountDue:     due,
		AmountExclTax: exclTax,
		VATAmount:     due.Sub(exclTax),
		IssueDate:     BaseDate.AddDate(0, -1, 0),
		DueDate:       BaseDate,
	}
}

// Subscription builds a recurring subscription charge.
func Subscription(id, amount string) model.Document {
	return model.Document{
		Ref:       model.DocumentRef{Kind: model.KindSubscription, ID: id},
		Number:    "ABO-" + id,
		Label:     "Subscription " + id,
		AmountDue: decimal.RequireFromString(amount),
		DueDate:   BaseDate,
	}
}

// Declaration builds a social-contribution declaration.
func Declaration(id, amount string) model.Document {
	return model.Document{
		Ref:       model.DocumentRef{Kind: model.KindDeclaration, ID: id},
		Number:    "DEC-" + id,
		Label:     "Declaration " + id,
		AmountDue: decimal.RequireFromString(amount),
		DueDate:   BaseDate,
	}
}

// Due returns a copy of the document due on date.
func Due(doc model.Document, date time.Time) model.Document {
	doc.DueDate = date
	return doc
}
