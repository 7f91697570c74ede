// Package model defines the core domain models used throughout the application.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction represents a single bank-statement line.
// It is created by statement import and never modified afterwards.
type Transaction struct {
	Date            time.Time
	ID              string
	StatementFileID string
	Label           string
	LineNumber      string // Stable external identifier, empty when the bank did not provide one
	Credit          decimal.Decimal
	Debit           decimal.Decimal
	Amount          decimal.Decimal // Signed: positive for credits, negative for debits
}

// SettlementReference returns the value written on documents settled by this transaction.
func (t *Transaction) SettlementReference() string {
	if t.LineNumber != "" {
		return t.LineNumber
	}
	return t.ID
}

// IsCredit reports whether money came into the account.
func (t *Transaction) IsCredit() bool {
	return t.Amount.IsPositive()
}

// AbsAmount returns the unsigned transaction amount.
func (t *Transaction) AbsAmount() decimal.Decimal {
	return t.Amount.Abs()
}
