// Package storage provides the data persistence layer for the settlement ledger.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/settle/internal/model"
)

// Validation errors.
var (
	ErrNilContext         = errors.New("context cannot be nil")
	ErrEmptyString        = errors.New("string parameter cannot be empty")
	ErrNilParameter       = errors.New("parameter cannot be nil")
	ErrEmptySlice         = errors.New("slice cannot be empty")
	ErrInvalidDateRange   = errors.New("start date must be before end date")
	ErrInvalidStatus      = errors.New("invalid reconciliation status")
	ErrInvalidKind        = errors.New("invalid document kind")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrInvalidRecord      = errors.New("invalid reconciliation record")
	ErrInvalidDocument    = errors.New("invalid document")
	ErrInvalidStatement   = errors.New("invalid statement file")
	ErrStaleVersion       = errors.New("record version is stale")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

func validateStatementFile(file *model.StatementFile) error {
	if file == nil {
		return fmt.Errorf("%w: statement file", ErrNilParameter)
	}
	if file.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidStatement)
	}
	if strings.TrimSpace(file.FileName) == "" {
		return fmt.Errorf("%w: missing file name", ErrInvalidStatement)
	}
	if file.Hash == "" {
		return fmt.Errorf("%w: missing hash", ErrInvalidStatement)
	}
	return nil
}

// validateTransactions validates a slice of transactions.
func validateTransactions(transactions []model.Transaction) error {
	if transactions == nil {
		return fmt.Errorf("%w: transactions", ErrNilParameter)
	}
	if len(transactions) == 0 {
		return fmt.Errorf("%w: transactions", ErrEmptySlice)
	}

	for i, txn := range transactions {
		if err := validateTransaction(&txn); err != nil {
			return fmt.Errorf("transaction at index %d: %w", i, err)
		}
	}
	return nil
}

// validateTransaction validates a single transaction.
func validateTransaction(txn *model.Transaction) error {
	if txn == nil {
		return fmt.Errorf("%w: transaction", ErrNilParameter)
	}
	if txn.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidTransaction)
	}
	if txn.StatementFileID == "" {
		return fmt.Errorf("%w: missing statement file", ErrInvalidTransaction)
	}
	if txn.Date.IsZero() {
		return fmt.Errorf("%w: missing date", ErrInvalidTransaction)
	}
	if strings.TrimSpace(txn.Label) == "" {
		return fmt.Errorf("%w: missing label", ErrInvalidTransaction)
	}
	return nil
}

func validateRecords(records []model.Record) error {
	if len(records) == 0 {
		return fmt.Errorf("%w: records", ErrEmptySlice)
	}
	for i := range records {
		if err := validateRecord(&records[i]); err != nil {
			return fmt.Errorf("record at index %d: %w", i, err)
		}
	}
	return nil
}

func validateRecord(record *model.Record) error {
	if record == nil {
		return fmt.Errorf("%w: record", ErrNilParameter)
	}
	if record.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidRecord)
	}
	if record.TransactionID == "" {
		return fmt.Errorf("%w: missing transaction", ErrInvalidRecord)
	}
	if !record.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, record.Status)
	}
	return nil
}

func validateDocuments(documents []model.Document) error {
	if len(documents) == 0 {
		return fmt.Errorf("%w: documents", ErrEmptySlice)
	}
	for i := range documents {
		if err := validateDocument(&documents[i]); err != nil {
			return fmt.Errorf("document at index %d: %w", i, err)
		}
	}
	return nil
}

func validateDocument(doc *model.Document) error {
	if err := validateRef(doc.Ref); err != nil {
		return err
	}
	if strings.TrimSpace(doc.Number) == "" {
		return fmt.Errorf("%w: %s missing number", ErrInvalidDocument, doc.Ref)
	}
	if doc.Ref.Kind == model.KindInvoice &&
		doc.InvoiceType != model.InvoiceTypeSale && doc.InvoiceType != model.InvoiceTypePurchase {
		return fmt.Errorf("%w: %s has invoice type %q", ErrInvalidDocument, doc.Ref, doc.InvoiceType)
	}
	if doc.AmountDue.IsNegative() {
		return fmt.Errorf("%w: %s has a negative amount", ErrInvalidDocument, doc.Ref)
	}
	return nil
}

func validateRef(ref model.DocumentRef) error {
	if !ref.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, ref.Kind)
	}
	return validateString(ref.ID, "document id")
}
