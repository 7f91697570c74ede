package settlement

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/settle/internal/model"
)

// AlreadySettledError means a document is claimed by another transaction or record.
// It blocks only the link it names; the commit reports every one it finds.
type AlreadySettledError struct {
	Ref       model.DocumentRef
	Reference string // settlement reference currently on the document
	OwnerID   string // record that links the document, when known
}

func (e *AlreadySettledError) Error() string {
	if e.OwnerID != "" {
		return fmt.Sprintf("%s is already linked to record %s", e.Ref, e.OwnerID)
	}
	return fmt.Sprintf("%s is already settled by %s", e.Ref, e.Reference)
}

// UnknownDocumentError means the document no longer exists.
type UnknownDocumentError struct {
	Ref model.DocumentRef
}

func (e *UnknownDocumentError) Error() string {
	return fmt.Sprintf("%s does not exist", e.Ref)
}

// InvalidStatusError rejects a status outside matched/uncertain/unmatched.
type InvalidStatusError struct {
	Status model.ReconciliationStatus
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("invalid reconciliation status %q", e.Status)
}

// ReadOnlyRecordError rejects edits to a record of a validated statement file.
type ReadOnlyRecordError struct {
	RecordID        string
	StatementFileID string
}

func (e *ReadOnlyRecordError) Error() string {
	return fmt.Sprintf("record %s belongs to validated statement file %s and is read-only", e.RecordID, e.StatementFileID)
}

// ConcurrentModificationError means the record changed since the caller read it.
type ConcurrentModificationError struct {
	RecordID string
	Expected int
	Actual   int
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("record %s was modified concurrently (expected version %d, found %d)", e.RecordID, e.Expected, e.Actual)
}

// ToleranceWarning is advisory: the linked documents do not add up to the transaction amount.
type ToleranceWarning struct {
	Expected   decimal.Decimal // abs(transaction amount)
	Actual     decimal.Decimal // sum of linked amounts due
	Difference decimal.Decimal
}

func (w *ToleranceWarning) Error() string {
	return fmt.Sprintf("linked documents total %s, transaction is %s (difference %s)",
		w.Actual.StringFixed(2), w.Expected.StringFixed(2), w.Difference.StringFixed(2))
}

// BlockingDocuments returns every document ref named by AlreadySettledError or
// UnknownDocumentError inside err, including joined errors.
func BlockingDocuments(err error) []model.DocumentRef {
	switch e := err.(type) {
	case nil:
		return nil
	case *AlreadySettledError:
		return []model.DocumentRef{e.Ref}
	case *UnknownDocumentError:
		return []model.DocumentRef{e.Ref}
	case interface{ Unwrap() []error }:
		var refs []model.DocumentRef
		for _, inner := range e.Unwrap() {
			refs = append(refs, BlockingDocuments(inner)...)
		}
		return refs
	}
	return BlockingDocuments(errors.Unwrap(err))
}
