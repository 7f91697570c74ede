package review

import (
	"slices"

	"github.com/Veraticus/settle/internal/model"
	"github.com/Veraticus/settle/internal/settlement"
)

// Draft is a reviewer's working copy of a record's link state. Every edit returns a
// new Draft; discarding an edit is dropping the value.
type Draft struct {
	recordID string
	fileID   string
	base     model.LinkState
	state    model.LinkState
	version  int
	readOnly bool
}

func newDraft(record *model.Record, readOnly bool) Draft {
	state := record.State().Normalize()
	return Draft{
		recordID: record.ID,
		fileID:   record.StatementFileID,
		base:     state,
		state:    state,
		version:  record.Version,
		readOnly: readOnly,
	}
}

// RecordID returns the record the draft edits.
func (d Draft) RecordID() string { return d.recordID }

// Status returns the drafted status.
func (d Draft) Status() model.ReconciliationStatus { return d.state.Status }

// Notes returns the drafted notes.
func (d Draft) Notes() string { return d.state.Notes }

// InvoiceIDs returns a copy of the drafted invoice set, sorted.
func (d Draft) InvoiceIDs() []string { return slices.Clone(d.state.InvoiceIDs) }

// HasInvoice reports whether the invoice is in the drafted set.
func (d Draft) HasInvoice(id string) bool {
	_, found := slices.BinarySearch(d.state.InvoiceIDs, id)
	return found
}

// SubscriptionID returns the drafted subscription, or "".
func (d Draft) SubscriptionID() string { return deref(d.state.SubscriptionID) }

// DeclarationID returns the drafted declaration, or "".
func (d Draft) DeclarationID() string { return deref(d.state.DeclarationID) }

// ReadOnly reports whether the record belongs to a validated statement file.
func (d Draft) ReadOnly() bool { return d.readOnly }

// Changed reports whether the draft differs from the record it was opened from.
func (d Draft) Changed() bool { return !d.base.Equal(d.state) }

// WithStatus sets the status.
func (d Draft) WithStatus(status model.ReconciliationStatus) (Draft, error) {
	if err := d.editable(); err != nil {
		return d, err
	}
	if !status.Valid() {
		return d, &settlement.InvalidStatusError{Status: status}
	}
	next := d.clone()
	next.state.Status = status
	return next, nil
}

// ToggleInvoice adds the invoice to the set, or removes it when already present.
func (d Draft) ToggleInvoice(id string) (Draft, error) {
	if err := d.editable(); err != nil {
		return d, err
	}
	next := d.clone()
	if i, found := slices.BinarySearch(next.state.InvoiceIDs, id); found {
		next.state.InvoiceIDs = slices.Delete(next.state.InvoiceIDs, i, i+1)
	} else {
		next.state.InvoiceIDs = model.NormalizeIDs(append(next.state.InvoiceIDs, id))
	}
	return next, nil
}

// WithSubscription links a subscription; an empty id clears the slot.
func (d Draft) WithSubscription(id string) (Draft, error) {
	if err := d.editable(); err != nil {
		return d, err
	}
	next := d.clone()
	next.state.SubscriptionID = model.StringPtr(id)
	return next, nil
}

// WithDeclaration links a declaration; an empty id clears the slot.
func (d Draft) WithDeclaration(id string) (Draft, error) {
	if err := d.editable(); err != nil {
		return d, err
	}
	next := d.clone()
	next.state.DeclarationID = model.StringPtr(id)
	return next, nil
}

// WithNotes replaces the reviewer notes.
func (d Draft) WithNotes(notes string) (Draft, error) {
	if err := d.editable(); err != nil {
		return d, err
	}
	next := d.clone()
	next.state.Notes = notes
	return next, nil
}

// Rebase starts a new draft from record, as saved. The read-only flag is kept.
func (d Draft) Rebase(record *model.Record) Draft {
	return newDraft(record, d.readOnly)
}

// State returns the settlement state to commit, pinned to the version the draft was opened at.
func (d Draft) State() settlement.State {
	return settlement.State{
		Status:         d.state.Status,
		InvoiceIDs:     slices.Clone(d.state.InvoiceIDs),
		SubscriptionID: d.state.SubscriptionID,
		DeclarationID:  d.state.DeclarationID,
		Notes:          d.state.Notes,
		BaseVersion:    d.version,
	}
}

func (d Draft) editable() error {
	if d.readOnly {
		return &settlement.ReadOnlyRecordError{RecordID: d.recordID, StatementFileID: d.fileID}
	}
	return nil
}

func (d Draft) clone() Draft {
	next := d
	next.state.InvoiceIDs = slices.Clone(d.state.InvoiceIDs)
	if next.state.InvoiceIDs == nil {
		next.state.InvoiceIDs = []string{}
	}
	return next
}

func deref(id *string) string {
	if id == nil {
		return ""
	}
	return *id
}
