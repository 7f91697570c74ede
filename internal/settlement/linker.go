// Package settlement links bank transactions to the documents they pay.
// Linker.Commit is the only code path that settles or unsettles a document.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/settle/internal/common"
	"github.com/Veraticus/settle/internal/model"
	"github.com/Veraticus/settle/internal/service"
)

// Commit outcomes reported to the Observer.
const (
	OutcomeCommitted = "committed"
	OutcomeNoOp      = "noop"
	OutcomeRejected  = "rejected"
	OutcomeConflict  = "conflict"
	OutcomeFailed    = "failed"
)

// Observer receives commit telemetry. Implementations must be safe for concurrent use.
type Observer interface {
	ObserveCommit(outcome string, duration time.Duration)
	ObserveToleranceWarning(difference decimal.Decimal)
}

type nopObserver struct{}

func (nopObserver) ObserveCommit(string, time.Duration)    {}
func (nopObserver) ObserveToleranceWarning(decimal.Decimal) {}

// State is the link state a reviewer wants a record to have.
type State struct {
	SubscriptionID *string
	DeclarationID  *string
	Status         model.ReconciliationStatus
	Notes          string
	InvoiceIDs     []string
	BaseVersion    int // record version the state was derived from; 0 skips the check
}

func (s State) linkState() model.LinkState {
	return model.LinkState{
		Status:         s.Status,
		InvoiceIDs:     s.InvoiceIDs,
		SubscriptionID: s.SubscriptionID,
		DeclarationID:  s.DeclarationID,
		Notes:          s.Notes,
	}.Normalize()
}

// CommitResult describes what a successful commit changed.
type CommitResult struct {
	Record   *model.Record
	Warning  *ToleranceWarning
	Group    Group
	Linked   []model.DocumentRef
	Unlinked []model.DocumentRef
	NoOp     bool
}

// Linker applies link states atomically.
type Linker struct {
	store     service.Storage
	observer  Observer
	tolerance decimal.Decimal
}

// Option configures a Linker.
type Option func(*Linker)

// WithTolerance overrides DefaultTolerance.
func WithTolerance(tol decimal.Decimal) Option {
	return func(l *Linker) { l.tolerance = tol }
}

// WithObserver reports commit outcomes to o.
func WithObserver(o Observer) Option {
	return func(l *Linker) {
		if o != nil {
			l.observer = o
		}
	}
}

// NewLinker creates a linker over the given store.
func NewLinker(store service.Storage, opts ...Option) *Linker {
	l := &Linker{
		store:     store,
		observer:  nopObserver{},
		tolerance: DefaultTolerance,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Tolerance returns the configured tolerance.
func (l *Linker) Tolerance() decimal.Decimal {
	return l.tolerance
}

// Commit moves the record to state. Documents leaving the record are unsettled, documents
// joining it are settled with the transaction's reference, and the record is rewritten,
// all in one database transaction. A tolerance mismatch is reported in the result, never
// as an error.
func (l *Linker) Commit(ctx context.Context, recordID string, state State) (result *CommitResult, err error) {
	start := time.Now()
	defer func() {
		l.observer.ObserveCommit(outcomeOf(result, err), time.Since(start))
		if result != nil && result.Warning != nil {
			l.observer.ObserveToleranceWarning(result.Warning.Difference)
		}
	}()

	if !state.Status.Valid() {
		return nil, &InvalidStatusError{Status: state.Status}
	}

	tx, err := l.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin commit: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil {
				slog.Debug("rollback after failed commit", "record_id", recordID, "error", rbErr)
			}
		}
	}()

	record, txn, err := loadWritable(ctx, tx, recordID)
	if err != nil {
		return nil, err
	}

	current := record.State().Normalize()
	next := state.linkState()

	if current.Equal(next) {
		group, err := l.group(ctx, tx, txn, next)
		if err != nil {
			return nil, err
		}
		return &CommitResult{Record: record, Group: group, Warning: group.Check(l.tolerance), NoOp: true}, nil
	}

	if state.BaseVersion != 0 && state.BaseVersion != record.Version {
		return nil, &ConcurrentModificationError{RecordID: record.ID, Expected: state.BaseVersion, Actual: record.Version}
	}

	toUnlink := difference(current.Refs(), next.Refs())
	toLink := difference(next.Refs(), current.Refs())
	reference := txn.SettlementReference()

	if err := checkLinkable(ctx, tx, record.ID, reference, toLink); err != nil {
		return nil, err
	}

	for _, ref := range toUnlink {
		if err := tx.UnsettleDocument(ctx, ref); err != nil && !errors.Is(err, common.ErrNotFound) {
			return nil, fmt.Errorf("failed to unsettle %s: %w", ref, err)
		}
	}
	settlement := model.Settlement{Reference: reference, Date: txn.Date}
	for _, ref := range toLink {
		if err := tx.SettleDocument(ctx, ref, settlement); err != nil {
			return nil, fmt.Errorf("failed to settle %s: %w", ref, err)
		}
	}

	updated := *record
	updated.Status = next.Status
	updated.Notes = next.Notes
	updated.InvoiceIDs = next.InvoiceIDs
	updated.SubscriptionID = next.SubscriptionID
	updated.DeclarationID = next.DeclarationID
	if err := tx.UpdateRecord(ctx, &updated, record.Version); err != nil {
		return nil, fmt.Errorf("failed to update record %s: %w", record.ID, err)
	}

	group, err := l.group(ctx, tx, txn, next)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit record %s: %w", record.ID, err)
	}
	committed = true

	result = &CommitResult{
		Record:   &updated,
		Group:    group,
		Warning:  group.Check(l.tolerance),
		Linked:   toLink,
		Unlinked: toUnlink,
	}

	slog.Info("Committed reconciliation",
		"record_id", record.ID,
		"status", updated.Status,
		"version", updated.Version,
		"linked", len(toLink),
		"unlinked", len(toUnlink))
	if result.Warning != nil {
		slog.Warn("Settlement group outside tolerance",
			"record_id", record.ID,
			"expected", result.Warning.Expected.StringFixed(2),
			"actual", result.Warning.Actual.StringFixed(2))
	}
	return result, nil
}

// GroupFor returns the settlement group of a record as currently stored.
func (l *Linker) GroupFor(ctx context.Context, recordID string) (Group, error) {
	record, err := l.store.GetRecord(ctx, recordID)
	if err != nil {
		return Group{}, err
	}
	txn, err := l.store.GetTransactionByID(ctx, record.TransactionID)
	if err != nil {
		return Group{}, err
	}
	return l.group(ctx, l.store, txn, record.State())
}

// loadWritable loads a record and its transaction, refusing records of validated files.
func loadWritable(ctx context.Context, store service.Storage, recordID string) (*model.Record, *model.Transaction, error) {
	record, err := store.GetRecord(ctx, recordID)
	if err != nil {
		return nil, nil, err
	}

	file, err := store.GetStatementFile(ctx, record.StatementFileID)
	if err != nil {
		return nil, nil, err
	}
	if file.IsValidated() {
		return nil, nil, &ReadOnlyRecordError{RecordID: record.ID, StatementFileID: file.ID}
	}

	txn, err := store.GetTransactionByID(ctx, record.TransactionID)
	if err != nil {
		return nil, nil, err
	}
	return record, txn, nil
}

// checkLinkable collects every reason the refs cannot be linked to the record.
func checkLinkable(ctx context.Context, store service.Storage, recordID, reference string, refs []model.DocumentRef) error {
	var failures []error
	for _, ref := range refs {
		doc, err := store.GetDocument(ctx, ref)
		if errors.Is(err, common.ErrNotFound) {
			failures = append(failures, &UnknownDocumentError{Ref: ref})
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", ref, err)
		}

		if doc.IsSettled() && !doc.SettledBy(reference) {
			failures = append(failures, &AlreadySettledError{Ref: ref, Reference: doc.Settlement.Reference})
			continue
		}

		owner, err := store.GetDocumentOwner(ctx, ref)
		switch {
		case errors.Is(err, common.ErrNotFound):
		case err != nil:
			return fmt.Errorf("failed to look up owner of %s: %w", ref, err)
		case owner != recordID:
			claimed := &AlreadySettledError{Ref: ref, OwnerID: owner}
			if doc.Settlement != nil {
				claimed.Reference = doc.Settlement.Reference
			}
			failures = append(failures, claimed)
		}
	}
	return errors.Join(failures...)
}

func (l *Linker) group(ctx context.Context, store service.Storage, txn *model.Transaction, state model.LinkState) (Group, error) {
	group := Group{Transaction: *txn, Status: state.Status}
	for _, ref := range state.Refs() {
		doc, err := store.GetDocument(ctx, ref)
		if errors.Is(err, common.ErrNotFound) {
			slog.Warn("Linked document is missing", "document", ref.String(), "transaction_id", txn.ID)
			continue
		}
		if err != nil {
			return Group{}, fmt.Errorf("failed to load %s: %w", ref, err)
		}
		group.Documents = append(group.Documents, *doc)
	}
	return group, nil
}

// difference returns the refs of a that are not in b, keeping a's order.
func difference(a, b []model.DocumentRef) []model.DocumentRef {
	seen := make(map[model.DocumentRef]struct{}, len(b))
	for _, ref := range b {
		seen[ref] = struct{}{}
	}
	var out []model.DocumentRef
	for _, ref := range a {
		if _, ok := seen[ref]; !ok {
			out = append(out, ref)
		}
	}
	return out
}

func outcomeOf(result *CommitResult, err error) string {
	var readOnly *ReadOnlyRecordError
	var status *InvalidStatusError
	var concurrent *ConcurrentModificationError
	switch {
	case err == nil && result != nil && result.NoOp:
		return OutcomeNoOp
	case err == nil:
		return OutcomeCommitted
	case errors.As(err, &readOnly), errors.As(err, &status):
		return OutcomeRejected
	case errors.As(err, &concurrent), len(BlockingDocuments(err)) > 0:
		return OutcomeConflict
	default:
		return OutcomeFailed
	}
}
