// Package review lets a reviewer inspect a reconciliation record, edit a draft of its
// links and save it through the settlement linker.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Veraticus/settle/internal/common"
	"github.com/Veraticus/settle/internal/model"
	"github.com/Veraticus/settle/internal/service"
	"github.com/Veraticus/settle/internal/settlement"
)

// ErrCommitInFlight rejects a save while another save of the same record is running.
var ErrCommitInFlight = errors.New("a save is already in progress for this record")

// CandidateSet is everything a reviewer sees when opening a record.
type CandidateSet struct {
	Subscription *model.Document
	Declaration  *model.Document
	Warning      *settlement.ToleranceWarning
	Record       model.Record
	Transaction  model.Transaction
	Invoices     []model.Document
	Draft        Draft
	Group        settlement.Group
	ReadOnly     bool
}

// Service coordinates review sessions.
type Service struct {
	store    service.Storage
	linker   *settlement.Linker
	inFlight map[string]struct{}
	retry    service.RetryOptions
	mu       sync.Mutex
}

// NewService creates a review service. Saves are retried on database contention.
func NewService(store service.Storage, linker *settlement.Linker, retry service.RetryOptions) *Service {
	return &Service{
		store:    store,
		linker:   linker,
		retry:    retry,
		inFlight: make(map[string]struct{}),
	}
}

// Open loads a record with its transaction and linked documents and starts a draft.
// Records of validated statement files open read-only.
func (s *Service) Open(ctx context.Context, recordID string) (*CandidateSet, error) {
	record, err := s.store.GetRecord(ctx, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to load record: %w", err)
	}
	txn, err := s.store.GetTransactionByID(ctx, record.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	file, err := s.store.GetStatementFile(ctx, record.StatementFileID)
	if err != nil {
		return nil, fmt.Errorf("failed to load statement file: %w", err)
	}

	set := &CandidateSet{
		Record:      *record,
		Transaction: *txn,
		ReadOnly:    file.IsValidated(),
		Group:       settlement.Group{Transaction: *txn, Status: record.Status},
	}

	for _, ref := range record.State().Refs() {
		doc, err := s.store.GetDocument(ctx, ref)
		if errors.Is(err, common.ErrNotFound) {
			slog.Warn("Record links a missing document", "record_id", record.ID, "document", ref.String())
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", ref, err)
		}

		switch ref.Kind {
		case model.KindInvoice:
			set.Invoices = append(set.Invoices, *doc)
		case model.KindSubscription:
			set.Subscription = doc
		case model.KindDeclaration:
			set.Declaration = doc
		}
		set.Group.Documents = append(set.Group.Documents, *doc)
	}

	set.Warning = set.Group.Check(s.linker.Tolerance())
	set.Draft = newDraft(record, set.ReadOnly)
	return set, nil
}

// AvailableInvoices returns invoices the record may link: unsettled ones plus those it already links.
func (s *Service) AvailableInvoices(ctx context.Context, recordID string) ([]model.Document, error) {
	return s.available(ctx, recordID, model.KindInvoice)
}

// AvailableSubscriptions applies the same rule to subscriptions.
func (s *Service) AvailableSubscriptions(ctx context.Context, recordID string) ([]model.Document, error) {
	return s.available(ctx, recordID, model.KindSubscription)
}

// AvailableDeclarations applies the same rule to declarations.
func (s *Service) AvailableDeclarations(ctx context.Context, recordID string) ([]model.Document, error) {
	return s.available(ctx, recordID, model.KindDeclaration)
}

func (s *Service) available(ctx context.Context, recordID string, kind model.DocumentKind) ([]model.Document, error) {
	record, err := s.store.GetRecord(ctx, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to load record: %w", err)
	}
	pool, err := s.store.GetDocuments(ctx, service.DocumentFilter{Kind: kind})
	if err != nil {
		return nil, fmt.Errorf("failed to load %s documents: %w", kind, err)
	}

	var owned []string
	for _, ref := range record.State().Refs() {
		if ref.Kind == kind {
			owned = append(owned, ref.ID)
		}
	}
	return FilterAvailable(pool, owned), nil
}

// FilterAvailable keeps the unsettled documents of pool and those whose id is in owned.
func FilterAvailable(pool []model.Document, owned []string) []model.Document {
	keep := make(map[string]struct{}, len(owned))
	for _, id := range owned {
		keep[id] = struct{}{}
	}

	out := make([]model.Document, 0, len(pool))
	for _, doc := range pool {
		if _, ok := keep[doc.Ref.ID]; ok || !doc.IsSettled() {
			out = append(out, doc)
		}
	}
	return out
}

// SaveResult is a commit outcome with the draft rebased onto the saved record.
type SaveResult struct {
	*settlement.CommitResult

	// Draft continues the editing session from the saved version.
	Draft Draft
}

// Save commits the draft. Only one save per record may run at a time; the draft
// itself is never modified, so a failed save can be retried or edited further.
// Further edits after a successful save start from SaveResult.Draft.
func (s *Service) Save(ctx context.Context, draft Draft) (*SaveResult, error) {
	if draft.ReadOnly() {
		return nil, draft.editable()
	}

	if !s.begin(draft.RecordID()) {
		return nil, fmt.Errorf("record %s: %w", draft.RecordID(), ErrCommitInFlight)
	}
	defer s.end(draft.RecordID())

	var result *settlement.CommitResult
	err := common.WithRetry(ctx, func() error {
		var commitErr error
		result, commitErr = s.linker.Commit(ctx, draft.RecordID(), draft.State())
		return commitErr
	}, s.retry)
	if err != nil {
		slog.Info("Review save rejected", "record_id", draft.RecordID(), "error", err)
		return nil, err
	}

	if result.NoOp {
		slog.Debug("Review save changed nothing", "record_id", draft.RecordID())
	}
	return &SaveResult{CommitResult: result, Draft: draft.Rebase(result.Record)}, nil
}

func (s *Service) begin(recordID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[recordID]; busy {
		return false
	}
	s.inFlight[recordID] = struct{}{}
	return true
}

func (s *Service) end(recordID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, recordID)
}
