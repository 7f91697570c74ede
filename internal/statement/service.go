// Package statement manages the lifecycle of imported bank statements: import with the
// proposer's suggestions, validation (freeze) and rollback.
package statement

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/settle/internal/common"
	"github.com/Veraticus/settle/internal/model"
	"github.com/Veraticus/settle/internal/service"
	"github.com/Veraticus/settle/internal/settlement"
	"github.com/Veraticus/settle/internal/storage"
)

// ErrFileValidated refuses to roll back a validated statement file.
var ErrFileValidated = errors.New("statement file is validated")

// Proposal outcomes reported to the Observer.
const (
	ProposalApplied  = "applied"
	ProposalConflict = "conflict"
	ProposalSkipped  = "skipped"
)

// Progress is advanced once per proposal applied. *progressbar.ProgressBar satisfies it.
type Progress interface {
	Add(n int) error
}

// Observer receives lifecycle telemetry.
type Observer interface {
	ObserveImport(err error, duration time.Duration, transactions int)
	ObserveProposal(result string)
	ObserveRollback(err error)
}

// Checkpointer takes a database backup before destructive operations.
type Checkpointer interface {
	AutoCheckpoint(ctx context.Context, prefix string) (*storage.CheckpointMetadata, error)
}

// ImportOptions configures Import.
type ImportOptions struct {
	NewProgress    func(total int) Progress
	ApplyProposals bool
}

// ImportResult summarizes an import.
type ImportResult struct {
	File         *model.StatementFile
	Records      []model.Record
	Conflicts    []error
	Transactions int
	Applied      int
	Warnings     int
}

// RollbackResult summarizes a rollback.
type RollbackResult struct {
	Checkpoint   *storage.CheckpointMetadata
	Unsettled    []model.DocumentRef
	Records      int
	Transactions int
}

type nopObserver struct{}

func (nopObserver) ObserveImport(error, time.Duration, int) {}
func (nopObserver) ObserveProposal(string)                  {}
func (nopObserver) ObserveRollback(error)                   {}

// Service implements the statement lifecycle.
type Service struct {
	store        service.Storage
	linker       *settlement.Linker
	checkpointer Checkpointer
	observer     Observer
	now          func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithCheckpointer backs up the database before every rollback.
func WithCheckpointer(c Checkpointer) Option {
	return func(s *Service) { s.checkpointer = c }
}

// WithObserver reports lifecycle outcomes to o.
func WithObserver(o Observer) Option {
	return func(s *Service) {
		if o != nil {
			s.observer = o
		}
	}
}

// NewService creates a statement service.
func NewService(store service.Storage, linker *settlement.Linker, opts ...Option) *Service {
	s := &Service{
		store:    store,
		linker:   linker,
		observer: nopObserver{},
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Import stores a proposer blob as a new statement file with its transactions and one
// unmatched record per transaction. With ApplyProposals, each suggestion is then committed
// through the linker; suggestions that conflict are reported, never fatal.
func (s *Service) Import(ctx context.Context, fileName string, r io.Reader, opts ImportOptions) (result *ImportResult, err error) {
	start := time.Now()
	defer func() {
		n := 0
		if result != nil {
			n = result.Transactions
		}
		s.observer.ObserveImport(err, time.Since(start), n)
	}()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", fileName, err)
	}
	blob := buf.Bytes()
	hash := model.GenerateHash(blob)

	if existing, err := s.store.GetStatementFileByHash(ctx, hash); err == nil {
		return nil, fmt.Errorf("%w: %s was already imported as %s", common.ErrDuplicateEntry, fileName, existing.ID)
	} else if !errors.Is(err, common.ErrNotFound) {
		return nil, fmt.Errorf("failed to check for duplicate import: %w", err)
	}

	parsed, err := parseBlob(blob)
	if err != nil {
		return nil, err
	}

	file := &model.StatementFile{
		ID:         uuid.NewString(),
		FileName:   fileName,
		Hash:       hash,
		Blob:       blob,
		ImportedAt: s.now(),
	}

	txns := make([]model.Transaction, len(parsed.Rapprochements))
	records := make([]model.Record, len(parsed.Rapprochements))
	for i, p := range parsed.Rapprochements {
		txn, err := toTransaction(p.Transaction, file.ID, uuid.NewString())
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		txns[i] = txn

		records[i] = model.Record{
			ID:              uuid.NewString(),
			TransactionID:   txn.ID,
			StatementFileID: file.ID,
			Status:          model.StatusUnmatched,
			ProposedStatus:  proposedStatus(p.Status),
		}
		if p.Facture != nil {
			records[i].ProposedInvoiceID = model.StringPtr(p.Facture.ID)
		}
	}

	if err := s.persist(ctx, file, txns, records); err != nil {
		return nil, err
	}

	result = &ImportResult{File: file, Records: records, Transactions: len(txns)}
	slog.Info("Imported statement file",
		"file_id", file.ID,
		"file_name", fileName,
		"transactions", len(txns))

	if opts.ApplyProposals {
		s.applyProposals(ctx, result, opts)
	}
	return result, nil
}

func (s *Service) persist(ctx context.Context, file *model.StatementFile, txns []model.Transaction, records []model.Record) error {
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin import: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.CreateStatementFile(ctx, file); err != nil {
		return err
	}
	if err := tx.SaveTransactions(ctx, txns); err != nil {
		return err
	}
	if err := tx.CreateRecords(ctx, records); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Service) applyProposals(ctx context.Context, result *ImportResult, opts ImportOptions) {
	var progress Progress
	if opts.NewProgress != nil {
		progress = opts.NewProgress(len(result.Records))
	}

	for i := range result.Records {
		rec := &result.Records[i]
		outcome := s.applyProposal(ctx, result, rec)
		s.observer.ObserveProposal(outcome)

		if progress != nil {
			if err := progress.Add(1); err != nil {
				slog.Warn("Failed to update progress bar", "error", err)
			}
		}
	}

	slog.Info("Applied proposals",
		"file_id", result.File.ID,
		"applied", result.Applied,
		"conflicts", len(result.Conflicts),
		"tolerance_warnings", result.Warnings)
}

func (s *Service) applyProposal(ctx context.Context, result *ImportResult, rec *model.Record) string {
	if rec.ProposedStatus == model.StatusUnmatched && rec.ProposedInvoiceID == nil {
		return ProposalSkipped
	}

	state := settlement.State{Status: rec.ProposedStatus}
	if rec.ProposedInvoiceID != nil {
		state.InvoiceIDs = []string{*rec.ProposedInvoiceID}
	}

	committed, err := s.linker.Commit(ctx, rec.ID, state)
	if err != nil {
		slog.Warn("Proposal could not be applied",
			"record_id", rec.ID,
			"proposed_status", rec.ProposedStatus,
			"error", err)
		result.Conflicts = append(result.Conflicts, fmt.Errorf("record %s: %w", rec.ID, err))
		return ProposalConflict
	}

	*rec = *committed.Record
	result.Applied++
	if committed.Warning != nil {
		result.Warnings++
	}
	return ProposalApplied
}

// proposedStatus maps unknown proposer statuses to unmatched.
func proposedStatus(status model.ReconciliationStatus) model.ReconciliationStatus {
	if status.Valid() {
		return status
	}
	if status != "" {
		slog.Warn("Unknown proposer status, treating as unmatched", "status", status)
	}
	return model.StatusUnmatched
}

// Validate freezes a statement file; its records become read-only.
func (s *Service) Validate(ctx context.Context, fileID string) error {
	if err := s.store.MarkStatementFileValidated(ctx, fileID, s.now()); err != nil {
		return fmt.Errorf("failed to validate statement file %s: %w", fileID, err)
	}
	slog.Info("Validated statement file", "file_id", fileID)
	return nil
}

// Rollback deletes a statement file with its transactions and records, unsettling every
// document its records linked. Validated files are refused.
func (s *Service) Rollback(ctx context.Context, fileID string) (result *RollbackResult, err error) {
	defer func() { s.observer.ObserveRollback(err) }()

	file, err := s.store.GetStatementFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if file.IsValidated() {
		return nil, fmt.Errorf("%w: %s cannot be rolled back", ErrFileValidated, file.FileName)
	}

	result = &RollbackResult{}
	if s.checkpointer != nil {
		checkpoint, err := s.checkpointer.AutoCheckpoint(ctx, "rollback")
		if err != nil {
			return nil, fmt.Errorf("failed to back up before rollback: %w", err)
		}
		result.Checkpoint = checkpoint
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin rollback: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// The file may have been validated since the check above.
	file, err = tx.GetStatementFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if file.IsValidated() {
		return nil, fmt.Errorf("%w: %s cannot be rolled back", ErrFileValidated, file.FileName)
	}

	records, err := tx.ListRecords(ctx, service.RecordFilter{StatementFileID: fileID})
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		for _, ref := range rec.State().Refs() {
			if err := tx.UnsettleDocument(ctx, ref); err != nil {
				if errors.Is(err, common.ErrNotFound) {
					continue
				}
				return nil, fmt.Errorf("failed to unsettle %s: %w", ref, err)
			}
			result.Unsettled = append(result.Unsettled, ref)
		}
	}

	txns, err := tx.GetTransactions(ctx, service.TransactionFilter{StatementFileID: fileID})
	if err != nil {
		return nil, err
	}

	if err := tx.DeleteRecordsByStatementFile(ctx, fileID); err != nil {
		return nil, err
	}
	if err := tx.DeleteTransactionsByStatementFile(ctx, fileID); err != nil {
		return nil, err
	}
	if err := tx.DeleteStatementFile(ctx, fileID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	result.Records = len(records)
	result.Transactions = len(txns)
	slog.Info("Rolled back statement file",
		"file_id", fileID,
		"records", result.Records,
		"unsettled", len(result.Unsettled))
	return result, nil
}

// List returns every statement file with its per-status record counts.
func (s *Service) List(ctx context.Context) ([]model.StatementFile, error) {
	return s.store.ListStatementFiles(ctx)
}
