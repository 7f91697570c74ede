// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/settle/internal/model"
)

// TransactionFilter defines filtering options for bank transaction queries.
type TransactionFilter struct {
	StartDate       *time.Time
	EndDate         *time.Time
	StatementFileID string
	Limit           int
	Offset          int
}

// RecordFilter defines filtering options for reconciliation record queries.
type RecordFilter struct {
	StatementFileID string
	Status          model.ReconciliationStatus
}

// DocumentFilter defines filtering options for document queries.
type DocumentFilter struct {
	SettledFrom   *time.Time
	SettledTo     *time.Time
	Kind          model.DocumentKind
	InvoiceType   model.InvoiceType
	UnsettledOnly bool
	SettledOnly   bool
}

// Storage defines the contract for the ledger store.
type Storage interface {
	// Statement file operations
	CreateStatementFile(ctx context.Context, file *model.StatementFile) error
	GetStatementFile(ctx context.Context, id string) (*model.StatementFile, error)
	GetStatementFileByHash(ctx context.Context, hash string) (*model.StatementFile, error)
	ListStatementFiles(ctx context.Context) ([]model.StatementFile, error)
	MarkStatementFileValidated(ctx context.Context, id string, at time.Time) error
	DeleteStatementFile(ctx context.Context, id string) error

	// Bank transaction operations
	SaveTransactions(ctx context.Context, transactions []model.Transaction) error
	GetTransactionByID(ctx context.Context, id string) (*model.Transaction, error)
	GetTransactions(ctx context.Context, filter TransactionFilter) ([]model.Transaction, error)
	DeleteTransactionsByStatementFile(ctx context.Context, statementFileID string) error

	// Reconciliation record operations
	CreateRecords(ctx context.Context, records []model.Record) error
	GetRecord(ctx context.Context, id string) (*model.Record, error)
	ListRecords(ctx context.Context, filter RecordFilter) ([]model.Record, error)
	UpdateRecord(ctx context.Context, record *model.Record, expectedVersion int) error
	DeleteRecordsByStatementFile(ctx context.Context, statementFileID string) error
	GetDocumentOwner(ctx context.Context, ref model.DocumentRef) (string, error)
	GetReconciliationLines(ctx context.Context, start, end time.Time) ([]ReconciliationLine, error)

	// Document operations
	SaveDocuments(ctx context.Context, documents []model.Document) error
	GetDocument(ctx context.Context, ref model.DocumentRef) (*model.Document, error)
	GetDocuments(ctx context.Context, filter DocumentFilter) ([]model.Document, error)
	SettleDocument(ctx context.Context, ref model.DocumentRef, settlement model.Settlement) error
	UnsettleDocument(ctx context.Context, ref model.DocumentRef) error

	// Database management
	Migrate(ctx context.Context) error
	BeginTx(ctx context.Context) (Transaction, error)
	Close() error
}

// Transaction represents a database transaction.
type Transaction interface {
	Commit() error
	Rollback() error
	// Include all Storage methods for use within transaction
	Storage
}

// ReconciliationLine is the read contract consumed by reporters: one bank line with
// the status of its reconciliation record.
type ReconciliationLine struct {
	Transaction model.Transaction
	Status      model.ReconciliationStatus
	RecordID    string
	Linked      int
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DateRange represents a time period with start and end dates.
type DateRange struct {
	Start time.Time
	End   time.Time
}
