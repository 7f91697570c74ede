package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Veraticus/settle/internal/common"
	"github.com/Veraticus/settle/internal/model"
	"github.com/Veraticus/settle/internal/service"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStorage implements the Storage interface using SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	dbPath string
}

// queryable is satisfied by both *sql.DB and *sql.Tx.
type queryable interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if err := validateString(dbPath, "dbPath"); err != nil {
		return nil, err
	}

	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection serializes writers, which is what the single-writer discipline wants.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteStorage{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStorage) Path() string {
	return s.dbPath
}

// NewCheckpointManager creates a new checkpoint manager for this storage instance.
func (s *SQLiteStorage) NewCheckpointManager() (*CheckpointManager, error) {
	return NewCheckpointManager(s.db, s.dbPath)
}

// BeginTx starts a new database transaction.
func (s *SQLiteStorage) BeginTx(ctx context.Context) (service.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapDBError("failed to begin transaction", err)
	}

	return &sqliteTransaction{
		tx:      tx,
		storage: s,
	}, nil
}

// withTx runs fn inside a transaction that is committed only when fn succeeds.
func (s *SQLiteStorage) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDBError("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return wrapDBError("failed to commit transaction", err)
	}
	return nil
}

// wrapDBError marks lock contention as retryable so callers can retry the whole operation.
func wrapDBError(msg string, err error) error {
	if common.IsBusyError(err) {
		return &common.RetryableError{Err: fmt.Errorf("%s: %w: %w", msg, common.ErrDatabaseBusy, err), Retryable: true}
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// sqliteTransaction wraps sql.Tx to implement service.Transaction.
type sqliteTransaction struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTransaction) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return wrapDBError("failed to commit transaction", err)
	}
	return nil
}

func (t *sqliteTransaction) Rollback() error {
	return t.tx.Rollback()
}

// Transaction methods delegate to the main storage with the transaction.
func (t *sqliteTransaction) CreateStatementFile(ctx context.Context, file *model.StatementFile) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateStatementFile(file); err != nil {
		return err
	}
	return t.storage.createStatementFileTx(ctx, t.tx, file)
}

func (t *sqliteTransaction) GetStatementFile(ctx context.Context, id string) (*model.StatementFile, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return t.storage.getStatementFileTx(ctx, t.tx, "id", id)
}

func (t *sqliteTransaction) GetStatementFileByHash(ctx context.Context, hash string) (*model.StatementFile, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getStatementFileTx(ctx, t.tx, "hash", hash)
}

func (t *sqliteTransaction) ListStatementFiles(ctx context.Context) ([]model.StatementFile, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.listStatementFilesTx(ctx, t.tx)
}

func (t *sqliteTransaction) MarkStatementFileValidated(ctx context.Context, id string, at time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return t.storage.markStatementFileValidatedTx(ctx, t.tx, id, at)
}

func (t *sqliteTransaction) DeleteStatementFile(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return t.storage.deleteStatementFileTx(ctx, t.tx, id)
}

func (t *sqliteTransaction) SaveTransactions(ctx context.Context, transactions []model.Transaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateTransactions(transactions); err != nil {
		return err
	}
	return t.storage.saveTransactionsTx(ctx, t.tx, transactions)
}

func (t *sqliteTransaction) GetTransactionByID(ctx context.Context, id string) (*model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return t.storage.getTransactionByIDTx(ctx, t.tx, id)
}

func (t *sqliteTransaction) GetTransactions(ctx context.Context, filter service.TransactionFilter) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getTransactionsTx(ctx, t.tx, filter)
}

func (t *sqliteTransaction) DeleteTransactionsByStatementFile(ctx context.Context, statementFileID string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return t.storage.deleteTransactionsByStatementFileTx(ctx, t.tx, statementFileID)
}

func (t *sqliteTransaction) CreateRecords(ctx context.Context, records []model.Record) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRecords(records); err != nil {
		return err
	}
	return t.storage.createRecordsTx(ctx, t.tx, records)
}

func (t *sqliteTransaction) GetRecord(ctx context.Context, id string) (*model.Record, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return t.storage.getRecordTx(ctx, t.tx, id)
}

func (t *sqliteTransaction) ListRecords(ctx context.Context, filter service.RecordFilter) ([]model.Record, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.listRecordsTx(ctx, t.tx, filter)
}

func (t *sqliteTransaction) UpdateRecord(ctx context.Context, record *model.Record, expectedVersion int) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRecord(record); err != nil {
		return err
	}
	return t.storage.updateRecordTx(ctx, t.tx, record, expectedVersion)
}

func (t *sqliteTransaction) DeleteRecordsByStatementFile(ctx context.Context, statementFileID string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return t.storage.deleteRecordsByStatementFileTx(ctx, t.tx, statementFileID)
}

func (t *sqliteTransaction) GetDocumentOwner(ctx context.Context, ref model.DocumentRef) (string, error) {
	if err := validateContext(ctx); err != nil {
		return "", err
	}
	if err := validateRef(ref); err != nil {
		return "", err
	}
	return t.storage.getDocumentOwnerTx(ctx, t.tx, ref)
}

func (t *sqliteTransaction) GetReconciliationLines(ctx context.Context, start, end time.Time) ([]service.ReconciliationLine, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end date %v is before start date %v", ErrInvalidDateRange, end, start)
	}
	return t.storage.getReconciliationLinesTx(ctx, t.tx, start, end)
}

func (t *sqliteTransaction) SaveDocuments(ctx context.Context, documents []model.Document) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateDocuments(documents); err != nil {
		return err
	}
	return t.storage.saveDocumentsTx(ctx, t.tx, documents)
}

func (t *sqliteTransaction) GetDocument(ctx context.Context, ref model.DocumentRef) (*model.Document, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateRef(ref); err != nil {
		return nil, err
	}
	return t.storage.getDocumentTx(ctx, t.tx, ref)
}

func (t *sqliteTransaction) GetDocuments(ctx context.Context, filter service.DocumentFilter) ([]model.Document, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getDocumentsTx(ctx, t.tx, filter)
}

func (t *sqliteTransaction) SettleDocument(ctx context.Context, ref model.DocumentRef, settlement model.Settlement) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRef(ref); err != nil {
		return err
	}
	if err := validateString(settlement.Reference, "settlement.Reference"); err != nil {
		return err
	}
	return t.storage.settleDocumentTx(ctx, t.tx, ref, &settlement)
}

func (t *sqliteTransaction) UnsettleDocument(ctx context.Context, ref model.DocumentRef) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRef(ref); err != nil {
		return err
	}
	return t.storage.settleDocumentTx(ctx, t.tx, ref, nil)
}

func (t *sqliteTransaction) Migrate(_ context.Context) error {
	// Migrations should not be run within a transaction
	return fmt.Errorf("migrations cannot be run within a transaction")
}

func (t *sqliteTransaction) BeginTx(_ context.Context) (service.Transaction, error) {
	// Nested transactions not supported
	return nil, fmt.Errorf("nested transactions not supported")
}

func (t *sqliteTransaction) Close() error {
	// Transactions should be committed or rolled back, not closed
	return fmt.Errorf("transactions must be committed or rolled back, not closed")
}
