// Package testutil provides an in-memory ledger and fixture builders for tests.
package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/Veraticus/settle/internal/model"
	"github.com/Veraticus/settle/internal/service"
	"github.com/Veraticus/settle/internal/storage"
)

// TestDB represents a migrated in-memory ledger bound to one test.
type TestDB struct {
	Storage *storage.SQLiteStorage
	t       *testing.T
}

// SetupTestDB creates a new in-memory test database, migrated and closed at cleanup.
//
// Example:
//
//	db := testutil.SetupTestDB(t)
//	_, records := db.SeedStatement("releve-03", testutil.Credit("L001", "1200.00"))
//	db.SeedDocuments(testutil.Invoice("F1", "700.00", model.InvoiceTypeSale))
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		_ = store.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	return &TestDB{Storage: store, t: t}
}

// SeedStatement imports a statement file with one unmatched record per line.
// Lines without a date get consecutive days starting at BaseDate.
func (db *TestDB) SeedStatement(fileID string, lines ...Line) ([]model.Transaction, []model.Record) {
	db.t.Helper()
	ctx := context.Background()

	blob := []byte(fmt.Sprintf(`{"rapprochements":[],"id":%q}`, fileID))
	if err := db.Storage.CreateStatementFile(ctx, &model.StatementFile{
		ID:       fileID,
		FileName: fileID + ".json",
		Hash:     model.GenerateHash(blob),
		Blob:     blob,
	}); err != nil {
		db.t.Fatalf("failed to seed statement file %s: %v", fileID, err)
	}

	txns := make([]model.Transaction, len(lines))
	records := make([]model.Record, len(lines))
	for i, line := range lines {
		txns[i] = line.transaction(fileID, i)
		records[i] = model.Record{
			ID:              fmt.Sprintf("%s-rec-%d", fileID, i),
			TransactionID:   txns[i].ID,
			StatementFileID: fileID,
			Status:          model.StatusUnmatched,
		}
	}
	if len(lines) == 0 {
		return txns, records
	}

	if err := db.Storage.SaveTransactions(ctx, txns); err != nil {
		db.t.Fatalf("failed to seed transactions: %v", err)
	}
	if err := db.Storage.CreateRecords(ctx, records); err != nil {
		db.t.Fatalf("failed to seed records: %v", err)
	}
	return txns, records
}

// SeedDocuments upserts documents of any kind.
func (db *TestDB) SeedDocuments(docs ...model.Document) {
	db.t.Helper()
	if err := db.Storage.SaveDocuments(context.Background(), docs); err != nil {
		db.t.Fatalf("failed to seed documents: %v", err)
	}
}

// Validate freezes a statement file.
func (db *TestDB) Validate(fileID string) {
	db.t.Helper()
	if err := db.Storage.MarkStatementFileValidated(context.Background(), fileID, BaseDate.AddDate(0, 2, 0)); err != nil {
		db.t.Fatalf("failed to validate %s: %v", fileID, err)
	}
}

// MustDocument loads a document or fails the test.
func (db *TestDB) MustDocument(kind model.DocumentKind, id string) *model.Document {
	db.t.Helper()
	doc, err := db.Storage.GetDocument(context.Background(), model.DocumentRef{Kind: kind, ID: id})
	if err != nil {
		db.t.Fatalf("failed to load %s:%s: %v", kind, id, err)
	}
	return doc
}

// MustRecord loads a record or fails the test.
func (db *TestDB) MustRecord(id string) *model.Record {
	db.t.Helper()
	rec, err := db.Storage.GetRecord(context.Background(), id)
	if err != nil {
		db.t.Fatalf("failed to load record %s: %v", id, err)
	}
	return rec
}

// WithTransaction executes the given function within a database transaction.
// The transaction is automatically rolled back after the function completes.
func (db *TestDB) WithTransaction(fn func(tx service.Transaction) error) error {
	tx, err := db.Storage.BeginTx(context.Background())
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	return fn(tx)
}
