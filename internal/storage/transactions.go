package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/settle/internal/common"
	"github.com/Veraticus/settle/internal/model"
	"github.com/Veraticus/settle/internal/service"
)

const transactionColumns = `t.id, t.statement_file_id, t.numero_ligne, t.transaction_date,
	t.transaction_libelle, t.transaction_credit, t.transaction_debit, t.transaction_montant`

// SaveTransactions saves multiple bank transactions to the database.
func (s *SQLiteStorage) SaveTransactions(ctx context.Context, transactions []model.Transaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateTransactions(transactions); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.saveTransactionsTx(ctx, tx, transactions)
	})
}

func (s *SQLiteStorage) saveTransactionsTx(ctx context.Context, q queryable, transactions []model.Transaction) error {
	for i, txn := range transactions {
		_, err := q.ExecContext(ctx, `
			INSERT INTO transactions (
				id, statement_file_id, position, numero_ligne, transaction_date,
				transaction_libelle, transaction_credit, transaction_debit, transaction_montant
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			txn.ID,
			txn.StatementFileID,
			i,
			nullString(txn.LineNumber),
			txn.Date.UTC(),
			txn.Label,
			txn.Credit,
			txn.Debit,
			txn.Amount,
		)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				return fmt.Errorf("%w: transaction %s (line %q)", common.ErrDuplicateEntry, txn.ID, txn.LineNumber)
			}
			return wrapDBError(fmt.Sprintf("failed to insert transaction %s", txn.ID), err)
		}
	}

	return nil
}

// GetTransactionByID retrieves a single bank transaction.
func (s *SQLiteStorage) GetTransactionByID(ctx context.Context, id string) (*model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getTransactionByIDTx(ctx, s.db, id)
}

func (s *SQLiteStorage) getTransactionByIDTx(ctx context.Context, q queryable, id string) (*model.Transaction, error) {
	row := q.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions t WHERE t.id = ?`, id)
	txn, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// GetTransactions retrieves bank transactions matching the filter, in statement order.
func (s *SQLiteStorage) GetTransactions(ctx context.Context, filter service.TransactionFilter) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getTransactionsTx(ctx, s.db, filter)
}

func (s *SQLiteStorage) getTransactionsTx(ctx context.Context, q queryable, filter service.TransactionFilter) ([]model.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions t WHERE 1=1`
	var args []any

	if filter.StatementFileID != "" {
		query += " AND t.statement_file_id = ?"
		args = append(args, filter.StatementFileID)
	}
	if filter.StartDate != nil {
		query += " AND t.transaction_date >= ?"
		args = append(args, filter.StartDate.UTC())
	}
	if filter.EndDate != nil {
		query += " AND t.transaction_date <= ?"
		args = append(args, filter.EndDate.UTC())
	}

	query += " ORDER BY t.transaction_date ASC, t.statement_file_id, t.position"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("failed to query transactions", err)
	}
	defer func() { _ = rows.Close() }()

	var transactions []model.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *txn)
	}
	return transactions, rows.Err()
}

// DeleteTransactionsByStatementFile removes every transaction of a statement file.
func (s *SQLiteStorage) DeleteTransactionsByStatementFile(ctx context.Context, statementFileID string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.deleteTransactionsByStatementFileTx(ctx, s.db, statementFileID)
}

func (s *SQLiteStorage) deleteTransactionsByStatementFileTx(ctx context.Context, q queryable, statementFileID string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM transactions WHERE statement_file_id = ?`, statementFileID); err != nil {
		return wrapDBError("failed to delete transactions", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*model.Transaction, error) {
	var txn model.Transaction
	var lineNumber sql.NullString
	err := row.Scan(
		&txn.ID,
		&txn.StatementFileID,
		&lineNumber,
		&txn.Date,
		&txn.Label,
		&txn.Credit,
		&txn.Debit,
		&txn.Amount,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}
	txn.LineNumber = lineNumber.String
	return &txn, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return nullString(*s)
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	v := ns.String
	return &v
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
