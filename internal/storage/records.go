package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/settle/internal/common"
	"github.com/Veraticus/settle/internal/model"
	"github.com/Veraticus/settle/internal/service"
)

const recordColumns = `r.id, r.transaction_id, r.statement_file_id, r.status, r.facture_id,
	r.abonnement_id, r.declaration_charge_id, r.notes, r.proposed_status,
	r.proposed_facture_id, r.version, r.updated_at`

// CreateRecords inserts reconciliation records, one per transaction.
func (s *SQLiteStorage) CreateRecords(ctx context.Context, records []model.Record) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRecords(records); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.createRecordsTx(ctx, tx, records)
	})
}

func (s *SQLiteStorage) createRecordsTx(ctx context.Context, q queryable, records []model.Record) error {
	now := time.Now().UTC()
	for i := range records {
		rec := &records[i]
		if rec.Version == 0 {
			rec.Version = 1
		}
		rec.UpdatedAt = now

		_, err := q.ExecContext(ctx, `
			INSERT INTO rapprochements (
				id, transaction_id, statement_file_id, status, abonnement_id,
				declaration_charge_id, notes, proposed_status, proposed_facture_id,
				version, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			rec.ID,
			rec.TransactionID,
			rec.StatementFileID,
			string(rec.Status),
			nullStringPtr(rec.SubscriptionID),
			nullStringPtr(rec.DeclarationID),
			nullString(rec.Notes),
			nullString(string(rec.ProposedStatus)),
			nullStringPtr(rec.ProposedInvoiceID),
			rec.Version,
			rec.UpdatedAt,
		)
		if err != nil {
			return wrapDBError(fmt.Sprintf("failed to insert record %s", rec.ID), err)
		}

		if err := s.replaceInvoiceLinksTx(ctx, q, rec.ID, rec.InvoiceIDs); err != nil {
			return err
		}
	}
	return nil
}

// GetRecord retrieves a reconciliation record with its linked invoice set.
func (s *SQLiteStorage) GetRecord(ctx context.Context, id string) (*model.Record, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getRecordTx(ctx, s.db, id)
}

func (s *SQLiteStorage) getRecordTx(ctx context.Context, q queryable, id string) (*model.Record, error) {
	row := q.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM rapprochements r WHERE r.id = ?`, id)
	rec, legacy, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	links, err := s.invoiceLinksTx(ctx, q, `WHERE rf.rapprochement_id = ?`, id)
	if err != nil {
		return nil, err
	}
	rec.InvoiceIDs = normalizeInvoiceIDs(links[rec.ID], legacy)
	return rec, nil
}

// ListRecords returns reconciliation records matching the filter in statement order.
func (s *SQLiteStorage) ListRecords(ctx context.Context, filter service.RecordFilter) ([]model.Record, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.listRecordsTx(ctx, s.db, filter)
}

func (s *SQLiteStorage) listRecordsTx(ctx context.Context, q queryable, filter service.RecordFilter) ([]model.Record, error) {
	where := "WHERE 1=1"
	var args []any
	if filter.StatementFileID != "" {
		where += " AND r.statement_file_id = ?"
		args = append(args, filter.StatementFileID)
	}
	if filter.Status != "" {
		where += " AND r.status = ?"
		args = append(args, string(filter.Status))
	}

	rows, err := q.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM rapprochements r
		JOIN transactions t ON t.id = r.transaction_id
		`+where+`
		ORDER BY t.transaction_date, t.position`, args...)
	if err != nil {
		return nil, wrapDBError("failed to query records", err)
	}

	var records []model.Record
	var legacy []sql.NullString
	for rows.Next() {
		rec, legacyID, err := scanRecord(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		records = append(records, *rec)
		legacy = append(legacy, legacyID)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	_ = rows.Close()

	links, err := s.invoiceLinksTx(ctx, q,
		`JOIN rapprochements r ON r.id = rf.rapprochement_id `+where, args...)
	if err != nil {
		return nil, err
	}
	for i := range records {
		records[i].InvoiceIDs = normalizeInvoiceIDs(links[records[i].ID], legacy[i])
	}
	return records, nil
}

// UpdateRecord persists a record's link state. When expectedVersion is non-zero the
// write only succeeds if the stored version still matches; the version is then bumped.
func (s *SQLiteStorage) UpdateRecord(ctx context.Context, record *model.Record, expectedVersion int) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRecord(record); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.updateRecordTx(ctx, tx, record, expectedVersion)
	})
}

func (s *SQLiteStorage) updateRecordTx(ctx context.Context, q queryable, record *model.Record, expectedVersion int) error {
	now := time.Now().UTC()
	result, err := q.ExecContext(ctx, `
		UPDATE rapprochements SET
			status = ?,
			facture_id = NULL,
			abonnement_id = ?,
			declaration_charge_id = ?,
			notes = ?,
			version = version + 1,
			updated_at = ?
		WHERE id = ? AND (? = 0 OR version = ?)
	`,
		string(record.Status),
		nullStringPtr(record.SubscriptionID),
		nullStringPtr(record.DeclarationID),
		nullString(record.Notes),
		now,
		record.ID,
		expectedVersion, expectedVersion,
	)
	if err != nil {
		return wrapDBError(fmt.Sprintf("failed to update record %s", record.ID), err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		var current int
		err := q.QueryRowContext(ctx, `SELECT version FROM rapprochements WHERE id = ?`, record.ID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("record %s: %w", record.ID, common.ErrNotFound)
		}
		if err != nil {
			return wrapDBError("failed to read record version", err)
		}
		return fmt.Errorf("%w: record %s is at version %d, expected %d", ErrStaleVersion, record.ID, current, expectedVersion)
	}

	if err := s.replaceInvoiceLinksTx(ctx, q, record.ID, record.InvoiceIDs); err != nil {
		return err
	}

	if err := q.QueryRowContext(ctx, `SELECT version FROM rapprochements WHERE id = ?`, record.ID).Scan(&record.Version); err != nil {
		return wrapDBError("failed to read record version", err)
	}
	record.UpdatedAt = now

	facturesJSON, err := json.Marshal(record.InvoiceIDs)
	if err != nil {
		return fmt.Errorf("failed to encode invoice links: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO rapprochement_history (
			rapprochement_id, status, factures, abonnement_id, declaration_charge_id, notes, version
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		record.ID,
		string(record.Status),
		string(facturesJSON),
		nullStringPtr(record.SubscriptionID),
		nullStringPtr(record.DeclarationID),
		nullString(record.Notes),
		record.Version,
	)
	if err != nil {
		return wrapDBError("failed to save record history", err)
	}
	return nil
}

// DeleteRecordsByStatementFile removes every record of a statement file with its invoice links.
func (s *SQLiteStorage) DeleteRecordsByStatementFile(ctx context.Context, statementFileID string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.deleteRecordsByStatementFileTx(ctx, tx, statementFileID)
	})
}

func (s *SQLiteStorage) deleteRecordsByStatementFileTx(ctx context.Context, q queryable, statementFileID string) error {
	queries := []string{
		`DELETE FROM rapprochement_factures WHERE rapprochement_id IN (
			SELECT id FROM rapprochements WHERE statement_file_id = ?)`,
		`DELETE FROM rapprochement_history WHERE rapprochement_id IN (
			SELECT id FROM rapprochements WHERE statement_file_id = ?)`,
		`DELETE FROM rapprochements WHERE statement_file_id = ?`,
	}
	for _, query := range queries {
		if _, err := q.ExecContext(ctx, query, statementFileID); err != nil {
			return wrapDBError("failed to delete records", err)
		}
	}
	return nil
}

// GetDocumentOwner returns the ID of the record linking the document, or ErrNotFound.
func (s *SQLiteStorage) GetDocumentOwner(ctx context.Context, ref model.DocumentRef) (string, error) {
	if err := validateContext(ctx); err != nil {
		return "", err
	}
	if err := validateRef(ref); err != nil {
		return "", err
	}
	return s.getDocumentOwnerTx(ctx, s.db, ref)
}

func (s *SQLiteStorage) getDocumentOwnerTx(ctx context.Context, q queryable, ref model.DocumentRef) (string, error) {
	var queries []string
	switch ref.Kind {
	case model.KindInvoice:
		queries = []string{
			`SELECT rapprochement_id FROM rapprochement_factures WHERE facture_id = ?`,
			// Legacy single link, only meaningful while the record has no join rows.
			`SELECT r.id FROM rapprochements r WHERE r.facture_id = ? AND NOT EXISTS (
				SELECT 1 FROM rapprochement_factures rf WHERE rf.rapprochement_id = r.id) LIMIT 1`,
		}
	case model.KindSubscription:
		queries = []string{`SELECT id FROM rapprochements WHERE abonnement_id = ?`}
	case model.KindDeclaration:
		queries = []string{`SELECT id FROM rapprochements WHERE declaration_charge_id = ?`}
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, ref.Kind)
	}

	for _, query := range queries {
		var owner string
		err := q.QueryRowContext(ctx, query, ref.ID).Scan(&owner)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return "", wrapDBError("failed to look up document owner", err)
		}
		return owner, nil
	}
	return "", fmt.Errorf("owner of %s: %w", ref, common.ErrNotFound)
}

// GetReconciliationLines returns bank lines in the date range with their record status.
func (s *SQLiteStorage) GetReconciliationLines(ctx context.Context, start, end time.Time) ([]service.ReconciliationLine, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end date %v is before start date %v", ErrInvalidDateRange, end, start)
	}
	return s.getReconciliationLinesTx(ctx, s.db, start, end)
}

func (s *SQLiteStorage) getReconciliationLinesTx(ctx context.Context, q queryable, start, end time.Time) ([]service.ReconciliationLine, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+transactionColumns+`, r.id, r.status,
			(SELECT COUNT(*) FROM rapprochement_factures rf WHERE rf.rapprochement_id = r.id)
			+ CASE WHEN r.facture_id IS NOT NULL AND NOT EXISTS (
				SELECT 1 FROM rapprochement_factures rf WHERE rf.rapprochement_id = r.id) THEN 1 ELSE 0 END
			+ CASE WHEN r.abonnement_id IS NOT NULL THEN 1 ELSE 0 END
			+ CASE WHEN r.declaration_charge_id IS NOT NULL THEN 1 ELSE 0 END
		FROM transactions t
		JOIN rapprochements r ON r.transaction_id = t.id
		WHERE t.transaction_date >= ? AND t.transaction_date <= ?
		ORDER BY t.transaction_date, t.position
	`, start.UTC(), end.UTC())
	if err != nil {
		return nil, wrapDBError("failed to query reconciliation lines", err)
	}
	defer func() { _ = rows.Close() }()

	var lines []service.ReconciliationLine
	for rows.Next() {
		var line service.ReconciliationLine
		var lineNumber sql.NullString
		var status string
		err := rows.Scan(
			&line.Transaction.ID,
			&line.Transaction.StatementFileID,
			&lineNumber,
			&line.Transaction.Date,
			&line.Transaction.Label,
			&line.Transaction.Credit,
			&line.Transaction.Debit,
			&line.Transaction.Amount,
			&line.RecordID,
			&status,
			&line.Linked,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation line: %w", err)
		}
		line.Transaction.LineNumber = lineNumber.String
		line.Status = model.ReconciliationStatus(status)
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (s *SQLiteStorage) replaceInvoiceLinksTx(ctx context.Context, q queryable, recordID string, invoiceIDs []string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM rapprochement_factures WHERE rapprochement_id = ?`, recordID); err != nil {
		return wrapDBError("failed to clear invoice links", err)
	}
	for _, invoiceID := range model.NormalizeIDs(invoiceIDs) {
		_, err := q.ExecContext(ctx, `
			INSERT INTO rapprochement_factures (rapprochement_id, facture_id) VALUES (?, ?)
		`, recordID, invoiceID)
		if err != nil {
			return wrapDBError(fmt.Sprintf("failed to link invoice %s", invoiceID), err)
		}
	}
	return nil
}

// invoiceLinksTx loads join-table rows keyed by record ID. clause filters rf (and r when joined).
func (s *SQLiteStorage) invoiceLinksTx(ctx context.Context, q queryable, clause string, args ...any) (map[string][]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT rf.rapprochement_id, rf.facture_id FROM rapprochement_factures rf `+clause, args...)
	if err != nil {
		return nil, wrapDBError("failed to query invoice links", err)
	}
	defer func() { _ = rows.Close() }()

	links := make(map[string][]string)
	for rows.Next() {
		var recordID, invoiceID string
		if err := rows.Scan(&recordID, &invoiceID); err != nil {
			return nil, fmt.Errorf("failed to scan invoice link: %w", err)
		}
		links[recordID] = append(links[recordID], invoiceID)
	}
	return links, rows.Err()
}

// normalizeInvoiceIDs merges the join table and the legacy single column into one set.
// The join table wins whenever it has rows.
func normalizeInvoiceIDs(joined []string, legacy sql.NullString) []string {
	if len(joined) > 0 {
		return model.NormalizeIDs(joined)
	}
	if legacy.Valid && legacy.String != "" {
		return []string{legacy.String}
	}
	return []string{}
}

func scanRecord(row rowScanner) (*model.Record, sql.NullString, error) {
	var rec model.Record
	var status string
	var legacy, subscription, declaration, notes, proposedStatus, proposedInvoice sql.NullString
	var updatedAt sql.NullTime

	err := row.Scan(
		&rec.ID,
		&rec.TransactionID,
		&rec.StatementFileID,
		&status,
		&legacy,
		&subscription,
		&declaration,
		&notes,
		&proposedStatus,
		&proposedInvoice,
		&rec.Version,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, legacy, err
		}
		return nil, legacy, fmt.Errorf("failed to scan record: %w", err)
	}

	rec.Status = model.ReconciliationStatus(status)
	rec.SubscriptionID = stringPtr(subscription)
	rec.DeclarationID = stringPtr(declaration)
	rec.Notes = notes.String
	rec.ProposedStatus = model.ReconciliationStatus(proposedStatus.String)
	rec.ProposedInvoiceID = stringPtr(proposedInvoice)
	if updatedAt.Valid {
		rec.UpdatedAt = updatedAt.Time
	}
	return &rec, legacy, nil
}
