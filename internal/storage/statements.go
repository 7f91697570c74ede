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
)

// CreateStatementFile stores a newly imported statement file.
func (s *SQLiteStorage) CreateStatementFile(ctx context.Context, file *model.StatementFile) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateStatementFile(file); err != nil {
		return err
	}
	return s.createStatementFileTx(ctx, s.db, file)
}

func (s *SQLiteStorage) createStatementFileTx(ctx context.Context, q queryable, file *model.StatementFile) error {
	if file.ImportedAt.IsZero() {
		file.ImportedAt = time.Now().UTC()
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO statement_files (id, file_name, hash, blob, imported_at, validated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, file.ID, file.FileName, file.Hash, file.Blob, file.ImportedAt, file.ValidatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: statement file %s", common.ErrDuplicateEntry, file.FileName)
		}
		return wrapDBError("failed to insert statement file", err)
	}
	return nil
}

// GetStatementFile retrieves a statement file by ID.
func (s *SQLiteStorage) GetStatementFile(ctx context.Context, id string) (*model.StatementFile, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getStatementFileTx(ctx, s.db, "id", id)
}

// GetStatementFileByHash retrieves a statement file by content hash.
func (s *SQLiteStorage) GetStatementFileByHash(ctx context.Context, hash string) (*model.StatementFile, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getStatementFileTx(ctx, s.db, "hash", hash)
}

func (s *SQLiteStorage) getStatementFileTx(ctx context.Context, q queryable, column, value string) (*model.StatementFile, error) {
	if column != "id" && column != "hash" {
		return nil, fmt.Errorf("unsupported lookup column %q", column)
	}

	var file model.StatementFile
	var validatedAt sql.NullTime
	// #nosec G201 - column is restricted above
	err := q.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, file_name, hash, blob, imported_at, validated_at
		FROM statement_files WHERE %s = ?
	`, column), value).Scan(&file.ID, &file.FileName, &file.Hash, &file.Blob, &file.ImportedAt, &validatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("statement file %s: %w", value, common.ErrNotFound)
	}
	if err != nil {
		return nil, wrapDBError("failed to get statement file", err)
	}
	if validatedAt.Valid {
		at := validatedAt.Time
		file.ValidatedAt = &at
	}
	return &file, nil
}

// ListStatementFiles returns all statement files, newest first, with per-status record counts.
func (s *SQLiteStorage) ListStatementFiles(ctx context.Context) ([]model.StatementFile, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.listStatementFilesTx(ctx, s.db)
}

func (s *SQLiteStorage) listStatementFilesTx(ctx context.Context, q queryable) ([]model.StatementFile, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT f.id, f.file_name, f.hash, f.imported_at, f.validated_at, r.status, COUNT(r.id)
		FROM statement_files f
		LEFT JOIN rapprochements r ON r.statement_file_id = f.id
		GROUP BY f.id, r.status
		ORDER BY f.imported_at DESC, f.id
	`)
	if err != nil {
		return nil, wrapDBError("failed to list statement files", err)
	}
	defer func() { _ = rows.Close() }()

	var files []model.StatementFile
	index := make(map[string]int)
	for rows.Next() {
		var f model.StatementFile
		var validatedAt sql.NullTime
		var status sql.NullString
		var count int
		if err := rows.Scan(&f.ID, &f.FileName, &f.Hash, &f.ImportedAt, &validatedAt, &status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan statement file: %w", err)
		}

		i, ok := index[f.ID]
		if !ok {
			if validatedAt.Valid {
				at := validatedAt.Time
				f.ValidatedAt = &at
			}
			f.RecordCounts = make(map[model.ReconciliationStatus]int)
			files = append(files, f)
			i = len(files) - 1
			index[f.ID] = i
		}
		if status.Valid {
			files[i].RecordCounts[model.ReconciliationStatus(status.String)] = count
		}
	}
	return files, rows.Err()
}

// MarkStatementFileValidated freezes a statement file.
func (s *SQLiteStorage) MarkStatementFileValidated(ctx context.Context, id string, at time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.markStatementFileValidatedTx(ctx, s.db, id, at)
}

func (s *SQLiteStorage) markStatementFileValidatedTx(ctx context.Context, q queryable, id string, at time.Time) error {
	result, err := q.ExecContext(ctx, `
		UPDATE statement_files SET validated_at = ? WHERE id = ? AND validated_at IS NULL
	`, at.UTC(), id)
	if err != nil {
		return wrapDBError("failed to validate statement file", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.getStatementFileTx(ctx, q, "id", id); getErr != nil {
			return getErr
		}
		// Already validated.
	}
	return nil
}

// DeleteStatementFile removes a statement file row. Its records and transactions must be gone.
func (s *SQLiteStorage) DeleteStatementFile(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.deleteStatementFileTx(ctx, s.db, id)
}

func (s *SQLiteStorage) deleteStatementFileTx(ctx context.Context, q queryable, id string) error {
	result, err := q.ExecContext(ctx, `DELETE FROM statement_files WHERE id = ?`, id)
	if err != nil {
		return wrapDBError("failed to delete statement file", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("statement file %s: %w", id, common.ErrNotFound)
	}
	return nil
}
