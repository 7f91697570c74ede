package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 4

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS statement_files (
					id TEXT PRIMARY KEY,
					file_name TEXT NOT NULL,
					hash TEXT UNIQUE NOT NULL,
					blob BLOB NOT NULL,
					imported_at DATETIME NOT NULL,
					validated_at DATETIME
				)`,

				`CREATE TABLE IF NOT EXISTS transactions (
					id TEXT PRIMARY KEY,
					statement_file_id TEXT NOT NULL,
					position INTEGER NOT NULL DEFAULT 0,
					numero_ligne TEXT,
					transaction_date DATETIME NOT NULL,
					transaction_libelle TEXT NOT NULL,
					transaction_credit TEXT NOT NULL DEFAULT '0',
					transaction_debit TEXT NOT NULL DEFAULT '0',
					transaction_montant TEXT NOT NULL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					FOREIGN KEY (statement_file_id) REFERENCES statement_files(id)
				)`,
				`CREATE INDEX idx_transactions_date ON transactions(transaction_date)`,
				`CREATE INDEX idx_transactions_file ON transactions(statement_file_id)`,
				`CREATE UNIQUE INDEX idx_transactions_numero_ligne ON transactions(numero_ligne) WHERE numero_ligne IS NOT NULL`,

				`CREATE TABLE IF NOT EXISTS factures (
					id TEXT PRIMARY KEY,
					numero_facture TEXT NOT NULL,
					type_facture TEXT NOT NULL CHECK (type_facture IN ('vente', 'achat')),
					libelle TEXT,
					total_ht TEXT NOT NULL DEFAULT '0',
					tva TEXT NOT NULL DEFAULT '0',
					total_ttc TEXT NOT NULL,
					statut TEXT,
					date_emission DATETIME,
					date_echeance DATETIME,
					numero_rapprochement TEXT,
					date_rapprochement DATETIME
				)`,
				`CREATE INDEX idx_factures_rapprochement ON factures(numero_rapprochement)`,

				`CREATE TABLE IF NOT EXISTS abonnements (
					id TEXT PRIMARY KEY,
					numero TEXT NOT NULL,
					libelle TEXT,
					montant_ht TEXT NOT NULL DEFAULT '0',
					tva TEXT NOT NULL DEFAULT '0',
					montant_ttc TEXT NOT NULL,
					statut TEXT,
					date_emission DATETIME,
					date_echeance DATETIME,
					numero_rapprochement TEXT,
					date_rapprochement DATETIME
				)`,

				`CREATE TABLE IF NOT EXISTS declarations_charges (
					id TEXT PRIMARY KEY,
					numero TEXT NOT NULL,
					libelle TEXT,
					montant_ht TEXT NOT NULL DEFAULT '0',
					tva TEXT NOT NULL DEFAULT '0',
					montant_ttc TEXT NOT NULL,
					statut TEXT,
					date_emission DATETIME,
					date_echeance DATETIME,
					numero_rapprochement TEXT,
					date_rapprochement DATETIME
				)`,

				`CREATE TABLE IF NOT EXISTS rapprochements (
					id TEXT PRIMARY KEY,
					transaction_id TEXT UNIQUE NOT NULL,
					statement_file_id TEXT NOT NULL,
					status TEXT NOT NULL CHECK (status IN ('matched', 'uncertain', 'unmatched')),
					facture_id TEXT,
					abonnement_id TEXT,
					declaration_charge_id TEXT,
					notes TEXT,
					proposed_status TEXT,
					proposed_facture_id TEXT,
					version INTEGER NOT NULL DEFAULT 1,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					FOREIGN KEY (transaction_id) REFERENCES transactions(id),
					FOREIGN KEY (statement_file_id) REFERENCES statement_files(id),
					FOREIGN KEY (abonnement_id) REFERENCES abonnements(id),
					FOREIGN KEY (declaration_charge_id) REFERENCES declarations_charges(id)
				)`,
				`CREATE INDEX idx_rapprochements_file ON rapprochements(statement_file_id)`,
				`CREATE INDEX idx_rapprochements_status ON rapprochements(status)`,
				`CREATE UNIQUE INDEX idx_rapprochements_abonnement ON rapprochements(abonnement_id) WHERE abonnement_id IS NOT NULL`,
				`CREATE UNIQUE INDEX idx_rapprochements_declaration ON rapprochements(declaration_charge_id) WHERE declaration_charge_id IS NOT NULL`,

				`CREATE TABLE IF NOT EXISTS rapprochement_factures (
					rapprochement_id TEXT NOT NULL,
					facture_id TEXT NOT NULL UNIQUE,
					PRIMARY KEY (rapprochement_id, facture_id),
					FOREIGN KEY (rapprochement_id) REFERENCES rapprochements(id) ON DELETE CASCADE,
					FOREIGN KEY (facture_id) REFERENCES factures(id)
				)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Add reconciliation history for auditing",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS rapprochement_history (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					rapprochement_id TEXT NOT NULL,
					status TEXT NOT NULL,
					factures TEXT,
					abonnement_id TEXT,
					declaration_charge_id TEXT,
					notes TEXT,
					version INTEGER NOT NULL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_rapprochement_history_id ON rapprochement_history(rapprochement_id)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query '%s': %w", query, err)
				}
			}
			return nil
		},
	},
	{
		Version:     3,
		Description: "Add checkpoint metadata table",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS checkpoint_metadata (
					id TEXT PRIMARY KEY,
					created_at DATETIME NOT NULL,
					description TEXT,
					file_size INTEGER,
					row_counts TEXT,
					schema_version INTEGER,
					is_auto BOOLEAN DEFAULT 0
				)
			`)
			return err
		},
	},
	{
		Version:     4,
		Description: "Move legacy invoice links into the join table and settle them",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`INSERT OR IGNORE INTO rapprochement_factures (rapprochement_id, facture_id)
				SELECT r.id, r.facture_id FROM rapprochements r
				WHERE r.facture_id IS NOT NULL AND r.facture_id != ''
					AND EXISTS (SELECT 1 FROM factures f WHERE f.id = r.facture_id)
					AND NOT EXISTS (SELECT 1 FROM rapprochement_factures rf WHERE rf.rapprochement_id = r.id)`,
				`UPDATE factures SET
					numero_rapprochement = (
						SELECT COALESCE(NULLIF(t.numero_ligne, ''), t.id)
						FROM rapprochement_factures rf
						JOIN rapprochements r ON r.id = rf.rapprochement_id
						JOIN transactions t ON t.id = r.transaction_id
						WHERE rf.facture_id = factures.id),
					date_rapprochement = (
						SELECT t.transaction_date
						FROM rapprochement_factures rf
						JOIN rapprochements r ON r.id = rf.rapprochement_id
						JOIN transactions t ON t.id = r.transaction_id
						WHERE rf.facture_id = factures.id)
				WHERE (numero_rapprochement IS NULL OR numero_rapprochement = '')
					AND id IN (SELECT facture_id FROM rapprochement_factures)`,
				`UPDATE rapprochements SET facture_id = NULL WHERE facture_id IS NOT NULL`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query '%s': %w", query, err)
				}
			}
			return nil
		},
	},
}

// Migrate runs all pending migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	version, err := s.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if version != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, version)
	}

	return nil
}

// SchemaVersion returns the schema version recorded in the database.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}
