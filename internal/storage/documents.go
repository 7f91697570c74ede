package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/settle/internal/common"
	"github.com/Veraticus/settle/internal/model"
	"github.com/Veraticus/settle/internal/service"
)

// documentTable maps a document kind onto its table. Every kind shares the
// settlement columns so settle/unsettle is written once.
type documentTable struct {
	name     string
	number   string
	kindType string // empty when the table has no type column
	exclTax  string
	inclTax  string
}

var documentTables = map[model.DocumentKind]documentTable{
	model.KindInvoice: {
		name:     "factures",
		number:   "numero_facture",
		kindType: "type_facture",
		exclTax:  "total_ht",
		inclTax:  "total_ttc",
	},
	model.KindSubscription: {
		name:    "abonnements",
		number:  "numero",
		exclTax: "montant_ht",
		inclTax: "montant_ttc",
	},
	model.KindDeclaration: {
		name:    "declarations_charges",
		number:  "numero",
		exclTax: "montant_ht",
		inclTax: "montant_ttc",
	},
}

func tableFor(kind model.DocumentKind) (documentTable, error) {
	t, ok := documentTables[kind]
	if !ok {
		return documentTable{}, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	return t, nil
}

func (t documentTable) typeExpr() string {
	if t.kindType == "" {
		return "''"
	}
	return t.kindType
}

func (t documentTable) selectColumns() string {
	return fmt.Sprintf(`id, %s, %s, libelle, %s, tva, %s, statut,
		date_emission, date_echeance, numero_rapprochement, date_rapprochement`,
		t.number, t.typeExpr(), t.exclTax, t.inclTax)
}

// SaveDocuments inserts or updates documents. Settlement columns are never touched here.
func (s *SQLiteStorage) SaveDocuments(ctx context.Context, documents []model.Document) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateDocuments(documents); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.saveDocumentsTx(ctx, tx, documents)
	})
}

func (s *SQLiteStorage) saveDocumentsTx(ctx context.Context, q queryable, documents []model.Document) error {
	for _, doc := range documents {
		t, err := tableFor(doc.Ref.Kind)
		if err != nil {
			return err
		}

		columns := fmt.Sprintf("id, %s, libelle, %s, tva, %s, statut, date_emission, date_echeance",
			t.number, t.exclTax, t.inclTax)
		values := "?, ?, ?, ?, ?, ?, ?, ?, ?"
		updates := fmt.Sprintf(`%[1]s = excluded.%[1]s, libelle = excluded.libelle,
			%[2]s = excluded.%[2]s, tva = excluded.tva, %[3]s = excluded.%[3]s,
			statut = excluded.statut, date_emission = excluded.date_emission,
			date_echeance = excluded.date_echeance`, t.number, t.exclTax, t.inclTax)
		args := []any{
			doc.Ref.ID, doc.Number, doc.Label, doc.AmountExclTax, doc.VATAmount, doc.AmountDue,
			doc.Status, nullTime(doc.IssueDate), nullTime(doc.DueDate),
		}
		if t.kindType != "" {
			columns += ", " + t.kindType
			values += ", ?"
			updates += fmt.Sprintf(", %[1]s = excluded.%[1]s", t.kindType)
			args = append(args, string(doc.InvoiceType))
		}

		// #nosec G201 - identifiers come from the documentTables registry
		query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(id) DO UPDATE SET %s`,
			t.name, columns, values, updates)
		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			return wrapDBError(fmt.Sprintf("failed to save %s", doc.Ref), err)
		}
	}
	return nil
}

// GetDocument retrieves one document of any kind.
func (s *SQLiteStorage) GetDocument(ctx context.Context, ref model.DocumentRef) (*model.Document, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateRef(ref); err != nil {
		return nil, err
	}
	return s.getDocumentTx(ctx, s.db, ref)
}

func (s *SQLiteStorage) getDocumentTx(ctx context.Context, q queryable, ref model.DocumentRef) (*model.Document, error) {
	t, err := tableFor(ref.Kind)
	if err != nil {
		return nil, err
	}

	// #nosec G201 - identifiers come from the documentTables registry
	row := q.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, t.selectColumns(), t.name), ref.ID)
	doc, err := scanDocument(row, ref.Kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", ref, common.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// GetDocuments lists documents of one kind matching the filter.
func (s *SQLiteStorage) GetDocuments(ctx context.Context, filter service.DocumentFilter) ([]model.Document, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getDocumentsTx(ctx, s.db, filter)
}

func (s *SQLiteStorage) getDocumentsTx(ctx context.Context, q queryable, filter service.DocumentFilter) ([]model.Document, error) {
	kind := filter.Kind
	if kind == "" {
		kind = model.KindInvoice
	}
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	// #nosec G201 - identifiers come from the documentTables registry
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE 1=1`, t.selectColumns(), t.name)
	var args []any

	if filter.UnsettledOnly {
		query += " AND (numero_rapprochement IS NULL OR numero_rapprochement = '')"
	}
	if filter.SettledOnly {
		query += " AND numero_rapprochement IS NOT NULL AND numero_rapprochement != ''"
	}
	if filter.InvoiceType != "" && t.kindType != "" {
		query += fmt.Sprintf(" AND %s = ?", t.kindType)
		args = append(args, string(filter.InvoiceType))
	}
	if filter.SettledFrom != nil {
		query += " AND date_rapprochement >= ?"
		args = append(args, filter.SettledFrom.UTC())
	}
	if filter.SettledTo != nil {
		query += " AND date_rapprochement <= ?"
		args = append(args, filter.SettledTo.UTC())
	}
	query += fmt.Sprintf(" ORDER BY date_echeance, %s", t.number)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("failed to query %s", t.name), err)
	}
	defer func() { _ = rows.Close() }()

	var docs []model.Document
	for rows.Next() {
		doc, err := scanDocument(rows, kind)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// SettleDocument records the transaction reference that paid a document.
func (s *SQLiteStorage) SettleDocument(ctx context.Context, ref model.DocumentRef, settlement model.Settlement) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRef(ref); err != nil {
		return err
	}
	if err := validateString(settlement.Reference, "settlement.Reference"); err != nil {
		return err
	}
	return s.settleDocumentTx(ctx, s.db, ref, &settlement)
}

// UnsettleDocument clears a document's settlement reference and date.
func (s *SQLiteStorage) UnsettleDocument(ctx context.Context, ref model.DocumentRef) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRef(ref); err != nil {
		return err
	}
	return s.settleDocumentTx(ctx, s.db, ref, nil)
}

// settleDocumentTx sets (settlement != nil) or clears the settlement columns of any document kind.
func (s *SQLiteStorage) settleDocumentTx(ctx context.Context, q queryable, ref model.DocumentRef, settlement *model.Settlement) error {
	t, err := tableFor(ref.Kind)
	if err != nil {
		return err
	}

	var reference sql.NullString
	var date sql.NullTime
	if settlement != nil {
		reference = nullString(settlement.Reference)
		date = nullTime(settlement.Date)
	}

	// #nosec G201 - identifiers come from the documentTables registry
	result, err := q.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET numero_rapprochement = ?, date_rapprochement = ? WHERE id = ?`, t.name),
		reference, date, ref.ID)
	if err != nil {
		return wrapDBError(fmt.Sprintf("failed to update settlement of %s", ref), err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", ref, common.ErrNotFound)
	}
	return nil
}

func scanDocument(row rowScanner, kind model.DocumentKind) (*model.Document, error) {
	var doc model.Document
	var label, docType, status, reference sql.NullString
	var issued, due, settledAt sql.NullTime
	var exclTax, vat decimal.NullDecimal

	err := row.Scan(
		&doc.Ref.ID,
		&doc.Number,
		&docType,
		&label,
		&exclTax,
		&vat,
		&doc.AmountDue,
		&status,
		&issued,
		&due,
		&reference,
		&settledAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan document: %w", err)
	}

	doc.Ref.Kind = kind
	doc.Label = label.String
	doc.Status = status.String
	doc.InvoiceType = model.InvoiceType(docType.String)
	doc.AmountExclTax = exclTax.Decimal
	doc.VATAmount = vat.Decimal
	if issued.Valid {
		doc.IssueDate = issued.Time
	}
	if due.Valid {
		doc.DueDate = due.Time
	}
	if reference.Valid && reference.String != "" {
		doc.Settlement = &model.Settlement{Reference: reference.String}
		if settledAt.Valid {
			doc.Settlement.Date = settledAt.Time
		}
	}
	return &doc, nil
}
