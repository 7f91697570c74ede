// Package ledger loads the accounting documents that bank transactions settle:
// invoices, subscription charges and social-contribution declarations.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/Veraticus/settle/internal/model"
	"github.com/Veraticus/settle/internal/service"
)

// ErrInvalidLedger is returned when a ledger file cannot be decoded.
var ErrInvalidLedger = errors.New("invalid ledger file")

// File is the on-disk layout. JSON files decode through the same YAML decoder.
type File struct {
	Invoices      []invoiceEntry `yaml:"factures"`
	Subscriptions []chargeEntry  `yaml:"abonnements"`
	Declarations  []chargeEntry  `yaml:"declarations_charges"`
}

type invoiceEntry struct {
	IssueDate date              `yaml:"date_emission"`
	DueDate   date              `yaml:"date_echeance"`
	ID        string            `yaml:"id"`
	Number    string            `yaml:"numero_facture"`
	Type      model.InvoiceType `yaml:"type_facture"`
	Label     string            `yaml:"libelle"`
	Status    string            `yaml:"statut"`
	ExclTax   amount            `yaml:"total_ht"`
	VAT       amount            `yaml:"tva"`
	InclTax   amount            `yaml:"total_ttc"`
}

type chargeEntry struct {
	IssueDate date   `yaml:"date_emission"`
	DueDate   date   `yaml:"date_echeance"`
	ID        string `yaml:"id"`
	Number    string `yaml:"numero"`
	Label     string `yaml:"libelle"`
	Status    string `yaml:"statut"`
	ExclTax   amount `yaml:"montant_ht"`
	VAT       amount `yaml:"tva"`
	InclTax   amount `yaml:"montant_ttc"`
}

// amount decodes quoted or bare numbers without going through float64.
type amount struct{ decimal.Decimal }

func (a *amount) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: amount must be a scalar", node.Line)
	}
	if node.Tag == "!!null" {
		return nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(node.Value))
	if err != nil {
		return fmt.Errorf("line %d: invalid amount %q: %w", node.Line, node.Value, err)
	}
	a.Decimal = d
	return nil
}

var dateLayouts = []string{"2006-01-02", time.RFC3339, "02/01/2006"}

type date struct{ time.Time }

func (d *date) UnmarshalYAML(node *yaml.Node) error {
	value := strings.TrimSpace(node.Value)
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: date must be a scalar", node.Line)
	}
	if value == "" || node.Tag == "!!null" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			d.Time = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("line %d: unrecognized date %q", node.Line, node.Value)
}

// Documents flattens the file into model documents, invoices first.
func (f *File) Documents() []model.Document {
	docs := make([]model.Document, 0, len(f.Invoices)+len(f.Subscriptions)+len(f.Declarations))
	for _, e := range f.Invoices {
		docs = append(docs, model.Document{
			Ref:           model.DocumentRef{Kind: model.KindInvoice, ID: strings.TrimSpace(e.ID)},
			Number:        e.Number,
			InvoiceType:   e.Type,
			Label:         e.Label,
			Status:        e.Status,
			AmountExclTax: e.ExclTax.Decimal,
			VATAmount:     e.VAT.Decimal,
			AmountDue:     e.InclTax.Decimal,
			IssueDate:     e.IssueDate.Time,
			DueDate:       e.DueDate.Time,
		})
	}
	docs = appendCharges(docs, model.KindSubscription, f.Subscriptions)
	return appendCharges(docs, model.KindDeclaration, f.Declarations)
}

func appendCharges(docs []model.Document, kind model.DocumentKind, entries []chargeEntry) []model.Document {
	for _, e := range entries {
		docs = append(docs, model.Document{
			Ref:           model.DocumentRef{Kind: kind, ID: strings.TrimSpace(e.ID)},
			Number:        e.Number,
			Label:         e.Label,
			Status:        e.Status,
			AmountExclTax: e.ExclTax.Decimal,
			VATAmount:     e.VAT.Decimal,
			AmountDue:     e.InclTax.Decimal,
			IssueDate:     e.IssueDate.Time,
			DueDate:       e.DueDate.Time,
		})
	}
	return docs
}

// Parse decodes a ledger file from r.
func Parse(r io.Reader) (*File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &f, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidLedger, err)
	}
	return &f, nil
}

// Result counts the documents upserted per kind.
type Result map[model.DocumentKind]int

// Total returns the number of documents upserted.
func (r Result) Total() int {
	n := 0
	for _, c := range r {
		n += c
	}
	return n
}

// Loader upserts ledger files into the store.
type Loader struct {
	store service.Storage
}

// NewLoader creates a Loader.
func NewLoader(store service.Storage) *Loader {
	return &Loader{store: store}
}

// Load reads a JSON or YAML ledger file and upserts every document in one transaction.
// Settlement state of existing documents is left untouched.
func (l *Loader) Load(ctx context.Context, path string) (Result, error) {
	// #nosec G304 - path is supplied by the operator
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger file: %w", err)
	}
	defer func() { _ = fh.Close() }()

	f, err := Parse(fh)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return l.Save(ctx, f.Documents())
}

// Save upserts documents. An empty slice is a no-op.
func (l *Loader) Save(ctx context.Context, docs []model.Document) (Result, error) {
	result := Result{}
	if len(docs) == 0 {
		slog.Warn("Ledger file contains no documents")
		return result, nil
	}
	if err := l.store.SaveDocuments(ctx, docs); err != nil {
		return nil, fmt.Errorf("failed to save documents: %w", err)
	}
	for _, doc := range docs {
		result[doc.Ref.Kind]++
	}

	slog.Info("Loaded ledger documents",
		"invoices", result[model.KindInvoice],
		"subscriptions", result[model.KindSubscription],
		"declarations", result[model.KindDeclaration])
	return result, nil
}
