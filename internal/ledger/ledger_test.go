package ledger

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/settle/internal/model"
	"github.com/Veraticus/settle/internal/testutil"
)

const ledgerYAML = `
factures:
  - id: F1
    numero_facture: FAC-2024-001
    type_facture: vente
    libelle: Prestation mars
    total_ht: 1000
    tva: "200.00"
    total_ttc: 1200.00
    date_emission: 2024-03-01
    date_echeance: 31/03/2024
  - id: F2
    numero_facture: ACH-17
    type_facture: achat
    total_ttc: 59.90
abonnements:
  - id: A1
    numero: OVH-03
    montant_ttc: 29.99
declarations_charges:
  - id: D1
    numero: URSSAF-T1
    montant_ttc: 812.00
    tva: ~
`

const ledgerJSON = `{
  "factures": [
    {"id": "F9", "numero_facture": "FAC-9", "type_facture": "vente", "total_ttc": 0.1, "date_echeance": "2024-04-30"}
  ]
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestParse_YAML(t *testing.T) {
	f, err := Parse(strings.NewReader(ledgerYAML))
	require.NoError(t, err)

	docs := f.Documents()
	require.Len(t, docs, 4)

	invoice := docs[0]
	assert.Equal(t, model.DocumentRef{Kind: model.KindInvoice, ID: "F1"}, invoice.Ref)
	assert.Equal(t, model.InvoiceTypeSale, invoice.InvoiceType)
	assert.True(t, invoice.AmountDue.Equal(decimal.RequireFromString("1200")))
	assert.True(t, invoice.VATAmount.Equal(decimal.RequireFromString("200")))
	assert.Equal(t, time.Date(2024, time.March, 31, 0, 0, 0, 0, time.UTC), invoice.DueDate)
	assert.Nil(t, invoice.Settlement)

	assert.Equal(t, model.KindSubscription, docs[2].Ref.Kind)
	assert.Equal(t, model.KindDeclaration, docs[3].Ref.Kind)
	assert.True(t, docs[3].VATAmount.IsZero())
}

func TestParse_JSONKeepsExactAmounts(t *testing.T) {
	f, err := Parse(strings.NewReader(ledgerJSON))
	require.NoError(t, err)

	docs := f.Documents()
	require.Len(t, docs, 1)
	assert.Equal(t, "0.1", docs[0].AmountDue.String())
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "unknown field", input: "factures:\n  - id: F1\n    montant: 12\n"},
		{name: "bad amount", input: "abonnements:\n  - id: A1\n    montant_ttc: douze\n"},
		{name: "bad date", input: "abonnements:\n  - id: A1\n    date_echeance: soon\n"},
		{name: "not a mapping", input: "- F1\n- F2\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.input))
			assert.ErrorIs(t, err, ErrInvalidLedger)
		})
	}
}

func TestLoad_UpsertKeepsSettlement(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	loader := NewLoader(db.Storage)

	result, err := loader.Load(ctx, writeFile(t, "ledger.yaml", ledgerYAML))
	require.NoError(t, err)
	assert.Equal(t, 2, result[model.KindInvoice])
	assert.Equal(t, 4, result.Total())

	ref := model.DocumentRef{Kind: model.KindInvoice, ID: "F1"}
	settledOn := time.Date(2024, time.March, 20, 0, 0, 0, 0, time.UTC)
	require.NoError(t, db.Storage.SettleDocument(ctx, ref, model.Settlement{Reference: "L001", Date: settledOn}))

	updated := strings.Replace(ledgerYAML, "total_ttc: 1200.00", "total_ttc: 1260.00", 1)
	_, err = loader.Load(ctx, writeFile(t, "ledger.yml", updated))
	require.NoError(t, err)

	doc := db.MustDocument(model.KindInvoice, "F1")
	assert.True(t, doc.AmountDue.Equal(decimal.RequireFromString("1260")))
	assert.True(t, doc.SettledBy("L001"), "reloading must not clear the settlement")
}

func TestLoad_JSONFile(t *testing.T) {
	db := testutil.SetupTestDB(t)

	result, err := NewLoader(db.Storage).Load(context.Background(), writeFile(t, "ledger.json", ledgerJSON))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Total())
	assert.Equal(t, "FAC-9", db.MustDocument(model.KindInvoice, "F9").Number)
}

func TestLoad_InvalidDocumentRejectsWholeFile(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	input := ledgerYAML + "\n" + `  - id: D2
    montant_ttc: 10
`
	_, err := NewLoader(db.Storage).Load(ctx, writeFile(t, "ledger.yaml", input))
	require.Error(t, err, "D2 has no number")

	_, err = db.Storage.GetDocument(ctx, model.DocumentRef{Kind: model.KindInvoice, ID: "F1"})
	assert.Error(t, err)
}

func TestLoad_EmptyFile(t *testing.T) {
	db := testutil.SetupTestDB(t)

	result, err := NewLoader(db.Storage).Load(context.Background(), writeFile(t, "empty.yaml", ""))
	require.NoError(t, err)
	assert.Zero(t, result.Total())
}

func TestLoad_MissingFile(t *testing.T) {
	db := testutil.SetupTestDB(t)

	_, err := NewLoader(db.Storage).Load(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
