package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const commandLedger = `
factures:
  - id: F1
    numero_facture: FAC-2024-001
    type_facture: vente
    total_ht: 1000
    tva: 200
    total_ttc: 1200
    date_echeance: 2024-03-31
`

const commandStatement = `{"rapprochements": [
	{"transaction": {"date": "2024-03-05", "libelle": "VIR ACME", "montant": 1200.0, "numero_ligne": "L001"},
	 "facture": {"id": "F1"}, "status": "matched"},
	{"transaction": {"date": "2024-03-06", "libelle": "PRLV OVH", "montant": -29.99, "numero_ligne": "L002"},
	 "status": "unmatched"}
]}`

// runSettle executes the root command against dbPath and returns stdout.
func runSettle(t *testing.T, dbPath string, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetIn(bytes.NewReader(nil))
	rootCmd.SetArgs(append([]string{"--db", dbPath, "--log-level", "error"}, args...))
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetIn(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestCommandsEndToEnd(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	dbPath := filepath.Join(dir, "settle.db")
	ledgerPath := writeFile(t, dir, "factures.yaml", commandLedger)
	statementPath := writeFile(t, dir, "releve-03.json", commandStatement)

	out, err := runSettle(t, dbPath, "ledger", "load", ledgerPath)
	require.NoError(t, err)
	assert.Contains(t, out, "1 invoices")

	out, err = runSettle(t, dbPath, "statement", "import", statementPath, "--apply", "--quiet")
	require.NoError(t, err)
	assert.Contains(t, out, "Statement imported")
	assert.Contains(t, out, "Transactions:  2")

	out, err = runSettle(t, dbPath, "statement", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "releve-03.json")

	_, err = runSettle(t, dbPath, "statement", "import", statementPath, "--quiet")
	require.Error(t, err, "reimporting the same file is refused")

	xlsxPath := filepath.Join(dir, "tva.xlsx")
	out, err = runSettle(t, dbPath, "report", "vat", "--year", "2024", "--xlsx", xlsxPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Monthly VAT")
	assert.Contains(t, out, "200,00")

	f, err := excelize.OpenFile(xlsxPath)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	assert.NotEmpty(t, f.GetSheetList())

	out, err = runSettle(t, dbPath, "migrate", "--status")
	require.NoError(t, err)
	assert.Contains(t, out, "Current version: 4")
}

func TestVersionCommand(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	out, err := runSettle(t, filepath.Join(t.TempDir(), "settle.db"), "version")
	require.NoError(t, err)
	assert.Equal(t, "settle dev\n", out)
}
