package report

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type exportCall struct {
	err    error
	format string
}

type recordingExportObserver struct {
	calls []exportCall
}

func (o *recordingExportObserver) ObserveExport(format string, err error, _ time.Duration) {
	o.calls = append(o.calls, exportCall{format: format, err: err})
}

type fixedTable Table

func (f fixedTable) Table() Table { return Table(f) }

func sampleTable() Table {
	return Table{
		Title:   "Monthly VAT",
		Caption: "Year 2024, cash basis",
		Headers: []string{"Month", "Collected", "Count"},
		Rows: [][]any{
			{"January", decimal.RequireFromString("1234.5"), 3},
			{"February", decimal.Zero, 0},
		},
		Footer: []any{"Total", decimal.RequireFromString("1234.5"), 3},
	}
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, sampleTable()))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	sheet := "Monthly VAT"
	raw := excelize.Options{RawCellValue: true}

	title, err := f.GetCellValue(sheet, "A1")
	require.NoError(t, err)
	assert.Equal(t, "Monthly VAT", title)

	header, err := f.GetCellValue(sheet, "B4")
	require.NoError(t, err)
	assert.Equal(t, "Collected", header)

	collected, err := f.GetCellValue(sheet, "B5", raw)
	require.NoError(t, err)
	assert.Equal(t, "1234.5", collected)

	total, err := f.GetCellValue(sheet, "A7")
	require.NoError(t, err)
	assert.Equal(t, "Total", total)
}

func TestWritePDF(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePDF(&buf, sampleTable()))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF")))
}

func TestExporter_WriteFile(t *testing.T) {
	observer := &recordingExportObserver{}
	exporter := NewExporter(observer)
	dir := t.TempDir()

	for _, name := range []string{"vat.xlsx", "vat.PDF"} {
		path := filepath.Join(dir, name)
		require.NoError(t, exporter.WriteFile(path, fixedTable(sampleTable())))
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}

	err := exporter.WriteFile(filepath.Join(dir, "vat.csv"), fixedTable(sampleTable()))
	assert.ErrorIs(t, err, ErrUnknownFormat)

	assert.Equal(t, []exportCall{{format: FormatXLSX}, {format: FormatPDF}}, observer.calls)
}

func TestSheetName(t *testing.T) {
	assert.Equal(t, "Report", sheetName(""))
	assert.Len(t, sheetName("A very long report title that Excel would reject"), 31)
}
