package report

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// Export formats.
const (
	FormatXLSX = "xlsx"
	FormatPDF  = "pdf"
)

// ErrUnknownFormat is returned for an export path whose extension is not .xlsx or .pdf.
var ErrUnknownFormat = errors.New("unknown export format")

// ExportObserver receives export telemetry.
type ExportObserver interface {
	ObserveExport(format string, err error, duration time.Duration)
}

// Tabular is implemented by every report.
type Tabular interface {
	Table() Table
}

// Exporter writes reports to disk.
type Exporter struct {
	observer ExportObserver
}

// NewExporter creates an Exporter. observer may be nil.
func NewExporter(observer ExportObserver) *Exporter {
	return &Exporter{observer: observer}
}

// FormatFor infers the export format from a file extension.
func FormatFor(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return FormatXLSX, nil
	case ".pdf":
		return FormatPDF, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownFormat, path)
}

// WriteFile renders the report into path, choosing the format from the extension.
func (e *Exporter) WriteFile(path string, report Tabular) (err error) {
	format, err := FormatFor(path)
	if err != nil {
		return err
	}

	start := time.Now()
	defer func() {
		if e.observer != nil {
			e.observer.ObserveExport(format, err, time.Since(start))
		}
	}()

	// #nosec G304 - path is supplied by the operator
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	table := report.Table()
	switch format {
	case FormatXLSX:
		err = WriteXLSX(f, table)
	default:
		err = WritePDF(f, table)
	}
	if err != nil {
		return err
	}

	slog.Info("Exported report", "title", table.Title, "format", format, "path", path)
	return nil
}

// WriteXLSX renders the table as a single-sheet workbook. Amounts are numeric cells.
func WriteXLSX(w io.Writer, t Table) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := sheetName(t.Title)
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create style: %w", err)
	}
	amountFmt := "#,##0.00"
	amount, err := f.NewStyle(&excelize.Style{CustomNumFmt: &amountFmt})
	if err != nil {
		return fmt.Errorf("failed to create style: %w", err)
	}

	_ = f.SetCellValue(sheet, "A1", t.Title)
	_ = f.SetCellStyle(sheet, "A1", "A1", bold)
	_ = f.SetCellValue(sheet, "A2", t.Caption)

	row := 4
	for col, header := range t.Headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, row)
		_ = f.SetCellValue(sheet, cell, header)
		_ = f.SetCellStyle(sheet, cell, cell, bold)
	}

	writeRow := func(values []any) {
		row++
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if d, ok := v.(decimal.Decimal); ok {
				_ = f.SetCellValue(sheet, cell, d.InexactFloat64())
				_ = f.SetCellStyle(sheet, cell, cell, amount)
				continue
			}
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
	for _, r := range t.Rows {
		writeRow(r)
	}
	if len(t.Footer) > 0 {
		writeRow(t.Footer)
		first, _ := excelize.CoordinatesToCellName(1, row)
		_ = f.SetCellStyle(sheet, first, first, bold)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// sheetName trims a title to the 31 characters Excel allows.
func sheetName(title string) string {
	if title == "" {
		return "Report"
	}
	if len(title) > 31 {
		return title[:31]
	}
	return title
}

// WritePDF renders the table in landscape A4 with equal column widths.
func WritePDF(w io.Writer, t Table) error {
	pdf := gofpdf.New("L", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetFont("Arial", "B", 14)
	pdf.AddPage()

	pdf.Cell(0, 8, tr(t.Title))
	pdf.Ln(8)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, tr(t.Caption))
	pdf.Ln(10)

	width := 277.0
	if len(t.Headers) > 0 {
		width /= float64(len(t.Headers))
	}

	pdf.SetFont("Arial", "B", 9)
	for _, header := range t.Headers {
		pdf.CellFormat(width, 6, tr(header), "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	writeRow := func(values []any) {
		for _, v := range values {
			text, align := pdfCell(v)
			pdf.CellFormat(width, 6, tr(text), "1", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}

	pdf.SetFont("Arial", "", 9)
	for _, r := range t.Rows {
		writeRow(r)
	}
	if len(t.Footer) > 0 {
		pdf.SetFont("Arial", "B", 9)
		writeRow(t.Footer)
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("failed to write pdf: %w", err)
	}
	return nil
}

func pdfCell(v any) (string, string) {
	switch value := v.(type) {
	case decimal.Decimal:
		return value.StringFixed(2), "R"
	case int:
		return fmt.Sprintf("%d", value), "R"
	case string:
		return value, "L"
	default:
		return fmt.Sprint(value), "L"
	}
}
