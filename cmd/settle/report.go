package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/Veraticus/settle/internal/cli"
	"github.com/Veraticus/settle/internal/report"
)

func reportCmd() *cobra.Command {
	var xlsxPath, pdfPath string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Aggregate the ledger into accounting reports",
		Long: `Print a report and optionally export it. Reports read settlement
references and dates only; a transaction may settle several documents.`,
		Example: `  settle report vat --year 2024 --xlsx tva-2024.xlsx
  settle report aging --as-of 2024-06-30 --pdf relances.pdf`,
	}
	cmd.PersistentFlags().StringVar(&xlsxPath, "xlsx", "", "Also export to this .xlsx file")
	cmd.PersistentFlags().StringVar(&pdfPath, "pdf", "", "Also export to this .pdf file")

	run := func(build func(cmd *cobra.Command, r *report.Reporter) (report.Tabular, error)) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			rep, err := build(cmd, report.NewReporter(a.store))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printTable(out, rep.Table())

			exporter := report.NewExporter(a.metrics)
			for _, path := range []string{xlsxPath, pdfPath} {
				if path == "" {
					continue
				}
				if err := exporter.WriteFile(path, rep); err != nil {
					return err
				}
				fmt.Fprintln(out, cli.FormatSuccess("Exported "+path))
			}
			return nil
		}
	}

	var asOf string
	aging := &cobra.Command{
		Use:   "aging",
		Short: "Overdue sale invoices by age",
		Args:  cobra.NoArgs,
		RunE: run(func(cmd *cobra.Command, r *report.Reporter) (report.Tabular, error) {
			date := time.Now()
			if asOf != "" {
				parsed, err := time.Parse("2006-01-02", asOf)
				if err != nil {
					return nil, fmt.Errorf("invalid --as-of date %q: %w", asOf, err)
				}
				date = parsed
			}
			return r.OverdueAging(cmd.Context(), date)
		}),
	}
	aging.Flags().StringVar(&asOf, "as-of", "", "Reference date, YYYY-MM-DD (default today)")

	var year int
	vat := &cobra.Command{
		Use:   "vat",
		Short: "Monthly VAT collected and deductible, cash basis",
		Args:  cobra.NoArgs,
		RunE: run(func(cmd *cobra.Command, r *report.Reporter) (report.Tabular, error) {
			return r.MonthlyVAT(cmd.Context(), year)
		}),
	}
	treasury := &cobra.Command{
		Use:   "treasury",
		Short: "Monthly bank movements and reconciliation progress",
		Args:  cobra.NoArgs,
		RunE: run(func(cmd *cobra.Command, r *report.Reporter) (report.Tabular, error) {
			return r.AnnualTreasury(cmd.Context(), year)
		}),
	}
	for _, c := range []*cobra.Command{vat, treasury} {
		c.Flags().IntVar(&year, "year", time.Now().Year(), "Calendar year")
	}

	cmd.AddCommand(aging, vat, treasury)
	return cmd
}

func printTable(out io.Writer, t report.Table) {
	fmt.Fprintln(out, cli.FormatTitle(t.Title))
	if t.Caption != "" {
		fmt.Fprintln(out, cli.SubtitleStyle.Render(t.Caption))
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	headers := make([]string, len(t.Headers))
	for i, h := range t.Headers {
		headers[i] = cli.TableHeaderStyle.Render(strings.ToUpper(h))
	}
	fmt.Fprintln(w, strings.Join(headers, "\t")+"\t")

	for _, row := range t.Rows {
		fmt.Fprintln(w, strings.Join(tableCells(row), "\t")+"\t")
	}
	if len(t.Footer) > 0 {
		cells := tableCells(t.Footer)
		for i := range cells {
			cells[i] = cli.BoldStyle.Render(cells[i])
		}
		fmt.Fprintln(w, strings.Join(cells, "\t")+"\t")
	}
	_ = w.Flush()
}

func tableCells(row []any) []string {
	cells := make([]string, len(row))
	for i, v := range row {
		switch value := v.(type) {
		case decimal.Decimal:
			cells[i] = cli.FormatMoney(value)
		default:
			cells[i] = fmt.Sprint(value)
		}
	}
	return cells
}
