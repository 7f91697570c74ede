package main

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Veraticus/settle/internal/cli"
	"github.com/Veraticus/settle/internal/common"
	"github.com/Veraticus/settle/internal/model"
	"github.com/Veraticus/settle/internal/review"
	"github.com/Veraticus/settle/internal/service"
	"github.com/Veraticus/settle/internal/settlement"
)

func reviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Inspect and override reconciliation records",
	}
	cmd.AddCommand(reviewListCmd())
	cmd.AddCommand(reviewShowCmd())
	cmd.AddCommand(reviewAvailableCmd())
	cmd.AddCommand(reviewSaveCmd())
	return cmd
}

func reviewListCmd() *cobra.Command {
	var fileID, status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reconciliation records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			filter := service.RecordFilter{StatementFileID: fileID, Status: model.ReconciliationStatus(status)}
			if status != "" && !filter.Status.Valid() {
				return &settlement.InvalidStatusError{Status: filter.Status}
			}
			records, err := a.store.ListRecords(ctx, filter)
			if err != nil {
				return err
			}
			txns, err := a.store.GetTransactions(ctx, service.TransactionFilter{StatementFileID: fileID})
			if err != nil {
				return err
			}
			byID := make(map[string]model.Transaction, len(txns))
			for _, txn := range txns {
				byID[txn.ID] = txn
			}

			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, cli.SubtitleStyle.Render("No records found."))
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, strings.Join([]string{
				cli.TableHeaderStyle.Render("RECORD"),
				cli.TableHeaderStyle.Render("DATE"),
				cli.TableHeaderStyle.Render("LABEL"),
				cli.TableHeaderStyle.Render("AMOUNT"),
				cli.TableHeaderStyle.Render("STATUS"),
				cli.TableHeaderStyle.Render("LINKS"),
			}, "\t"))
			for _, rec := range records {
				txn := byID[rec.TransactionID]
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
					cli.InfoStyle.Render(rec.ID),
					formatDate(txn.Date),
					txn.Label,
					cli.FormatSigned(txn.Amount),
					cli.FormatStatus(rec.Status),
					len(rec.State().Refs()))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&fileID, "file", "", "Only records of this statement file")
	cmd.Flags().StringVar(&status, "status", "", "Only records with this status (matched, uncertain, unmatched)")
	return cmd
}

func reviewShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <record-id>",
		Short: "Show a record with its transaction and linked documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			set, err := a.review().Open(ctx, args[0])
			if err != nil {
				return err
			}
			printCandidateSet(cmd.OutOrStdout(), set)
			return nil
		},
	}
}

func printCandidateSet(out io.Writer, set *review.CandidateSet) {
	txn := set.Transaction
	var b strings.Builder
	fmt.Fprintf(&b, "Date:      %s\n", formatDate(txn.Date))
	fmt.Fprintf(&b, "Label:     %s\n", txn.Label)
	fmt.Fprintf(&b, "Amount:    %s\n", cli.FormatSigned(txn.Amount))
	fmt.Fprintf(&b, "Reference: %s\n", txn.SettlementReference())
	fmt.Fprintf(&b, "Status:    %s", cli.FormatStatus(set.Record.Status))
	if set.ReadOnly {
		b.WriteString(cli.SubtleStyle.Render("  (validated, read-only)"))
	}
	if set.Record.ProposedInvoiceID != nil {
		fmt.Fprintf(&b, "\nProposed:  %s %s", set.Record.ProposedStatus, *set.Record.ProposedInvoiceID)
	}
	if set.Record.Notes != "" {
		fmt.Fprintf(&b, "\nNotes:     %s", set.Record.Notes)
	}
	fmt.Fprintln(out, cli.RenderBox("Record "+set.Record.ID, b.String()))

	if len(set.Group.Documents) == 0 {
		fmt.Fprintln(out, cli.SubtitleStyle.Render("No linked documents."))
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join([]string{
		cli.TableHeaderStyle.Render("KIND"),
		cli.TableHeaderStyle.Render("ID"),
		cli.TableHeaderStyle.Render("NUMBER"),
		cli.TableHeaderStyle.Render("DUE"),
		cli.TableHeaderStyle.Render("AMOUNT"),
	}, "\t"))
	for _, doc := range set.Group.Documents {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			doc.Ref.Kind, doc.Ref.ID, doc.Number, formatDate(doc.DueDate), cli.FormatMoney(doc.AmountDue))
	}
	_ = w.Flush()

	fmt.Fprintf(out, "\nGroup total %s, discrepancy %s\n",
		cli.BoldStyle.Render(cli.FormatMoney(set.Group.Total())),
		cli.FormatMoney(set.Group.Discrepancy()))
	if set.Warning != nil {
		fmt.Fprintln(out, cli.FormatWarning(set.Warning.Error()))
	}
}

func reviewAvailableCmd() *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "available <record-id>",
		Short: "List documents the record may link",
		Long:  `List unsettled documents of one kind, plus those the record already links.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			svc := a.review()
			var docs []model.Document
			switch model.DocumentKind(kind) {
			case model.KindInvoice:
				docs, err = svc.AvailableInvoices(ctx, args[0])
			case model.KindSubscription:
				docs, err = svc.AvailableSubscriptions(ctx, args[0])
			case model.KindDeclaration:
				docs, err = svc.AvailableDeclarations(ctx, args[0])
			default:
				return fmt.Errorf("unknown document kind %q (invoice, subscription, declaration)", kind)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(docs) == 0 {
				fmt.Fprintln(out, cli.SubtitleStyle.Render("No documents available."))
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, strings.Join([]string{
				cli.TableHeaderStyle.Render("ID"),
				cli.TableHeaderStyle.Render("NUMBER"),
				cli.TableHeaderStyle.Render("LABEL"),
				cli.TableHeaderStyle.Render("DUE"),
				cli.TableHeaderStyle.Render("AMOUNT"),
				cli.TableHeaderStyle.Render("LINKED"),
			}, "\t"))
			for _, doc := range docs {
				linked := ""
				if doc.IsSettled() {
					linked = cli.LinkIcon
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					doc.Ref.ID, doc.Number, doc.Label, formatDate(doc.DueDate), cli.FormatMoney(doc.AmountDue), linked)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&kind, "kind", string(model.KindInvoice), "Document kind: invoice, subscription or declaration")
	return cmd
}

func reviewSaveCmd() *cobra.Command {
	var (
		status       string
		invoices     []string
		subscription string
		declaration  string
		notes        string
	)

	cmd := &cobra.Command{
		Use:   "save <record-id>",
		Short: "Commit a new status and document set for a record",
		Long: `Replace a record's status, invoices, subscription, declaration or notes.
Only the flags given change; --invoice replaces the whole invoice set and an
empty --subscription or --declaration unlinks it. The change is applied
atomically: either every document is settled or nothing changes.`,
		Example: `  settle review save 3f2a... --status matched --invoice F-2024-011 --invoice F-2024-012
  settle review save 3f2a... --subscription ""`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			svc := a.review()
			set, err := svc.Open(ctx, args[0])
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			draft := set.Draft
			if flags.Changed("status") {
				if draft, err = draft.WithStatus(model.ReconciliationStatus(status)); err != nil {
					return err
				}
			}
			if flags.Changed("invoice") {
				if draft, err = withInvoiceSet(draft, invoices); err != nil {
					return err
				}
			}
			if flags.Changed("subscription") {
				if draft, err = draft.WithSubscription(subscription); err != nil {
					return err
				}
			}
			if flags.Changed("declaration") {
				if draft, err = draft.WithDeclaration(declaration); err != nil {
					return err
				}
			}
			if flags.Changed("notes") {
				if draft, err = draft.WithNotes(notes); err != nil {
					return err
				}
			}

			result, err := svc.Save(ctx, draft)
			if err != nil {
				return explainCommitError(err)
			}

			out := cmd.OutOrStdout()
			if result.NoOp {
				fmt.Fprintln(out, cli.FormatInfo("Nothing changed."))
				return nil
			}
			fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Saved %s as %s (version %d)",
				result.Record.ID, result.Record.Status, result.Record.Version)))
			for _, ref := range result.Linked {
				fmt.Fprintf(out, "  + %s\n", ref)
			}
			for _, ref := range result.Unlinked {
				fmt.Fprintf(out, "  - %s\n", ref)
			}
			if result.Warning != nil {
				fmt.Fprintln(out, cli.FormatWarning(result.Warning.Error()))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "New status: matched, uncertain or unmatched")
	cmd.Flags().StringArrayVar(&invoices, "invoice", nil, "Invoice id to link (repeatable, replaces the set)")
	cmd.Flags().StringVar(&subscription, "subscription", "", "Subscription id to link, empty to unlink")
	cmd.Flags().StringVar(&declaration, "declaration", "", "Declaration id to link, empty to unlink")
	cmd.Flags().StringVar(&notes, "notes", "", "Reviewer notes")
	return cmd
}

// withInvoiceSet toggles invoices until the draft links exactly ids.
func withInvoiceSet(draft review.Draft, ids []string) (review.Draft, error) {
	want := model.NormalizeIDs(ids)
	var err error
	for _, id := range draft.InvoiceIDs() {
		if !slices.Contains(want, id) {
			if draft, err = draft.ToggleInvoice(id); err != nil {
				return draft, err
			}
		}
	}
	for _, id := range want {
		if !draft.HasInvoice(id) {
			if draft, err = draft.ToggleInvoice(id); err != nil {
				return draft, err
			}
		}
	}
	return draft, nil
}

// explainCommitError lists the documents that blocked a commit.
func explainCommitError(err error) error {
	blocking := settlement.BlockingDocuments(err)
	if len(blocking) == 0 {
		return err
	}
	refs := make([]string, len(blocking))
	for i, ref := range blocking {
		refs[i] = ref.String()
	}
	return common.NewUserError("Nothing was saved, blocked by "+strings.Join(refs, ", "), err)
}
