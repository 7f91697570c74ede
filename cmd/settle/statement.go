package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/settle/internal/cli"
	"github.com/Veraticus/settle/internal/model"
	"github.com/Veraticus/settle/internal/statement"
)

func statementCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "statement",
		Short: "Import, list, validate and roll back bank statements",
	}
	cmd.AddCommand(statementImportCmd())
	cmd.AddCommand(statementListCmd())
	cmd.AddCommand(statementValidateCmd())
	cmd.AddCommand(statementRollbackCmd())
	return cmd
}

func statementImportCmd() *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a matching proposer output file",
		Long: `Import a bank statement as produced by the matching proposer. One
reconciliation record is created per transaction, unmatched until reviewed.
With --apply, the proposer's suggestions are committed right away; suggestions
that conflict with existing settlements are reported and left unmatched.`,
		Example: `  settle statement import releve-2024-03.json --apply`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			apply := a.cfg.ApplyProposals
			if cmd.Flags().Changed("apply") {
				apply, _ = cmd.Flags().GetBool("apply")
			}

			// #nosec G304 - path is supplied by the operator
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open statement: %w", err)
			}
			defer func() { _ = f.Close() }()

			out := cmd.OutOrStdout()
			handler := cli.NewInterruptHandler(out, "Import")
			ctx, stop := handler.HandleInterrupts(ctx, "Proposals applied so far are kept. Continue with: settle review list")
			defer stop()

			opts := statement.ImportOptions{ApplyProposals: apply}
			if !quiet {
				opts.NewProgress = func(total int) statement.Progress {
					return cli.NewProgressBar(cmd.ErrOrStderr(), total, "Applying proposals...")
				}
			}

			result, err := a.statements().Import(ctx, filepath.Base(args[0]), f, opts)
			if err != nil {
				return err
			}

			summary := fmt.Sprintf("File ID:       %s\nTransactions:  %d\n", result.File.ID, result.Transactions)
			if apply {
				summary += fmt.Sprintf("Applied:       %d\nConflicts:     %d\nOut of tolerance: %d\n",
					result.Applied, len(result.Conflicts), result.Warnings)
			}
			fmt.Fprintln(out, cli.RenderBox(cli.LedgerIcon+" Statement imported", strings.TrimRight(summary, "\n")))
			for _, conflict := range result.Conflicts {
				fmt.Fprintln(out, cli.FormatWarning(conflict.Error()))
			}
			return nil
		},
	}

	cmd.Flags().Bool("apply", false, "Commit the proposer's suggestions (default from statement.apply_proposals)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Hide the progress bar")

	return cmd
}

func statementListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List imported statement files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			files, err := a.statements().List(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(files) == 0 {
				fmt.Fprintln(out, cli.SubtitleStyle.Render("No statement files imported."))
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, strings.Join([]string{
				cli.TableHeaderStyle.Render("ID"),
				cli.TableHeaderStyle.Render("FILE"),
				cli.TableHeaderStyle.Render("IMPORTED"),
				cli.TableHeaderStyle.Render("MATCHED"),
				cli.TableHeaderStyle.Render("UNCERTAIN"),
				cli.TableHeaderStyle.Render("UNMATCHED"),
				cli.TableHeaderStyle.Render("STATE"),
			}, "\t"))

			now := time.Now()
			for _, f := range files {
				state := cli.WarningStyle.Render("open")
				if f.IsValidated() {
					state = cli.SuccessStyle.Render("validated")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
					cli.InfoStyle.Render(f.ID),
					f.FileName,
					formatRelativeTime(f.ImportedAt, now),
					f.RecordCounts[model.StatusMatched],
					f.RecordCounts[model.StatusUncertain],
					f.RecordCounts[model.StatusUnmatched],
					state)
			}
			return w.Flush()
		},
	}
}

func statementValidateCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "validate <file-id>",
		Short: "Freeze a statement file",
		Long:  `Validate a statement file. Its reconciliation records become read-only and it can no longer be rolled back.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if !force {
				ok, err := cli.Confirm(ctx, cli.NewNonBlockingReader(cmd.InOrStdin()), out,
					fmt.Sprintf("Validate %s? Its records become read-only.", args[0]))
				if err != nil || !ok {
					fmt.Fprintln(out, cli.SubtitleStyle.Render("Validation cancelled."))
					return err
				}
			}

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			if err := a.statements().Validate(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(out, cli.FormatSuccess("Validated "+args[0]))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip confirmation prompt")
	return cmd
}

func statementRollbackCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "rollback <file-id>",
		Short: "Delete a statement file and undo its settlements",
		Long: `Roll back an imported statement: every document its records settled is
unsettled, then the records, transactions and file are deleted. Validated
files are refused. A checkpoint is taken first unless
statement.checkpoint_before_rollback is false.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if !force {
				ok, err := cli.Confirm(ctx, cli.NewNonBlockingReader(cmd.InOrStdin()), out,
					fmt.Sprintf("Roll back %s?", args[0]))
				if err != nil || !ok {
					fmt.Fprintln(out, cli.SubtitleStyle.Render("Rollback cancelled."))
					return err
				}
			}

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			result, err := a.statements().Rollback(ctx, args[0])
			if err != nil {
				return err
			}

			if result.Checkpoint != nil {
				fmt.Fprintf(out, "%s Checkpoint %s (%s)\n",
					cli.SuccessStyle.Render(cli.SuccessIcon),
					cli.InfoStyle.Render(result.Checkpoint.ID),
					formatFileSize(result.Checkpoint.FileSize))
			}
			fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Rolled back %s: %d records, %d transactions, %d documents unsettled",
				args[0], result.Records, result.Transactions, len(result.Unsettled))))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip confirmation prompt")
	return cmd
}
