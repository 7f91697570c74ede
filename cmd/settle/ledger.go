package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/settle/internal/cli"
	"github.com/Veraticus/settle/internal/ledger"
	"github.com/Veraticus/settle/internal/model"
)

func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Manage invoices, subscriptions and declarations",
	}
	cmd.AddCommand(ledgerLoadCmd())
	return cmd
}

func ledgerLoadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load <file>...",
		Short: "Load documents from JSON or YAML files",
		Long: `Insert or update documents from ledger files. Each file may contain
"factures", "abonnements" and "declarations_charges" lists. Reloading a
document updates its amounts and dates but never its settlement.`,
		Example: `  settle ledger load invoices-2024.yaml charges.json`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			loader := ledger.NewLoader(a.store)
			out := cmd.OutOrStdout()
			for _, path := range args {
				result, err := loader.Load(ctx, path)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("%s: %d invoices, %d subscriptions, %d declarations",
					path,
					result[model.KindInvoice],
					result[model.KindSubscription],
					result[model.KindDeclaration])))
			}
			return nil
		},
	}
}
