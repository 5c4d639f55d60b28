package main

import (
	"github.com/spf13/cobra"

	"github.com/floraexport/cartera/config"
)

var version = "0.1.0"

func newRootCmd(cfg *config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:   "cartera",
		Short: "Receivable and payable ledgers with running balances and prepayment allocation",
		Long: `cartera keeps one ledger per client (receivable) or supplier (payable).

It imports movements exported by the accounting system, prints running-balance
statements and applies prepayments to open invoices.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(cfg), newStatementCmd(), newNormalizeCmd())
	return root
}
