// Command ledgerctl administers a ledger database: it provisions cards,
// issues bearer tokens and runs settlement passes outside the server.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Administer the shared-expense ledger",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("db", "", "SQLite database path (defaults to LEDGER_DB_PATH)")

	rootCmd.AddCommand(cardCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(settleCmd())
	rootCmd.AddCommand(seedCmd())

	return rootCmd
}
