// Command server runs the sportsbook API, its notification worker and the
// schema migrations.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	_ "time/tzdata"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "sportsbook",
		Short:         "Sports facility booking and matchmaking API",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(workerCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
