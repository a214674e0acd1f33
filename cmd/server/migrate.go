package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/iliyamo/sportsbook/internal/migrations"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the embedded schema migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := migrations.Up(a.db); err != nil {
				return err
			}
			a.log.Info("migrations applied")
			return nil
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps < 1 {
				return fmt.Errorf("--steps must be at least 1")
			}
			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := migrations.Down(a.db, steps); err != nil {
				return err
			}
			a.log.Info("migrations rolled back", slog.Int("steps", steps))
			return nil
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	cmd.AddCommand(down)

	return cmd
}
