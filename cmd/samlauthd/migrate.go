package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sitecraft/samlauth/store/postgres"
)

func init() {
	rootCmd.AddCommand(newMigrateCommand())
}

func newMigrateCommand() *cobra.Command {
	var databaseURL string

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the postgres identity store schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	migrateCmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL. Can also be set via SAMLAUTHD_DATABASE_URL.")

	resolveURL := func() (string, error) {
		if databaseURL != "" {
			return databaseURL, nil
		}
		if env := strings.TrimSpace(os.Getenv("SAMLAUTHD_DATABASE_URL")); env != "" {
			return env, nil
		}
		return "", fmt.Errorf("missing database URL: set --database-url or SAMLAUTHD_DATABASE_URL")
	}

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := resolveURL()
			if err != nil {
				return err
			}
			if err := postgres.MigrateUp(u); err != nil {
				return err
			}
			cmd.Println("Applied all pending migrations.")
			return nil
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "down <steps>",
		Short: "Roll back schema migrations by step count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, err := strconv.Atoi(args[0])
			if err != nil || steps <= 0 {
				return fmt.Errorf("invalid steps %q: expected a positive integer", args[0])
			}
			u, err := resolveURL()
			if err != nil {
				return err
			}
			if err := postgres.MigrateDown(u, steps); err != nil {
				return err
			}
			cmd.Printf("Rolled back %d migration step(s).\n", steps)
			return nil
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "force <version>",
		Short: "Force-set the schema version without running migrations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil || version < -1 {
				return fmt.Errorf("invalid version %q: expected an integer >= -1", args[0])
			}
			u, err := resolveURL()
			if err != nil {
				return err
			}
			if err := postgres.MigrateForce(u, version); err != nil {
				return err
			}
			cmd.Printf("Forced schema version to %d.\n", version)
			return nil
		},
	})

	return migrateCmd
}
