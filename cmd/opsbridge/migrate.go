package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"opsbridge.org/internal/migrate"
	"opsbridge.org/internal/obs"
	"opsbridge.org/migrations"
)

var migrateDSN string

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down|seed|status]",
	Short:     "Manage the dataset schema",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down", "seed", "status"},
	RunE: func(cmd *cobra.Command, args []string) error {
		dsn := migrateDSN
		if dsn == "" {
			dsn = cfg.Storage.DSN
		}
		if dsn == "" {
			return fmt.Errorf("missing DSN: provide --dsn or OPSBRIDGE_STORAGE_DSN")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()

		mgr := migrate.NewManager(db, migrations.FS, migrations.SQLDir, migrations.SeedsDir,
			migrate.WithLogger(obs.Named("migrate")))

		out := cmd.OutOrStdout()
		switch args[0] {
		case "up", "seed":
			apply := mgr.Up
			if args[0] == "seed" {
				apply = mgr.Seed
			}
			var applied []string
			applied, err = apply(ctx)
			for _, name := range applied {
				fmt.Fprintln(out, "applied", name)
			}
		case "down":
			var name string
			if name, err = mgr.Down(ctx); err == nil {
				fmt.Fprintln(out, "rolled back", name)
			}
		case "status":
			var history []migrate.Applied
			history, err = mgr.Status(ctx)
			for _, a := range history {
				fmt.Fprintf(out, "%s\t%s\n", a.AppliedAt.Format(time.RFC3339), a.Name)
			}
		}
		if err != nil {
			return fmt.Errorf("migrate %s: %w", args[0], err)
		}
		return nil
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migrateDSN, "dsn", "", "PostgreSQL DSN (defaults to storage.dsn)")
}
