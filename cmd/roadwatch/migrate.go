package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/road-telemetry/roadwatch/internal/store/postgres"
)

var migrateDSN string

var migrateCmd = &cobra.Command{
	Use:       "migrate up|down",
	Short:     "Apply or roll back the Postgres schema",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down"},
	RunE: func(cmd *cobra.Command, args []string) error {
		dsn := migrateDSN
		if dsn == "" {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			dsn = cfg.Store.PostgresDSN
		}

		if err := postgres.Migrate(dsn, args[0]); err != nil {
			return fmt.Errorf("migrate %s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "migrate %s: done\n", args[0])
		return nil
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migrateDSN, "dsn", "", "Postgres DSN (default: store.postgresDSN or POSTGRES_* variables)")
}
