package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lfmcagency/fitness-tracker-sub001/config"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/infrastructure/persistence/postgres"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/infrastructure/persistence/sqlite"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations for the configured store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			switch cfg.Store.Driver {
			case config.StorePostgres:
				conn, err := openPostgres(cmd.Context(), cfg)
				if err != nil {
					return err
				}
				defer conn.Close()

				applied, err := postgres.NewMigrator(conn).Migrate(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "postgres: %d migration(s) applied\n", applied)

			case config.StoreSQLite:
				store, err := sqlite.NewStore(cfg.Store.SQLiteDir)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "sqlite: schema up to date in %s\n", cfg.Store.SQLiteDir)
				return store.Close()

			default:
				fmt.Fprintf(out, "%s: nothing to migrate\n", cfg.Store.Driver)
			}
			return nil
		},
	}
	cmd.AddCommand(newMigrateDownCmd())
	return cmd
}

func newMigrateDownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Revert the most recent postgres migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if cfg.Store.Driver != config.StorePostgres {
				fmt.Fprintf(out, "%s: nothing to roll back\n", cfg.Store.Driver)
				return nil
			}

			conn, err := openPostgres(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer conn.Close()

			version, err := postgres.NewMigrator(conn).Rollback(cmd.Context())
			if err != nil {
				return err
			}
			if version == 0 {
				fmt.Fprintln(out, "postgres: no applied migrations")
				return nil
			}
			fmt.Fprintf(out, "postgres: reverted migration %d\n", version)
			return nil
		},
	}
}
