package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/techlabs/labforge/pkg/config"
	"github.com/techlabs/labforge/pkg/stores"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Apply any pending schema migrations to the configured SQLite database.
Running against an up-to-date database is a no-op.`,
		Example: `  # Migrate the configured database
  labforge migrate --config /etc/labforge/config.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Database.Path})
			if err != nil {
				return err
			}
			if err := store.Init(ctx); err != nil {
				return err
			}
			defer func() {
				if err := store.Close(); err != nil {
					log.Warn().Err(err).Msg("Failed to close store")
				}
			}()

			if err := store.Migrate(ctx); err != nil {
				return err
			}

			fmt.Printf("Database %s is up to date\n", cfg.Database.Path)
			return nil
		},
	}

	return cmd
}
