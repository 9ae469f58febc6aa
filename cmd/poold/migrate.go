package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Pool-labs/Pool/internal/config"
	"github.com/Pool-labs/Pool/internal/store"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the document tables, indexes and change trigger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := bootstrap()
			if err != nil {
				return err
			}
			if cfg.StoreBackend != config.StoreBackendPostgres {
				return fmt.Errorf("migrate needs STORE_BACKEND=%s, got %q", config.StoreBackendPostgres, cfg.StoreBackend)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			dbpool, err := openDatabase(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer dbpool.Close()

			if err := store.NewPostgresStore(dbpool).Migrate(ctx); err != nil {
				return err
			}
			log.Info().Str("component", "bootstrap").Msg("schema migrated")
			return nil
		},
	}
}
