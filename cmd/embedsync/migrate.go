package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MereWhiplash/embedsync/internal/config"
	"github.com/MereWhiplash/embedsync/internal/storage"
)

// migrateCMD creates tables and indexes. It needs storage settings only.
func migrateCMD(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create source and embedding tables and their indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			if err := cfg.Storage.Validate(); err != nil {
				return err
			}

			logger := config.NewLogger(cfg.Log, cmd.ErrOrStderr())
			store, err := storage.New(cmd.Context(), cfg.Storage.ToStorage())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			defer store.Close()

			logger.Info("migrations complete", "driver", cfg.Storage.Driver, "dimensions", cfg.Storage.Dimensions)
			return nil
		},
	}
}
