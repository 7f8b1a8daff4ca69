package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/kestrel/internal/repository"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			repo, err := repository.New(cfg.Repository)
			if err != nil {
				return err
			}
			defer repo.Close()

			if err := repo.Migrate(cmd.Context()); err != nil {
				return err
			}
			slog.Info("schema applied", "driver", cfg.Repository.Driver)
			return nil
		},
	}
}
