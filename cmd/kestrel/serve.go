package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/worker"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scoring worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			slog.Info("starting kestrel",
				"version", Version,
				"commit", Commit,
				"build_date", BuildDate,
				"tier", cfg.Tier,
				"repository", cfg.Repository.Driver,
				"cache", cfg.Cache.Type,
				"eventbus", cfg.EventBus.Type,
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			repo, err := repository.New(cfg.Repository)
			if err != nil {
				return fmt.Errorf("initialize repository: %w", err)
			}
			defer repo.Close()

			cacheImpl, err := cache.New(cfg.Cache)
			if err != nil {
				return fmt.Errorf("initialize cache: %w", err)
			}
			defer cacheImpl.Close()

			busImpl, err := bus.New(cfg.EventBus)
			if err != nil {
				return fmt.Errorf("initialize event bus: %w", err)
			}
			defer busImpl.Close()

			engine, err := rules.NewEngine()
			if err != nil {
				return fmt.Errorf("initialize rule engine: %w", err)
			}

			tracing := tracerProvider(cfg.Tracing)
			scorer := scoring.NewService(repo, engine, cacheImpl, scoring.Options{
				Workers:  cfg.Scoring.Workers,
				CacheTTL: cfg.Scoring.CacheTTL,
				Ranking:  cfg.Scoring.Ranking,
				Tracing:  tracing,
			})

			var asyncWorker *worker.Worker
			if cfg.Worker.Enabled {
				asyncWorker = worker.NewWorker(busImpl, repo, scorer)
				if err := asyncWorker.Start(worker.Config{TenantIDs: cfg.Worker.TenantIDs}); err != nil {
					return fmt.Errorf("start worker: %w", err)
				}
			}

			srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, engine, scorer, tracing, Version)
			errCh := make(chan error, 1)
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			slog.Info("kestrel is ready",
				"host", cfg.Server.Host,
				"port", cfg.Server.Port,
			)

			select {
			case <-ctx.Done():
				slog.Info("shutting down...")
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("server failed: %w", err)
				}
			}

			if asyncWorker != nil {
				asyncWorker.Stop()
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("server forced to shutdown", "error", err)
			}

			slog.Info("kestrel shutdown complete")
			return nil
		},
	}
}
