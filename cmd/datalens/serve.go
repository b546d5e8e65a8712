package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/datalens-dev/datalens/internal/httpapi"
	"github.com/datalens-dev/datalens/internal/observability"
	"github.com/datalens-dev/datalens/pkg/config"
	"github.com/datalens-dev/datalens/pkg/dataset"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the analysis HTTP service",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		observability.InitMetrics()
		if err := observability.InitFromEnv(); err != nil {
			logger.Warn().Err(err).Msg("tracing init failed, continuing without")
		}

		manager, err := buildManager(cfg, logger)
		if err != nil {
			return err
		}
		if err := manager.StartJanitor(); err != nil {
			return err
		}

		api := httpapi.NewServer(manager, dataset.Limits{
			MaxRows: cfg.Dataset.MaxRows,
			MaxCols: cfg.Dataset.MaxCols,
		}, logger)

		srv := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           api.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			logger.Info().Str("addr", cfg.Server.Addr).Str("version", Version).
				Msg("datalens listening")
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			logger.Info().Msg("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("http shutdown")
			}
			if err := manager.Close(); err != nil {
				logger.Error().Err(err).Msg("manager close")
			}
			if err := observability.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("tracing shutdown")
			}
			return nil
		})

		if err := g.Wait(); err != nil {
			logger.Error().Err(err).Msg("server exited")
			return err
		}
		logger.Info().Msg("stopped")
		return nil
	},
}
