package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"intellixdoc/internal/bootstrap"
	"intellixdoc/internal/config"
	"intellixdoc/internal/logger"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume the RabbitMQ ingestion queue",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Queue.Backend != config.QueueBackendRabbitMQ {
			logger.Warn("worker: queue.backend is %q; ingestion already runs inside serve", cfg.Queue.Backend)
			return nil
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		app, err := bootstrap.New(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := app.Close(); err != nil {
				logger.Error("close resources failed: %v", err)
			}
		}()

		if err := app.StartIngestWorker(ctx); err != nil {
			return err
		}
		logger.Info("worker: consuming %s with %d workers", cfg.RabbitMQ.IngestQueue, cfg.Queue.Workers)

		<-ctx.Done()
		logger.Info("worker: shutting down")
		return ignoreCanceled(ctx.Err())
	},
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
