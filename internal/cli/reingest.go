package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"intellixdoc/internal/bootstrap"
	"intellixdoc/internal/config"
	"intellixdoc/internal/logger"
)

var reingestCmd = &cobra.Command{
	Use:   "reingest <document-id>",
	Short: "Queue a completed or failed document for another ingestion run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Queue.Backend != config.QueueBackendRabbitMQ {
			return fmt.Errorf("reingest from the command line needs queue.backend = %q; use POST /api/v1/documents/%s/reingest instead",
				config.QueueBackendRabbitMQ, args[0])
		}

		app, err := bootstrap.New(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := app.Close(); err != nil {
				logger.Error("close resources failed: %v", err)
			}
		}()

		doc, err := app.Documents.Reingest(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", doc.ID, doc.Status)
		return nil
	},
}
