// Package cli holds the intellixdoc command tree.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"intellixdoc/internal/config"
	"intellixdoc/internal/logger"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:           "intellixdoc",
	Short:         "intellixdoc answers questions about uploaded PDFs with page citations",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.SetVerbose(verbose)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default $CONFIG_FILE or configs/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd, workerCmd, reingestCmd, issueTokenCmd)
}

func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}
