// Package main implements the rasac CLI: a terminal console and scripting
// commands for a Rasa model training and storage backend, plus the
// insights service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	// configPath overrides ~/.config/rasac/config.yaml
	configPath string
	// apiURL overrides api.base_url
	apiURL string
	// logLevel overrides logging.level
	logLevel string

	// version information, set by the linker
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rasac",
	Short: "Console for a Rasa model training and storage backend",
	Long: `rasac lists trained models, starts and aborts training, downloads and
deletes model archives, and plots learning curves with a best-epoch
estimate.

Run without arguments to open the interactive console.

Examples:
  # Open the console
  rasac

  # List models as a table
  rasac models list

  # Best epoch of the latest model with a 15 epoch patience
  rasac curve --patience 15

  # Serve insights over HTTP and NATS
  rasac serve --nats`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
	RunE:          runConsole,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/rasac/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "", "backend base URL (overrides api.base_url)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: trace, debug, info, warn, error or quiet")
	rootCmd.SetVersionTemplate(fmt.Sprintf("rasac %s (commit %s, built %s)\n", version, gitCommit, buildDate))
}
