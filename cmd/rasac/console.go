package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rasac/internal/console"
)

func init() {
	rootCmd.AddCommand(consoleCmd)
}

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Open the interactive console",
	Long: `Open the interactive console.

Keys:
  ↑/↓      select a model       ←/→  change page
  enter    learning curves      tab  accuracy/loss
  ←/→      patience (curves)    esc  back
  d        delete               s    download
  t        retrain              a    abort training
  r        refresh              q    quit

Logs go to logging.file when set and are discarded otherwise.`,
	Args: cobra.NoArgs,
	RunE: runConsole,
}

func runConsole(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, outputConsole)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	var trainer console.Trainer
	if runner, err := a.runner(); err == nil {
		trainer = runner
	} else {
		a.logger.Warn(ctx, "training disabled", zap.Error(err))
	}

	return console.Run(ctx, a.client, trainer, console.Options{
		PageSize:            a.cfg.Console.PageSize,
		DownloadDir:         a.cfg.Console.DownloadDir,
		NotificationTimeout: a.cfg.Console.NotificationTimeout.Duration(),
		Patience:            a.cfg.Insights.Patience,
		Logger:              a.logger,
	})
}
