package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/rasac/internal/console"
	"github.com/fyrsmithlabs/rasac/internal/pipeline"
	"github.com/fyrsmithlabs/rasac/internal/trainqueue"
)

var (
	// trainTesting asks the backend to run NLU testing after training
	trainTesting bool
	// trainFrom retrains with the configuration of an existing model
	trainFrom string
	// queueLimit caps the number of journal entries shown
	queueLimit int
	// queuePrune removes finished entries older than this
	queuePrune time.Duration
)

func init() {
	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(abortCmd)
	rootCmd.AddCommand(queueCmd)

	trainCmd.Flags().BoolVar(&trainTesting, "testing", false, "run NLU testing after training")
	trainCmd.Flags().StringVar(&trainFrom, "from", "", "retrain with the configuration of this model")
	queueCmd.Flags().IntVarP(&queueLimit, "limit", "n", 20, "number of entries to show")
	queueCmd.Flags().DurationVar(&queuePrune, "prune", 0, "remove finished entries older than this")
}

var trainCmd = &cobra.Command{
	Use:   "train [config-file]",
	Short: "Train a model and wait for it to finish",
	Long: `Train a model from a pipeline/policy configuration file (YAML, TOML
or JSON) or from the configuration of an existing model, and wait until
the backend finishes.

The request is recorded in the local training journal so that
'rasac abort' can cancel it from another terminal.

Examples:
  rasac train config.yml
  rasac train --from 20240101-120000.tar.gz --testing`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTrain,
}

func runTrain(cmd *cobra.Command, args []string) error {
	if (len(args) == 0) == (trainFrom == "") {
		return fmt.Errorf("pass either a config file or --from")
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, outputCLI)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	var configs map[string]any
	if trainFrom != "" {
		configs, err = a.client.ModelConfig(ctx, trainFrom)
	} else {
		configs, err = pipeline.Load(args[0])
	}
	if err != nil {
		return err
	}

	runner, err := a.runner()
	if err != nil {
		return err
	}
	requestID := runner.NewRequestID()
	fmt.Fprintf(cmd.OutOrStdout(), "Training %s (components: %s)\n", requestID, describeComponents(configs))

	res, err := runner.StartWithID(ctx, requestID, configs, trainTesting)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Trained %s in %s\n", res.ModelID, console.FormatDuration(res.Duration))
	return nil
}

var abortCmd = &cobra.Command{
	Use:   "abort [request_id]",
	Short: "Abort a training run (default: the latest running)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, outputCLI)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		runner, err := a.runner()
		if err != nil {
			return err
		}
		var requestID string
		if len(args) > 0 {
			requestID = args[0]
		}
		id, _, err := runner.Abort(ctx, requestID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Aborted %s\n", id)
		return nil
	},
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show the local training journal",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, outputCLI)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		q, err := a.openQueue()
		if err != nil {
			return err
		}
		if queuePrune > 0 {
			n, err := q.Prune(ctx, queuePrune)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d entries\n", n)
		}
		entries, err := q.List(ctx, queueLimit)
		if err != nil {
			return err
		}
		return writeQueueTable(cmd.OutOrStdout(), entries, time.Now())
	},
}

// describeComponents lists the pipeline components and policies with
// their epochs, when configured.
func describeComponents(cfg map[string]any) string {
	epochs := pipeline.Epochs(cfg)
	names := pipeline.Components(cfg)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name
		if n, ok := epochs[name]; ok {
			parts[i] = fmt.Sprintf("%s (%d epochs)", name, n)
		}
	}
	return strings.Join(parts, ", ")
}

func writeQueueTable(w io.Writer, entries []*trainqueue.Entry, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "REQUEST\tSTATUS\tSTARTED\tDURATION\tMODEL\tERROR\t")
	for _, e := range entries {
		model := e.ModelID
		if model == "" {
			model = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t\n",
			e.RequestID, e.Status, e.StartedAt.Format("2006-01-02 15:04:05"),
			console.FormatDuration(e.Duration(now)), model, e.Error)
	}
	return tw.Flush()
}
