package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/rasac/internal/botstore"
	"github.com/fyrsmithlabs/rasac/internal/console"
	"github.com/fyrsmithlabs/rasac/internal/pipeline"
)

var (
	// modelsJSON prints raw JSON instead of a table
	modelsJSON bool
	// downloadDir is where models download writes archives
	downloadDir string
	// configFormat is the output format of models config
	configFormat string
	// deleteYes skips the delete confirmation
	deleteYes bool
)

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.AddCommand(modelsListCmd)
	modelsCmd.AddCommand(modelsLatestCmd)
	modelsCmd.AddCommand(modelsDeleteCmd)
	modelsCmd.AddCommand(modelsDownloadCmd)
	modelsCmd.AddCommand(modelsConfigCmd)

	modelsListCmd.Flags().BoolVar(&modelsJSON, "json", false, "print JSON")
	modelsDeleteCmd.Flags().BoolVarP(&deleteYes, "yes", "y", false, "do not ask for confirmation")
	modelsDownloadCmd.Flags().StringVarP(&downloadDir, "output", "o", "", "download directory (default console.download_dir)")
	modelsConfigCmd.Flags().StringVar(&configFormat, "format", "yaml", "output format: yaml, toml or json")
}

// modelsCmd is the parent command for model operations
var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List, inspect, download and delete trained models",
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List trained models, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), outputCLI)
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		list, err := a.client.ListModels(cmd.Context())
		if err != nil {
			return err
		}
		if modelsJSON {
			return writeJSON(cmd.OutOrStdout(), list)
		}
		return writeModelTable(cmd.OutOrStdout(), list)
	},
}

var modelsLatestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Print the id of the latest model",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), outputCLI)
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		id, err := a.client.LatestModel(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}

var modelsDeleteCmd = &cobra.Command{
	Use:   "delete <model_id>",
	Short: "Delete a model archive from the backend",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !deleteYes && !confirm(cmd, fmt.Sprintf("Delete %s?", args[0])) {
			return fmt.Errorf("aborted")
		}

		a, err := newApp(cmd.Context(), outputCLI)
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		list, err := a.client.DeleteModel(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s, %d models left\n", args[0], len(list.Models))
		return nil
	},
}

var modelsDownloadCmd = &cobra.Command{
	Use:   "download [model_id]",
	Short: "Download a model archive (default: the latest model)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), outputCLI)
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		modelID, err := modelArg(cmd, a, args)
		if err != nil {
			return err
		}
		dir := downloadDir
		if dir == "" {
			dir = a.cfg.Console.DownloadDir
		}
		path, n, err := a.client.SaveModel(cmd.Context(), modelID, dir)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%s)\n", path, console.FormatSize(n))
		return nil
	},
}

var modelsConfigCmd = &cobra.Command{
	Use:   "config [model_id]",
	Short: "Print the pipeline and policies a model was trained with",
	Long: `Print the pipeline and policy configuration a model was trained with.
The output can be edited and passed to 'rasac train'.

Examples:
  rasac models config > config.yml
  rasac models config 20240101-120000.tar.gz --format toml`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := pipeline.ParseFormat(configFormat)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), outputCLI)
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		modelID, err := modelArg(cmd, a, args)
		if err != nil {
			return err
		}
		cfg, err := a.client.ModelConfig(cmd.Context(), modelID)
		if err != nil {
			return err
		}
		out, err := pipeline.Marshal(cfg, format)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

// modelArg returns the model id argument, or the latest model.
func modelArg(cmd *cobra.Command, a *app, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	return a.client.LatestModel(cmd.Context())
}

func writeModelTable(w io.Writer, list *botstore.ModelList) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tTRAINED\tEPOCHS\tTRAIN ACC\tTEST ACC\tTRAIN LOSS\tTEST LOSS\t")
	for _, s := range list.Models {
		id := s.ModelID
		if id == list.Latest {
			id += " *"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			id, console.FormatTrainedAt(s.ModelID), console.FormatEpochs(s.Epochs),
			s.TrainAcc, s.TestAcc, s.TrainLoss, s.TestLoss)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// confirm asks a yes/no question on the command's input.
func confirm(cmd *cobra.Command, question string) bool {
	fmt.Fprintf(cmd.OutOrStdout(), "%s [y/N] ", question)
	var answer string
	if _, err := fmt.Fscanln(cmd.InOrStdin(), &answer); err != nil {
		return false
	}
	return answer == "y" || answer == "Y" || answer == "yes"
}
