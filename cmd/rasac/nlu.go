package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// nluIntent limits the output to one intent
	nluIntent string
	// nluJSON prints raw JSON
	nluJSON bool
)

func init() {
	rootCmd.AddCommand(nluCmd)
	nluCmd.Flags().StringVarP(&nluIntent, "intent", "i", "", "only show examples of this intent")
	nluCmd.Flags().BoolVar(&nluJSON, "json", false, "print JSON")
}

var nluCmd = &cobra.Command{
	Use:   "nlu",
	Short: "Show the NLU testing examples per intent",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, outputCLI)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		data, err := a.client.NLUData(ctx)
		if err != nil {
			return err
		}
		if nluIntent != "" {
			examples, ok := data[nluIntent]
			if !ok {
				return fmt.Errorf("unknown intent %q", nluIntent)
			}
			data = map[string][]string{nluIntent: examples}
		}
		if nluJSON {
			return writeJSON(cmd.OutOrStdout(), data)
		}

		w := cmd.OutOrStdout()
		for _, intent := range data.Intents() {
			fmt.Fprintf(w, "%s (%d)\n", intent, len(data[intent]))
			for _, ex := range data[intent] {
				fmt.Fprintf(w, "  - %s\n", ex)
			}
		}
		return nil
	},
}
