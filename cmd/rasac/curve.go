package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/rasac/internal/console"
	"github.com/fyrsmithlabs/rasac/internal/curve"
	"github.com/fyrsmithlabs/rasac/internal/insights"
)

var (
	// curvePatience is the patience interval, 0 for insights.patience
	curvePatience int
	// curveJSON prints the insights response as JSON
	curveJSON bool
	// curveNATS asks a running "rasac serve" over NATS instead of computing locally
	curveNATS bool
)

func init() {
	rootCmd.AddCommand(curveCmd)
	curveCmd.Flags().IntVarP(&curvePatience, "patience", "p", 0,
		fmt.Sprintf("patience interval %d-%d (default insights.patience)", curve.MinPatience, curve.MaxPatience))
	curveCmd.Flags().BoolVar(&curveJSON, "json", false, "print the insights as JSON")
	curveCmd.Flags().BoolVar(&curveNATS, "nats", false, "compute on a running insights service via nats.url")
}

var curveCmd = &cobra.Command{
	Use:   "curve [model_id]",
	Short: "Plot learning curves and the best epoch of a model",
	Long: `Fetch the learning curves of a model (default: the latest) and print
sparklines of the loss and accuracy curves with the best epoch.

The best epoch is the lowest test loss seen before the test loss breaks
above the train-loss Bollinger band without recovering within the
patience interval. Models with fewer than 50 epochs have no insights.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCurve,
}

func runCurve(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, outputCLI)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	modelID, err := modelArg(cmd, a, args)
	if err != nil {
		return err
	}

	series, err := a.client.Curve(ctx, modelID)
	if err != nil {
		return err
	}

	req := &insights.Request{ModelID: modelID, CurveData: series}
	if cmd.Flags().Changed("patience") {
		req.Patience = &curvePatience
	}
	var resp *insights.Response
	if curveNATS {
		resp, err = remoteInsights(cmd, a, req)
	} else {
		resp, err = localInsights(cmd, a, req)
	}
	if err != nil {
		return err
	}
	if curveJSON {
		return writeJSON(cmd.OutOrStdout(), resp)
	}
	printCurve(cmd.OutOrStdout(), series, resp)
	return nil
}

func localInsights(cmd *cobra.Command, a *app, req *insights.Request) (*insights.Response, error) {
	svc, err := insights.NewService(a.cfg.Insights.Patience,
		insights.WithLogger(a.logger),
		insights.WithTelemetry(a.tel))
	if err != nil {
		return nil, err
	}
	return svc.Compute(cmd.Context(), "cli", req)
}

func remoteInsights(cmd *cobra.Command, a *app, req *insights.Request) (*insights.Response, error) {
	nc, err := insights.Connect(a.cfg.NATS, a.logger)
	if err != nil {
		return nil, fmt.Errorf("nats: %w", err)
	}
	defer nc.Close()

	reply, err := insights.Ask(cmd.Context(), nc, a.cfg.NATS.Subject, req)
	if err != nil {
		return nil, err
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("insights service (%d): %s", reply.Code, reply.Error)
	}
	if reply.Response == nil {
		return nil, errors.New("insights service sent an empty reply")
	}
	return reply.Response, nil
}

func printCurve(w io.Writer, s *curve.Series, resp *insights.Response) {
	fmt.Fprintf(w, "%s  %d epochs\n\n", resp.ModelID, s.Len())
	rows := []struct {
		label  string
		values []float64
	}{
		{"train loss", s.TrainLoss},
		{"test loss ", s.TestLoss},
		{"train acc ", s.TrainAcc},
		{"test acc  ", s.TestAcc},
	}
	for _, r := range rows {
		fmt.Fprintf(w, "%s  %.4f\n%s\n", r.label, curve.Last(r.values), console.Sparkline(r.values, 0))
	}

	fmt.Fprintln(w)
	if !resp.Available {
		fmt.Fprintln(w, resp.Reason)
		return
	}
	fmt.Fprintf(w, "best epoch %d (patience %d)", resp.BestEpoch, resp.Patience)
	if in := resp.Insights; in != nil && in.BestTestLoss != nil {
		fmt.Fprintf(w, ", test loss %.4f", *in.BestTestLoss)
	}
	fmt.Fprintln(w)
}
