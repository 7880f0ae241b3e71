package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/rasac/internal/config"
	"github.com/fyrsmithlabs/rasac/internal/insights"
	"github.com/fyrsmithlabs/rasac/internal/logging"
)

var (
	// serveHost overrides server.host
	serveHost string
	// servePort overrides server.port
	servePort int
	// serveNATS enables the NATS responder regardless of nats.enabled
	serveNATS bool
	// serveWatch reloads patience and log level when the config changes
	serveWatch bool
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (default server.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (default server.port)")
	serveCmd.Flags().BoolVar(&serveNATS, "nats", false, "answer insights requests over NATS")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", true, "reload the config file on change")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve best-epoch insights over HTTP and NATS",
	Long: `Serve the epoch selector to other tools.

HTTP:
  POST /api/v1/insights            {"curve_data": {...}, "patience_interval": 10}
  POST /api/v1/insights/:model_id  fetch the curve from the backend first
  GET  /health
  GET  /metrics                    Prometheus

NATS (with --nats or nats.enabled): request/reply on nats.subject with
the same JSON body.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, outputServer)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	metrics := insights.NewMetrics()
	svc, err := insights.NewService(a.cfg.Insights.Patience,
		insights.WithFetcher(a.client),
		insights.WithMetrics(metrics),
		insights.WithLogger(a.logger),
		insights.WithTelemetry(a.tel))
	if err != nil {
		return err
	}

	serverCfg := &insights.ServerConfig{
		Host:            a.cfg.Server.Host,
		Port:            a.cfg.Server.Port,
		ShutdownTimeout: a.cfg.Server.ShutdownTimeout.Duration(),
		Version:         version,
	}
	if serveHost != "" {
		serverCfg.Host = serveHost
	}
	if servePort != 0 {
		serverCfg.Port = servePort
	}
	srv, err := insights.NewServer(svc, metrics, a.tel, a.logger, serverCfg)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx) })

	if serveNATS || a.cfg.NATS.Enabled {
		stop, err := startResponder(ctx, a, svc)
		if err != nil {
			return err
		}
		g.Go(func() error {
			<-ctx.Done()
			return stop()
		})
	}

	if serveWatch {
		path := configPath
		if path == "" {
			if path, err = config.DefaultPath(); err != nil {
				return err
			}
		}
		reloader := insights.NewReloader(svc, a.logger).WithOverrides(applyFlags)
		g.Go(func() error {
			if err := reloader.Watch(ctx, path); err != nil {
				a.logger.Warn(ctx, "config reload disabled", zap.Error(err))
			}
			return nil
		})
	}

	a.logger.Info(ctx, "insights service started",
		zap.String("addr", srv.Addr()),
		zap.String("api", a.client.BaseURL()),
		zap.Int("default_patience", svc.DefaultPatience()))
	return g.Wait()
}

// startResponder connects to NATS and answers insights requests until the
// returned stop function is called.
func startResponder(ctx context.Context, a *app, svc *insights.Service) (func() error, error) {
	nc, err := insights.Connect(a.cfg.NATS, a.logger)
	if err != nil {
		return nil, fmt.Errorf("nats: %w", err)
	}
	r, err := insights.NewResponder(nc, svc, a.cfg.NATS.Subject, a.cfg.NATS.Queue, a.logger)
	if err != nil {
		nc.Close()
		return nil, err
	}
	if err := r.Start(); err != nil {
		nc.Close()
		return nil, err
	}
	a.logger.Info(ctx, "nats responder started",
		zap.String("subject", a.cfg.NATS.Subject),
		logging.Secret("token", a.cfg.NATS.Token))
	return func() error {
		defer nc.Close()
		return r.Stop()
	}, nil
}
