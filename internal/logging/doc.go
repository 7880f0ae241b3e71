// Package logging provides structured logging for rasac.
//
// It wraps Zap with:
//   - Trace (-2) and Quiet (above Fatal) levels
//   - Stdout, file and OpenTelemetry outputs
//   - An atomic level shared by child loggers, changed at runtime by
//     config hot reload
//   - Context correlation fields (trace_id, model.id, request.id)
//   - Field and pattern based secret redaction
//   - Sampling below Error
//
// The terminal console owns stdout, so it logs to a file or runs quiet:
//
//	cfg, err := logging.FromSettings(appCfg.Logging)
//	logger, err := logging.NewLogger(cfg, nil)
//	defer logger.Close()
//
//	ctx = logging.WithModelID(ctx, "20240101-120000.tar.gz")
//	logger.Info(ctx, "curve fetched", zap.Int("epochs", n))
package logging
