// Package logging provides structured logging for agentd.
//
// It wraps Zap with:
//   - Custom Trace level (-2, below Debug)
//   - Dual output (stdout + OpenTelemetry bridge)
//   - Automatic context field injection (trace_id, request.id, conversation.id)
//
// Create a logger from config:
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg, otelProvider)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
// Log with context:
//
//	ctx = logging.WithRequestID(ctx, "req_123")
//	logger.Info(ctx, "request completed", zap.Duration("duration", d))
//
// Logger is safe for concurrent use. Child loggers (With, Named) are
// independent and do not affect parent or siblings. Use TestLogger in tests
// to assert on emitted entries.
package logging
