// Package telemetry provides OpenTelemetry instrumentation for agentd.
//
// It implements distributed tracing and metrics collection using the
// OpenTelemetry Go SDK, exporting to an OTLP collector over gRPC or
// HTTP/protobuf.
//
// Create a telemetry instance:
//
//	cfg := telemetry.NewDefaultConfig()
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(ctx)
//
// Use tracer and meter:
//
//	tracer := tel.Tracer("agentd.pipeline")
//	ctx, span := tracer.Start(ctx, "step.gather_context")
//	defer span.End()
//
// Telemetry failures never crash the daemon. If a provider cannot be
// initialized the instance degrades to no-op providers and records the
// degradation in its health status.
//
// Use TestTelemetry with in-memory exporters in tests.
package telemetry
