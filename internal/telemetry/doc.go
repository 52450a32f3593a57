// Package telemetry provides OpenTelemetry tracing and metrics for accdd.
//
// # Overview
//
// Each CLI invocation creates one Telemetry instance. Cycle graph nodes run
// inside spans and the agent gateway records session counters. Data is
// exported over OTLP (gRPC or HTTP) to a collector.
//
// # Usage
//
//	tel, err := telemetry.New(ctx, cfg.Telemetry, logger)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
//	ctx, span := tel.Tracer("accdd/cycle").Start(ctx, "cycle.node.auditor")
//	defer span.End()
//
// # Configuration
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  protocol: grpc
//	  sample_rate: 1.0
//	  export_interval: 15s
//
// # Error Handling
//
// Exporter setup failures are logged and the instance falls back to the
// global no-op providers.
//
// # Testing
//
//	tt := telemetry.NewTestTelemetry()
//	_, span := tt.Tracer("test").Start(ctx, "test-span")
//	span.End()
//	tt.AssertSpanExists(t, "test-span")
package telemetry
