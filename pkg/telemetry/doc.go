// Package telemetry provides observability instrumentation for the Aegis
// runtime.
//
// The package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus), and the append-only audit stream
// behind a single Sink that implements core.ObservabilitySink.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "aegis"
//	cfg.ServiceVersion = "1.0.0"
//
//	sink, err := telemetry.NewSink(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sink.Tracer().Shutdown(context.Background())
//
// Hand the sink to the runtime, which emits every log, trace, metric, and
// audit signal through it. Audit emission failures are surfaced to the
// caller; the other three signals never fail execution.
//
// # Structured Logging
//
// The logger provides component-specific logging with correlation fields:
//
//	logger := sink.Logger().NewComponentLogger("runtime")
//	logger = logger.WithRunID(runID).WithCorrelationID(correlationID)
//	logger.Info("run started")
//	logger.WithError(err).Error("run failed")
//
// # Testing
//
// MemorySink records all four signal kinds in memory and can be told to
// refuse audit events, which exercises the runtime's audit failure
// handling.
package telemetry
