// Package telemetry provides observability for stack operations.
//
// It integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus) and operation notifications into one
// Telemetry value that a workspace carries.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	cfg.Logging.Level = "debug"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	ws, err := auto.NewLocalWorkspace(ctx, auto.WithTelemetry(tel))
//
// # Structured Logging
//
// Loggers carry the stack and operation they belong to:
//
//	logger := tel.Logger.NewComponentLogger("workspace")
//	logger.WithStack("org/web/dev").WithOperation("update", opID).Info("Starting update")
//
// Packages that only need a zerolog.Logger take Logger.Zerolog().
//
// # Tracing
//
// Every lifecycle operation runs inside a "stack.<kind>" span. Engine events
// are attached to the span as span events, and failures carry the error kind
// and code as attributes. Exporters: otlp (gRPC), stdout, none.
//
// # Metrics
//
// Metrics cover operations (started, completed, duration, active), engine
// processes (Metrics implements runner.Recorder), decoded and skipped engine
// events, configuration writes, guard decisions, and errors by kind and code.
// Metrics.StartMetricsServer exposes them over HTTP when a listen address is
// configured.
//
// # Notifications
//
// Publisher delivers operation.started, operation.succeeded,
// operation.failed, stack.created, stack.removed and policy.violation
// notifications to subscribers, either inline or from a background goroutine.
package telemetry
