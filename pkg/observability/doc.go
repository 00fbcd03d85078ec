// Package observability provides logging, metrics, health checks, and
// tracing for the gateway.
//
// # Logging
//
// Structured JSON logging over stdlib slog:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithComponent("redcap").WithField("status", 200).Info("request complete")
//
// # Metrics
//
// A prometheus.Registry with the gateway's metric set. Outbound REDCap
// calls are timed with an explicit wrapper composed at the call site:
//
//	err := metrics.TimeREDCapRequest("fetch_participant", func() error {
//		return doFetch(ctx)
//	})
//
// # Health
//
// HealthChecker aggregates named dependency probes for the readiness
// endpoint; Monitor re-runs them on a cron schedule and publishes
// musher_dependency_up gauges.
//
// # Tracing
//
// Optional OpenTelemetry providers exporting over OTLP/gRPC; the outbound
// REDCap HTTP client wraps its transport with otelhttp.
package observability
