// Package observability carries the ambient plumbing shared by the
// entitlements service and its jobs: structured JSON logging on top of
// log/slog, Prometheus metrics for resolution, caching, usage and
// overrides, OpenTelemetry tracer and meter setup, health probes, and
// graceful shutdown.
//
// Logging:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithComponent("resolver").ForSubject(userID, orgID).Info("resolved")
//
// Loggers can be carried on a context with WithLogger and recovered with
// FromContext, which also attaches the request and user IDs.
//
// Metrics:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	router.Use(observability.HTTPMetricsMiddleware(metrics))
//	router.Handle("/metrics", observability.MetricsHandler(registry))
//
// Health:
//
//	health := observability.NewHealthChecker(version, db, redisClient)
//	health.AddCheck("catalog", true, catalogLoaded)
//
// Readiness returns 503 only when a critical check fails; non-critical
// failures (redis) report "degraded" with 200.
package observability
