// Package observability provides structured logging, Prometheus metrics,
// health probes, OpenTelemetry tracing and graceful shutdown for the
// analytics service.
//
// # Structured Logging
//
// Create the process logger:
//
//	log, err := observability.NewLogger("info", observability.LogFormatJSON, os.Stderr)
//	log.WithField("metric", "donations").WithContext(ctx).Error("trend analysis failed")
//
// Entries logged with a context carrying an active span get trace_id and
// span_id fields.
//
// # Prometheus Metrics
//
// Metrics implements analytics.Recorder, so it can be handed straight to the
// cached engine:
//
//	metrics := observability.NewMetrics(registry)
//	reports := analytics.NewCachedEngine(engine, store, analytics.WithRecorder(metrics))
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	observability.RegisterHealthRoutes(router, checker)
//
// /healthz is a liveness probe. /readyz returns 503 only when the database is
// unreachable; a Redis outage reports degraded.
//
// # Ops Server Middleware
//
//	router.Use(observability.RecoveryMiddleware(log), observability.LoggingMiddleware(log))
//	router.Use(observability.HTTPMetricsMiddleware(metrics))
//
// # OpenTelemetry
//
//	tp, err := observability.InitTracing(ctx, cfg, log)
//	defer observability.ShutdownTracing(ctx, tp, log)
package observability
