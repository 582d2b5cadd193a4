// Package monitoring provides Prometheus metrics for the plugin engine.
//
// Metrics cover the install pipeline (installs, downloads, retries,
// validations), service runtime operations (per backend and operation),
// and the HTTP/WebSocket surface. A Gin middleware records request
// counts, latencies, and sizes; a Timer helper wraps service runtime
// operations.
//
// Example Usage:
//
//	metrics := monitoring.NewMetrics()
//	router.Use(monitoring.Middleware(metrics))
//
//	timer := monitoring.NewTimer(metrics, "venv_process", "start")
//	err := backend.Start(ctx, svc)
//	timer.Stop(statusLabel(err))
package monitoring
