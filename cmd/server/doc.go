// Package main is the entry point for the BrainDrive plugin engine.
//
// The engine acquires plugin archives from GitHub releases or local
// uploads, validates their lifecycle manifests, stages versioned
// installs in shared storage, and supervises the backend services
// plugins declare.
//
// The server provides:
//   - REST API for plugin install, update, and uninstall
//   - Background service start/stop/restart with health probes
//   - WebSocket event stream for lifecycle and service events
//   - Prometheus metrics and structured request logging
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//   - Defaults for development
//
// Usage:
//
//	# Production mode
//	./server -port 8005 -plugins-dir /var/lib/braindrive/plugins
//
//	# Development mode (colored logs, debug level)
//	./server -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
