// Package types provides shared data structures for the plugin engine.
//
// This package defines core types used across all engine components,
// ensuring type safety and consistent data structures.
//
// Core Types:
//   - Plugin: Installed plugin row (one per owning user and slug)
//   - Module: Frontend module contributed by a plugin
//   - ServiceRuntime: Declared plugin service and its runtime state
//   - Manifest: Declarative lifecycle contract shipped inside a plugin
//   - Result: Standard lifecycle operation result
//   - OpError: Step-tagged operation failure with remediation hints
//
// Request Types:
//   - InstallRequest, ServiceActionRequest: HTTP operation payloads
//   - Event: WebSocket broadcast notification
//
// State Management:
//   - PluginStatus: Plugin row state enum (pending, activated, error)
//   - ServiceStatus: Service runtime state enum (pending, stopped, running)
//   - ValidationMode: Manifest validation outcome (full, degraded)
//
// Example Usage:
//
//	plugin := &types.Plugin{
//	    ID:     string(id.NewPluginID()),
//	    Slug:   "network-eyes",
//	    Status: types.PluginActivated,
//	}
package types
