// Package http exposes the plugin engine's REST surface. Handlers
// validate inputs, delegate to the lifecycle dispatcher and service
// runner, and write a uniform JSON envelope: {status, message, data}
// on success, {status, message, step, suggestions, details} on
// failure, with HTTP status codes derived from sentinel errors.
package http
