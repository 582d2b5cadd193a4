// Package middleware holds the gin middleware shared by every engine
// route: cross-origin policy and ingress rate limiting. Request
// correlation lives in infrastructure/tracing and metrics collection
// in infrastructure/monitoring.
package middleware
