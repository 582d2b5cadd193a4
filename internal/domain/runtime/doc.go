// Package runtime supervises the external services a plugin declares:
// docker-compose stacks, python helpers, and detached venv processes.
//
// The orchestrator resolves each service's environment, hands it to a
// type-specific backend, and reports per-service results so one broken
// service never blocks its siblings. Detached processes are tracked in
// a process table for the lifetime of the engine and reaped on exit.
package runtime
