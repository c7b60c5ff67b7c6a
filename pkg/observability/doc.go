// Package observability provides logging, metrics, health checks, tracing
// and graceful-shutdown support for the Gatehouse service.
//
// Logging uses a structured JSON slog wrapper; metrics are Prometheus
// collectors registered against an injected registry so they are scoped per
// instance and testable in isolation.
package observability
