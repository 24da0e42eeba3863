// Package audit contains durable in-product audit writes for board service operations.
//
// This package owns persisted operational telemetry events that are used for
// fraud posture, incident analysis, and admission debugging.
//
// For distributed tracing, this service still uses package `internal/platform/otel`.
package audit
