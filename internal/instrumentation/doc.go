// Package instrumentation wires OpenTelemetry metrics for the broker.
// Metrics are collected through an otel meter and exposed via the
// Prometheus exporter, which registers against the global Prometheus
// registry served by the dedicated metrics listener.
package instrumentation
