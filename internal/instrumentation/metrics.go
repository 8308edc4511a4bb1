package instrumentation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys.
const (
	attrOperation = "operation"
	attrResult    = "result"
	attrReason    = "reason"
)

// Result values for operation metrics.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Metrics records the broker's observability metrics. The zero value is
// a no-op recorder, used when instrumentation is disabled.
type Metrics struct {
	operationsTotal   metric.Int64Counter
	operationDuration metric.Float64Histogram
	upstreamTotal     metric.Int64Counter
	authFailuresTotal metric.Int64Counter
	rateLimitedTotal  metric.Int64Counter
	refreshTotal      metric.Int64Counter
}

// NewMetrics creates a Metrics instance with all instruments registered
// on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.operationsTotal, err = meter.Int64Counter(
		"broker_operations_total",
		metric.WithDescription("Total number of broker operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating broker_operations_total: %w", err)
	}

	m.operationDuration, err = meter.Float64Histogram(
		"broker_operation_duration_seconds",
		metric.WithDescription("Broker operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return nil, fmt.Errorf("creating broker_operation_duration_seconds: %w", err)
	}

	m.upstreamTotal, err = meter.Int64Counter(
		"upstream_operations_total",
		metric.WithDescription("Total number of upstream provider calls"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating upstream_operations_total: %w", err)
	}

	m.authFailuresTotal, err = meter.Int64Counter(
		"auth_failures_total",
		metric.WithDescription("Total number of rejected authentications"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating auth_failures_total: %w", err)
	}

	m.rateLimitedTotal, err = meter.Int64Counter(
		"rate_limited_total",
		metric.WithDescription("Total number of rate-limited requests"),
		metric.WithUnit("{rejection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating rate_limited_total: %w", err)
	}

	m.refreshTotal, err = meter.Int64Counter(
		"credential_refresh_total",
		metric.WithDescription("Total number of upstream credential refreshes"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating credential_refresh_total: %w", err)
	}

	return m, nil
}

// RecordOperation records one broker operation with its outcome and
// duration.
func (m *Metrics) RecordOperation(ctx context.Context, operation string, err error, duration time.Duration) {
	if m.operationsTotal == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultError
	}
	attrs := metric.WithAttributes(
		attribute.String(attrOperation, operation),
		attribute.String(attrResult, result),
	)
	m.operationsTotal.Add(ctx, 1, attrs)
	m.operationDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordUpstream records one upstream provider call.
func (m *Metrics) RecordUpstream(ctx context.Context, operation string, err error) {
	if m.upstreamTotal == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultError
	}
	m.upstreamTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrOperation, operation),
		attribute.String(attrResult, result),
	))
}

// RecordAuthFailure records one rejected authentication with its reason.
func (m *Metrics) RecordAuthFailure(ctx context.Context, reason string) {
	if m.authFailuresTotal == nil {
		return
	}
	m.authFailuresTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrReason, reason),
	))
}

// RecordRateLimited records one rate-limited request.
func (m *Metrics) RecordRateLimited(ctx context.Context) {
	if m.rateLimitedTotal == nil {
		return
	}
	m.rateLimitedTotal.Add(ctx, 1)
}

// RecordRefresh records one credential refresh attempt.
func (m *Metrics) RecordRefresh(ctx context.Context, err error) {
	if m.refreshTotal == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultError
	}
	m.refreshTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrResult, result),
	))
}
