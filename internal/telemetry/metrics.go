// Package telemetry provides OpenTelemetry instrumentation for fetch orchestration.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"defisync/internal/status"
)

const (
	// FetchMetricsMeterName is the name used for the fetch metrics meter
	FetchMetricsMeterName = "defisync/fetch"
)

// FetchMetrics holds the OpenTelemetry instruments for guarded fetches
type FetchMetrics struct {
	fetchDuration    metric.Float64Histogram
	subFetchTotal    metric.Int64Counter
	declinedTotal    metric.Int64Counter
	transitionsTotal metric.Int64Counter
}

// NewFetchMetrics creates a new FetchMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewFetchMetrics(provider metric.MeterProvider) (*FetchMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(FetchMetricsMeterName)

	fetchDuration, err := meter.Float64Histogram(
		"defisync_fetch_duration_seconds",
		metric.WithDescription("Duration of guarded section fetches in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, err
	}

	subFetchTotal, err := meter.Int64Counter(
		"defisync_sub_fetches_total",
		metric.WithDescription("Number of settled sub-fetches of fan-out groups"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		return nil, err
	}

	declinedTotal, err := meter.Int64Counter(
		"defisync_fetches_declined_total",
		metric.WithDescription("Number of fetches declined because the section was in flight or loaded"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		return nil, err
	}

	transitionsTotal, err := meter.Int64Counter(
		"defisync_status_transitions_total",
		metric.WithDescription("Number of section status transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	return &FetchMetrics{
		fetchDuration:    fetchDuration,
		subFetchTotal:    subFetchTotal,
		declinedTotal:    declinedTotal,
		transitionsTotal: transitionsTotal,
	}, nil
}

// RecordFetch records the duration and outcome of a guarded fetch
func (m *FetchMetrics) RecordFetch(ctx context.Context, section status.Section, duration time.Duration, success bool) {
	if m == nil || m.fetchDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("section", string(section)),
		attribute.Bool("success", success),
	}

	m.fetchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordSubFetch counts a settled sub-fetch of a fan-out group
func (m *FetchMetrics) RecordSubFetch(ctx context.Context, section status.Section, name string, success bool) {
	if m == nil || m.subFetchTotal == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("section", string(section)),
		attribute.String("sub_fetch", name),
		attribute.Bool("success", success),
	}

	m.subFetchTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordDeclined counts a fetch the re-entrancy guard declined
func (m *FetchMetrics) RecordDeclined(ctx context.Context, section status.Section, current status.Status) {
	if m == nil || m.declinedTotal == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("section", string(section)),
		attribute.String("status", current.String()),
	}

	m.declinedTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// ObserveRegistry counts every status transition of the registry. The
// returned function stops the observation.
func (m *FetchMetrics) ObserveRegistry(r *status.Registry) func() {
	if m == nil || m.transitionsTotal == nil {
		return func() {}
	}

	return r.Subscribe(func(c status.Change) {
		attrs := []attribute.KeyValue{
			attribute.String("section", string(c.Section)),
			attribute.String("to", c.To.String()),
		}
		m.transitionsTotal.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	})
}
