package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"defisync/internal/status"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, scope := range rm.ScopeMetrics {
		if scope.Scope.Name != FetchMetricsMeterName {
			continue
		}
		for _, m := range scope.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestNewFetchMetrics(t *testing.T) {
	t.Parallel()

	t.Run("returns nil when provider is nil", func(t *testing.T) {
		t.Parallel()

		metrics, err := NewFetchMetrics(nil)
		require.NoError(t, err)
		assert.Nil(t, metrics)
	})

	t.Run("nil metrics are a no-op", func(t *testing.T) {
		t.Parallel()

		var metrics *FetchMetrics
		metrics.RecordFetch(context.Background(), status.SectionDefiBalances, time.Second, true)
		metrics.RecordSubFetch(context.Background(), status.SectionDefiLending, "aave", false)
		metrics.RecordDeclined(context.Background(), status.SectionDefiLending, status.StatusLoading)
		metrics.ObserveRegistry(status.NewRegistry())()
	})
}

func TestFetchMetrics_Record(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	metrics, err := NewFetchMetrics(mp)
	require.NoError(t, err)
	require.NotNil(t, metrics)

	ctx := context.Background()
	metrics.RecordFetch(ctx, status.SectionDefiBalances, 2*time.Second, true)
	metrics.RecordSubFetch(ctx, status.SectionDefiLending, "aave_balances", true)
	metrics.RecordSubFetch(ctx, status.SectionDefiLending, "compound_balances", false)
	metrics.RecordDeclined(ctx, status.SectionDefiLending, status.StatusLoading)

	registry := status.NewRegistry()
	stop := metrics.ObserveRegistry(registry)
	registry.Set(status.StatusLoading, status.SectionDefiAirdrops)
	registry.Set(status.StatusLoaded, status.SectionDefiAirdrops)
	stop()
	registry.Reset(status.SectionDefiAirdrops)

	got := collect(t, reader)

	duration, ok := got["defisync_fetch_duration_seconds"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, duration.DataPoints, 1)
	assert.Equal(t, uint64(1), duration.DataPoints[0].Count)

	subs, ok := got["defisync_sub_fetches_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Len(t, subs.DataPoints, 2)

	transitions, ok := got["defisync_status_transitions_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	for _, dp := range transitions.DataPoints {
		total += dp.Value
	}
	assert.Equal(t, int64(2), total)
}

func TestNewProvider(t *testing.T) {
	t.Parallel()

	t.Run("disabled returns no handler", func(t *testing.T) {
		t.Parallel()

		p, err := NewProvider(context.Background(), false, "test")
		require.NoError(t, err)
		assert.NotNil(t, p.MeterProvider)
		assert.Nil(t, p.Handler)
		assert.NoError(t, p.Shutdown(context.Background()))
	})

	t.Run("enabled exposes prometheus handler", func(t *testing.T) {
		t.Parallel()

		p, err := NewProvider(context.Background(), true, "test")
		require.NoError(t, err)
		defer func() { _ = p.Shutdown(context.Background()) }()

		metrics, err := NewFetchMetrics(p.MeterProvider)
		require.NoError(t, err)
		metrics.RecordFetch(context.Background(), status.SectionDefiBalances, time.Second, true)

		rec := httptest.NewRecorder()
		p.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "defisync_fetch_duration_seconds")
	})
}
