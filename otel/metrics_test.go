// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, r *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, r.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sum(t *testing.T, agg metricdata.Aggregation) int64 {
	t.Helper()

	s, ok := agg.(metricdata.Sum[int64])
	require.True(t, ok, "not an int64 sum: %T", agg)
	var total int64
	for _, dp := range s.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetricsRecord(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetricsFrom(mp)
	require.NoError(t, err)

	m.RecordPublish(128, time.Millisecond, false)
	m.RecordPublish(128, time.Millisecond, false)
	m.RecordPublish(128, 0, true)
	m.RecordRetry()
	m.RecordReceived(128)
	m.RecordMigration("publisher", ResultSuccess, 40*time.Millisecond)
	m.RecordMigration("publisher", ResultRejected, 0)
	m.RecordStall()
	m.RecordLoss("foo", 0.5)

	data := collect(t, reader)
	assert.Equal(t, int64(2), sum(t, data["lossbench.messages.published.total"]))
	assert.Equal(t, int64(1), sum(t, data["lossbench.publish.errors.total"]))
	assert.Equal(t, int64(256), sum(t, data["lossbench.bytes.sent.total"]))
	assert.Equal(t, int64(1), sum(t, data["lossbench.publish.retries.total"]))
	assert.Equal(t, int64(1), sum(t, data["lossbench.messages.received.total"]))
	assert.Equal(t, int64(2), sum(t, data["lossbench.migrations.total"]))
	assert.Equal(t, int64(1), sum(t, data["lossbench.stalls.total"]))

	hist, ok := data["lossbench.migration.duration.ms"].(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
}

func TestNewMetricsGlobal(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)
	m.RecordDelay(time.Millisecond)
	m.RecordPause()
}
