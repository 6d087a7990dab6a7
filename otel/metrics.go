// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "lossbench"

// Migration outcomes.
const (
	ResultSuccess  = "success"
	ResultFailure  = "failure"
	ResultRejected = "rejected"
)

// Metrics holds OpenTelemetry instruments for a benchmark run.
type Metrics struct {
	meter metric.Meter

	// Counters
	published      metric.Int64Counter
	publishErrors  metric.Int64Counter
	publishRetries metric.Int64Counter
	received       metric.Int64Counter
	bytesSent      metric.Int64Counter
	bytesReceived  metric.Int64Counter
	migrations     metric.Int64Counter
	stalls         metric.Int64Counter
	pauses         metric.Int64Counter

	// Histograms
	publishDuration   metric.Float64Histogram
	migrationDuration metric.Float64Histogram
	sendDelay         metric.Float64Histogram
	lossPercent       metric.Float64Histogram
}

// NewMetrics creates instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsFrom(otel.GetMeterProvider())
}

// NewMetricsFrom creates instruments on mp.
func NewMetricsFrom(mp metric.MeterProvider) (*Metrics, error) {
	m := &Metrics{meter: mp.Meter(meterName)}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.published, "lossbench.messages.published.total", "Payload messages accepted by the transport"},
		{&m.publishErrors, "lossbench.publish.errors.total", "Payload publishes that failed and were counted as sent"},
		{&m.publishRetries, "lossbench.publish.retries.total", "Publishes retried after a concurrent migration"},
		{&m.received, "lossbench.messages.received.total", "Payload messages received"},
		{&m.bytesSent, "lossbench.bytes.sent.total", "Payload bytes published"},
		{&m.bytesReceived, "lossbench.bytes.received.total", "Payload bytes received"},
		{&m.migrations, "lossbench.migrations.total", "Migration attempts by role and result"},
		{&m.stalls, "lossbench.stalls.total", "Runs ended by the stall watchdog"},
		{&m.pauses, "lossbench.pauses.total", "Send loop pauses while no connection was active"},
	}
	for _, c := range counters {
		inst, err := m.meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
		*c.dst = inst
	}

	var err error
	m.publishDuration, err = m.meter.Float64Histogram(
		"lossbench.publish.duration.ms",
		metric.WithDescription("Publish call duration in milliseconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create publishDuration histogram: %w", err)
	}

	m.migrationDuration, err = m.meter.Float64Histogram(
		"lossbench.migration.duration.ms",
		metric.WithDescription("Migration hand-off duration in milliseconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrationDuration histogram: %w", err)
	}

	m.sendDelay, err = m.meter.Float64Histogram(
		"lossbench.send.delay.us",
		metric.WithDescription("Rate controller inter-message delay in microseconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sendDelay histogram: %w", err)
	}

	m.lossPercent, err = m.meter.Float64Histogram(
		"lossbench.run.loss.percent",
		metric.WithDescription("Loss percentage reported at the end of a run"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create lossPercent histogram: %w", err)
	}

	return m, nil
}

// RecordPublish records one payload publish.
func (m *Metrics) RecordPublish(sizeBytes int, d time.Duration, failed bool) {
	ctx := context.Background()
	if failed {
		m.publishErrors.Add(ctx, 1)
		return
	}
	m.published.Add(ctx, 1)
	m.bytesSent.Add(ctx, int64(sizeBytes))
	m.publishDuration.Record(ctx, float64(d)/float64(time.Millisecond))
}

// RecordRetry records a publish retried on a replacement connection.
func (m *Metrics) RecordRetry() {
	m.publishRetries.Add(context.Background(), 1)
}

// RecordPause records a send loop backoff.
func (m *Metrics) RecordPause() {
	m.pauses.Add(context.Background(), 1)
}

// RecordDelay records the controller delay.
func (m *Metrics) RecordDelay(d time.Duration) {
	m.sendDelay.Record(context.Background(), float64(d)/float64(time.Microsecond))
}

// RecordReceived records one payload delivered to the subscriber.
func (m *Metrics) RecordReceived(sizeBytes int) {
	ctx := context.Background()
	m.received.Add(ctx, 1)
	m.bytesReceived.Add(ctx, int64(sizeBytes))
}

// RecordMigration records a migration attempt.
func (m *Metrics) RecordMigration(role, result string, d time.Duration) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("role", role),
		attribute.String("result", result),
	)
	m.migrations.Add(ctx, 1, attrs)
	if result != ResultRejected {
		m.migrationDuration.Record(ctx, float64(d)/float64(time.Millisecond), attrs)
	}
}

// RecordStall records a run ended by the watchdog.
func (m *Metrics) RecordStall() {
	m.stalls.Add(context.Background(), 1)
}

// RecordLoss records the final loss percentage of a run.
func (m *Metrics) RecordLoss(subject string, percent float64) {
	m.lossPercent.Record(context.Background(), percent, metric.WithAttributes(
		attribute.String("subject", subject),
	))
}
