// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/absmach/lossbench/config"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

// Resource attribute keys describing a run.
const (
	AttrRunID   = attribute.Key("lossbench.run_id")
	AttrRole    = attribute.Key("lossbench.role")
	AttrServer  = attribute.Key("lossbench.server")
	AttrSubject = attribute.Key("lossbench.subject")
	AttrCount   = attribute.Key("lossbench.count")
	AttrRate    = attribute.Key("lossbench.rate")
	AttrSize    = attribute.Key("lossbench.size")
)

const exportTimeout = 10 * time.Second

// Run describes the benchmark run every exported span and metric belongs to.
type Run struct {
	ID      string
	Role    string
	Server  string
	Subject string

	// Publisher parameters; zero on the subscriber side.
	Count int
	Rate  int
	Size  int

	// Migratable is set when the run serves migration requests. Migrations
	// are the only traced operation.
	Migratable bool
}

func (r Run) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		AttrRunID.String(r.ID),
		AttrRole.String(r.Role),
		AttrServer.String(r.Server),
		AttrSubject.String(r.Subject),
	}
	if r.Count > 0 {
		attrs = append(attrs,
			AttrCount.Int(r.Count),
			AttrRate.Int(r.Rate),
			AttrSize.Int(r.Size),
		)
	}
	return attrs
}

// Resource identifies run to the collector.
func Resource(cfg config.MetricsConfig, run Run) (*resource.Resource, error) {
	attrs := append([]attribute.KeyValue{
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		semconv.ServiceInstanceIDKey.String(run.ID),
	}, run.attributes()...)

	res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

// TracesEnabled reports whether spans are exported for run.
func TracesEnabled(cfg config.MetricsConfig, run Run) bool {
	return cfg.TracesEnabled && run.Migratable && cfg.TraceSampleRate > 0
}

// Provider owns the SDK providers of one run. It does not touch the
// global providers.
type Provider struct {
	mp *sdkmetric.MeterProvider
	tp *sdktrace.TracerProvider // nil when traces are off
}

// Setup exports metrics for run to cfg.Endpoint, and spans when
// TracesEnabled holds.
func Setup(ctx context.Context, cfg config.MetricsConfig, run Run) (*Provider, error) {
	res, err := Resource(cfg, run)
	if err != nil {
		return nil, err
	}

	mexp, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
		otlpmetricgrpc.WithInsecure(),
		otlpmetricgrpc.WithTimeout(exportTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	p := &Provider{
		mp: sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(mexp,
				sdkmetric.WithInterval(cfg.ExportInterval),
			)),
		),
	}

	if !TracesEnabled(cfg, run) {
		return p, nil
	}

	texp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithTimeout(exportTimeout),
	)
	if err != nil {
		_ = p.mp.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	p.tp = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.TraceSampleRate)),
		sdktrace.WithBatcher(texp),
	)
	return p, nil
}

func sampler(rate float64) sdktrace.Sampler {
	if rate >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.TraceIDRatioBased(rate)
}

// Metrics creates the run's instruments.
func (p *Provider) Metrics() (*Metrics, error) {
	return NewMetricsFrom(p.mp)
}

// Tracer returns the migration tracer, or nil when traces are off.
func (p *Provider) Tracer() trace.Tracer {
	if p.tp == nil {
		return nil
	}
	return p.tp.Tracer(meterName)
}

// Shutdown flushes pending exports and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.tp != nil {
		errs = append(errs, p.tp.Shutdown(ctx))
	}
	errs = append(errs, p.mp.Shutdown(ctx))
	return errors.Join(errs...)
}
