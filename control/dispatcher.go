// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/absmach/lossbench/migration"
	"github.com/absmach/lossbench/notify"
	"github.com/absmach/lossbench/otel"
	"github.com/absmach/lossbench/ratelimit"
	"github.com/absmach/lossbench/transport"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMigrateTimeout bounds a single migration.
const DefaultMigrateTimeout = 30 * time.Second

// DispatcherOptions holds the optional collaborators of a Dispatcher.
type DispatcherOptions struct {
	Role     string
	Timeout  time.Duration
	Limiter  *ratelimit.Limiter // nil = unlimited
	Notifier notify.Notifier    // nil = no events
	Metrics  *otel.Metrics      // nil if metrics disabled
	Tracer   trace.Tracer       // nil if tracing disabled
	Logger   *slog.Logger
}

// Dispatcher runs migration requests against a handler one at a time.
type Dispatcher struct {
	handler  migration.Handler
	role     string
	timeout  time.Duration
	limiter  *ratelimit.Limiter
	notifier notify.Notifier
	metrics  *otel.Metrics
	tracer   trace.Tracer
	logger   *slog.Logger

	mu  sync.Mutex
	now func() time.Time
}

// NewDispatcher creates a dispatcher for h.
func NewDispatcher(h migration.Handler, opts DispatcherOptions) (*Dispatcher, error) {
	if h == nil {
		return nil, ErrNoHandler
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultMigrateTimeout
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Dispatcher{
		handler:  h,
		role:     opts.Role,
		timeout:  opts.Timeout,
		limiter:  opts.Limiter,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		tracer:   opts.Tracer,
		logger:   opts.Logger,
		now:      time.Now,
	}, nil
}

// Migrate asks the handler to move to targetURL on behalf of source.
// Requests over the source's rate are rejected with ErrRateLimited
// without reaching the handler. A handler failure is reported through
// OnMigrationError and returned.
func (d *Dispatcher) Migrate(ctx context.Context, source, targetURL string) (transport.Conn, error) {
	if d.limiter != nil && !d.limiter.Allow(source) {
		d.logger.Warn("migration request rejected", "source", source, "url", targetURL)
		if d.metrics != nil {
			d.metrics.RecordMigration(d.role, otel.ResultRejected, 0)
		}
		d.notify(ctx, notify.MigrationFailed{Role: d.role, Source: source, TargetURL: targetURL, Error: ErrRateLimited.Error()})
		return nil, ErrRateLimited
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var span trace.Span
	if d.tracer != nil {
		ctx, span = d.tracer.Start(ctx, "lossbench.migrate",
			trace.WithAttributes(
				attribute.String("lossbench.role", d.role),
				attribute.String("lossbench.source", source),
				attribute.String("lossbench.target_url", targetURL),
			))
		defer span.End()
	}

	d.logger.Info("migration requested", "source", source, "url", targetURL)
	d.notify(ctx, notify.MigrationStarted{Role: d.role, Source: source, TargetURL: targetURL})

	began := d.now()
	conn, err := d.handler.Migrate(ctx, targetURL)
	took := d.now().Sub(began)
	if err != nil {
		err = fmt.Errorf("migration to %q failed: %w", targetURL, err)
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		if d.metrics != nil {
			d.metrics.RecordMigration(d.role, otel.ResultFailure, took)
		}
		d.notify(ctx, notify.MigrationFailed{Role: d.role, Source: source, TargetURL: targetURL, Error: err.Error()})
		d.handler.OnMigrationError(err)
		return nil, err
	}

	if span != nil {
		span.SetAttributes(attribute.String("lossbench.url", conn.URL()))
	}
	if d.metrics != nil {
		d.metrics.RecordMigration(d.role, otel.ResultSuccess, took)
	}
	d.notify(ctx, notify.MigrationCompleted{Role: d.role, Source: source, URL: conn.URL(), DurationMs: took.Milliseconds()})
	return conn, nil
}

func (d *Dispatcher) notify(ctx context.Context, ev notify.Event) {
	if err := d.notifier.Notify(ctx, ev); err != nil {
		d.logger.Warn("failed to queue event", "event", ev.Type(), "error", err)
	}
}
