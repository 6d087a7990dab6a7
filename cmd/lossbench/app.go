// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/absmach/lossbench/config"
	"github.com/absmach/lossbench/control"
	"github.com/absmach/lossbench/loss"
	"github.com/absmach/lossbench/notify"
	"github.com/absmach/lossbench/otel"
	"github.com/absmach/lossbench/ratelimit"
	"github.com/absmach/lossbench/storage"
	"github.com/absmach/lossbench/storage/badger"
	"github.com/absmach/lossbench/storage/memory"
	"github.com/absmach/lossbench/transport"
	"github.com/absmach/lossbench/transport/mqtt"
	"github.com/absmach/lossbench/transport/nats"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"
)

// app holds the collaborators shared by both subcommands.
type app struct {
	cfg    *config.Config
	role   string
	runID  string
	logger *slog.Logger

	metrics  *otel.Metrics // nil if metrics disabled
	tracer   trace.Tracer  // nil if tracing disabled
	notifier notify.Notifier
	history  storage.ReportStore // nil if history disabled
	limiter  *ratelimit.Limiter

	closers []func()
}

func newApp(cfg *config.Config, role string) (*app, error) {
	a := &app{
		cfg:      cfg,
		role:     role,
		runID:    uuid.NewString(),
		notifier: notify.Nop{},
	}
	a.logger = newLogger(cfg.Log, os.Stdout).With("run_id", a.runID)
	slog.SetDefault(a.logger)

	if err := a.init(); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) init() error {
	if a.cfg.Metrics.Enabled {
		run := a.telemetryRun()
		provider, err := otel.Setup(context.Background(), a.cfg.Metrics, run)
		if err != nil {
			return err
		}
		a.onClose(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := provider.Shutdown(ctx); err != nil {
				a.logger.Error("failed to shutdown OpenTelemetry", "error", err)
			}
		})

		if a.metrics, err = provider.Metrics(); err != nil {
			return err
		}
		a.tracer = provider.Tracer()
		a.logger.Info("OpenTelemetry initialized",
			"endpoint", a.cfg.Metrics.Endpoint,
			"traces", otel.TracesEnabled(a.cfg.Metrics, run))
	}

	if a.cfg.Webhook.Enabled {
		n, err := notify.NewWebhook(a.cfg.Webhook, a.runID, notify.NewHTTPSender(), a.logger)
		if err != nil {
			return err
		}
		a.notifier = n
		a.onClose(func() { n.Close() })
	}

	history, err := newHistory(a.cfg.History)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	if history != nil {
		a.history = history
		a.onClose(func() { history.Close() })
	}

	if rl := a.cfg.Control.RateLimit; a.cfg.Control.Enabled && rl.Enabled {
		a.limiter = ratelimit.New(rl.Rate, rl.Burst, rl.CleanupInterval)
		a.onClose(a.limiter.Stop)
	}
	return nil
}

// telemetryRun describes this run for exported spans and metrics.
func (a *app) telemetryRun() otel.Run {
	run := otel.Run{
		ID:         a.runID,
		Role:       a.role,
		Migratable: a.cfg.Control.Enabled,
	}
	switch a.role {
	case loss.RolePublisher:
		pc := a.cfg.Publisher
		run.Server, run.Subject = pc.Server, pc.Subject
		run.Count, run.Rate, run.Size = pc.Count, pc.Rate, pc.Size
	default:
		run.Server, run.Subject = a.cfg.Subscriber.Server, a.cfg.Subscriber.Subject
	}
	return run
}

func (a *app) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// close releases everything in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *app) signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// startControl serves migration requests for r on the control subject and,
// when configured, over HTTP. Both stop when ctx is done.
func (a *app) startControl(ctx context.Context, r control.Runner) error {
	if !a.cfg.Control.Enabled {
		return nil
	}

	d, err := control.NewDispatcher(r, control.DispatcherOptions{
		Role:     a.role,
		Timeout:  a.cfg.Control.MigrateTimeout,
		Limiter:  a.limiter,
		Notifier: a.notifier,
		Metrics:  a.metrics,
		Tracer:   a.tracer,
		Logger:   a.logger,
	})
	if err != nil {
		return err
	}

	plane := control.NewPlane(d, control.Subject(a.cfg.Control.SubjectPrefix, a.role), a.logger)
	go plane.Follow(ctx, r, control.DefaultFollowInterval)
	a.onClose(func() { plane.Close() })
	a.logger.Info("control plane enabled", "subject", plane.Subject())

	if a.cfg.Control.HTTPAddr != "" {
		srv := control.NewServer(control.ServerConfig{Address: a.cfg.Control.HTTPAddr}, r, d, a.logger)
		srvCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := srv.Listen(srvCtx); err != nil {
				a.logger.Error("control server failed", "error", err)
			}
		}()
		a.onClose(func() {
			cancel()
			<-done
		})
	}
	return nil
}

func (a *app) emit(ctx context.Context, ev notify.Event) {
	if err := a.notifier.Notify(ctx, ev); err != nil {
		a.logger.Warn("failed to queue event", "event", ev.Type(), "error", err)
	}
}

// finish prints the report and records it everywhere configured.
func (a *app) finish(ctx context.Context, out io.Writer, report *loss.Report) {
	report.ID = a.runID
	fmt.Fprint(out, report.String())

	if jsonOut != "" {
		if err := appendJSONLine(jsonOut, report); err != nil {
			a.logger.Error("failed to write report", "path", jsonOut, "error", err)
		}
	}
	if a.history != nil {
		if err := a.history.Save(report); err != nil {
			a.logger.Error("failed to save report", "error", err)
		}
	}
	a.emit(context.WithoutCancel(ctx), notify.RunCompleted{Report: report})
}

func appendJSONLine(path string, v any) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(v); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func newHistory(cfg config.HistoryConfig) (storage.ReportStore, error) {
	switch cfg.Type {
	case "memory":
		return memory.New(), nil
	case "badger":
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, err
		}
		s, err := badger.New(badger.Config{Dir: cfg.Dir})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, nil
	}
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	logLevel := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel})
	}
	return slog.New(handler)
}

func transportOptions(cfg config.TransportConfig, name string, logger *slog.Logger) transport.Options {
	opts := transport.NewOptions(name)
	opts.ConnectTimeout = cfg.ConnectTimeout
	opts.PingInterval = cfg.PingInterval
	opts.MaxReconnects = cfg.MaxReconnects
	opts.DrainTimeout = cfg.DrainTimeout
	opts.Listener = transport.NewLogListener(logger)
	return opts
}

// newDialer serves mqtt:// and mqtts:// urls with MQTT and everything
// else with NATS.
func newDialer(opts transport.Options) *transport.SchemeDialer {
	m := mqtt.NewDialer(opts)
	return &transport.SchemeDialer{
		Default: nats.NewDialer(opts),
		Schemes: map[string]transport.Dialer{
			"mqtt":  m,
			"mqtts": m,
		},
	}
}

// exactArgs accepts any of the given argument counts.
func exactArgs(counts ...int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		for _, n := range counts {
			if len(args) == n {
				return nil
			}
		}
		return fmt.Errorf("%s accepts %v positional arguments, received %d", cmd.Name(), counts, len(args))
	}
}
