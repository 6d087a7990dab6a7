// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package loss

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absmach/lossbench/migration"
	"github.com/absmach/lossbench/otel"
	"github.com/absmach/lossbench/ratecontrol"
	"github.com/absmach/lossbench/stats"
	"github.com/absmach/lossbench/transport"
)

var _ migration.Handler = (*Publisher)(nil)

// Publisher sends a control message, Count payloads paced by the rate
// controller and an empty end-of-stream marker.
type Publisher struct {
	cfg     RunConfig
	opts    PublisherOptions
	dialer  transport.Dialer
	logger  *slog.Logger
	metrics *otel.Metrics

	active *migration.Active
	state  *stateManager

	// migrateMu orders the swap of a migration against shutdown. draining
	// counts replaced connections still flushing; the end-of-stream marker
	// is published only after they finish.
	migrateMu sync.Mutex
	draining  sync.WaitGroup

	sent       atomic.Int64
	failed     atomic.Int64
	retries    atomic.Int64
	pauses     atomic.Int64
	migrations atomic.Int64
	delay      atomic.Int64
	latency    *stats.Histogram

	now   func() time.Time
	sleep sleepFunc
}

// NewPublisher validates cfg and returns a Publisher dialing through d.
func NewPublisher(cfg RunConfig, d transport.Dialer, opts PublisherOptions) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	return &Publisher{
		cfg:     cfg,
		opts:    opts,
		dialer:  d,
		logger:  opts.Logger.With("role", RolePublisher),
		metrics: opts.Metrics,
		active:  migration.NewActive(nil),
		state:   newStateManager(),
		latency: stats.NewHistogram(),
		now:     time.Now,
		sleep:   sleep,
	}, nil
}

// Run connects, sends the whole stream and closes the connection. Publish
// failures are logged and counted; only a failed initial connection or a
// cancelled ctx is returned as an error. A report is returned whenever
// the stream was started.
func (p *Publisher) Run(ctx context.Context) (*Report, error) {
	if !p.state.transition(StateIdle, StateConnecting) {
		return nil, ErrAlreadyStarted
	}

	conn, err := p.dialer.Dial(p.cfg.Server)
	if err != nil {
		p.state.set(StateClosed)
		return nil, fmt.Errorf("failed to connect to %s: %w", p.cfg.Server, err)
	}
	p.active.Swap(conn)
	p.state.set(StateSending)

	p.logger.Info("sending messages",
		"count", p.cfg.Count,
		"size", p.cfg.Size,
		"subject", p.cfg.Subject,
		"server", conn.URL())

	ctl, err := ratecontrol.New(p.cfg.Count, p.cfg.Rate)
	if err != nil {
		p.shutdown()
		return nil, err
	}

	startedAt := p.now()
	reason := ReasonCompleted

	// Announce the expected count before any payload.
	runErr := p.publish(ctx, []byte(strconv.Itoa(p.cfg.Count)), false)

	payload := make([]byte, p.cfg.Size)
	start := p.now()
	ctl.Start(start)

	for i := 0; i < p.cfg.Count && runErr == nil; i++ {
		if runErr = p.publish(ctx, payload, true); runErr != nil {
			break
		}
		p.sent.Add(1)

		d := ctl.Next(i+1, p.now())
		p.delay.Store(int64(d))
		if p.metrics != nil {
			p.metrics.RecordDelay(d)
		}
		runErr = p.sleep(ctx, d)
	}
	end := p.now()

	if runErr != nil {
		reason = ReasonCancelled
		p.logger.Warn("run cancelled", "sent", p.sent.Load(), "error", runErr)
	}

	p.shutdown()
	p.logger.Info("finished", "sent", p.sent.Load(), "reason", reason)

	return p.report(startedAt, end.Sub(start), reason), runErr
}

// publish sends data on the active connection. It pauses while no
// connection is active and retries when the connection it used was
// replaced underneath it. Other failures are logged and swallowed. The
// only error returned is ctx's.
func (p *Publisher) publish(ctx context.Context, data []byte, payload bool) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, gen := p.active.LoadGen()
		if conn == nil {
			p.pauses.Add(1)
			if p.metrics != nil {
				p.metrics.RecordPause()
			}
			p.logger.Debug("no active connection, pausing", "backoff", p.opts.Backoff)
			if err := p.sleep(ctx, p.opts.Backoff); err != nil {
				return err
			}
			continue
		}

		began := p.now()
		err := conn.Publish(p.cfg.Subject, data)
		took := p.now().Sub(began)
		if err == nil {
			if payload {
				p.latency.Record(took)
				if p.metrics != nil {
					p.metrics.RecordPublish(len(data), took, false)
				}
			}
			return nil
		}

		if p.active.Gen() != gen {
			p.retries.Add(1)
			if p.metrics != nil {
				p.metrics.RecordRetry()
			}
			p.logger.Debug("publish raced a migration, retrying", "url", conn.URL(), "error", err)
			continue
		}

		if payload {
			p.failed.Add(1)
			if p.metrics != nil {
				p.metrics.RecordPublish(len(data), took, true)
			}
		}
		p.logger.Error("publish failed", "url", conn.URL(), "error", err)
		return nil
	}
}

// shutdown waits for replaced connections to drain, then sends the
// end-of-stream marker, flushes and closes. No migration can swap once it
// holds migrateMu.
func (p *Publisher) shutdown() {
	p.migrateMu.Lock()
	p.state.set(StateDraining)
	conn := p.active.Clear()
	p.migrateMu.Unlock()

	defer p.state.set(StateClosed)
	p.draining.Wait()
	if conn == nil {
		return
	}

	if err := conn.Publish(p.cfg.Subject, nil); err != nil {
		p.logger.Error("failed to publish end of stream", "url", conn.URL(), "error", err)
	}
	if err := conn.Flush(p.opts.FlushTimeout); err != nil {
		p.logger.Error("failed to flush", "url", conn.URL(), "error", err)
	}
	conn.Close()
}

// Migrate dials targetURL, makes it the active connection and drains the
// previous one. Drain failures are logged only. The dial runs outside
// migrateMu, so shutdown never waits for a slow connect.
func (p *Publisher) Migrate(ctx context.Context, targetURL string) (transport.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s := p.state.get(); s != StateSending {
		return nil, fmt.Errorf("%w: publisher is %s", ErrNotRunning, s)
	}

	began := p.now()
	conn, err := p.dialer.Dial(targetURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %q: %w", targetURL, err)
	}

	p.migrateMu.Lock()
	if s := p.state.get(); s != StateSending {
		p.migrateMu.Unlock()
		conn.Close()
		return nil, fmt.Errorf("%w: publisher is %s", ErrNotRunning, s)
	}
	old := p.active.Swap(conn)
	p.draining.Add(1)
	p.migrateMu.Unlock()
	defer p.draining.Done()

	p.migrations.Add(1)
	if old != nil {
		if err := old.Drain(p.opts.DrainTimeout); err != nil {
			p.logger.Warn("failed to drain replaced connection", "url", old.URL(), "error", err)
		}
	}

	p.logger.Info("migration complete", "url", conn.URL(), "took", p.now().Sub(began))
	return conn, nil
}

// OnMigrationError logs a failed migration. The run continues on the
// current connection.
func (p *Publisher) OnMigrationError(err error) {
	p.logger.Error("migration failed", "error", err)
}

// Ready reports whether the send loop is running.
func (p *Publisher) Ready() bool {
	return p.state.get() == StateSending
}

// State returns the lifecycle state.
func (p *Publisher) State() State {
	return p.state.get()
}

// Active returns the connection currently used for sending, or nil.
func (p *Publisher) Active() transport.Conn {
	return p.active.Load()
}

// Progress returns a live snapshot.
func (p *Publisher) Progress() Progress {
	pr := Progress{
		Role:       RolePublisher,
		State:      p.state.get().String(),
		Subject:    p.cfg.Subject,
		Expected:   int64(p.cfg.Count),
		Sent:       p.sent.Load(),
		Migrations: p.migrations.Load(),
		Delay:      time.Duration(p.delay.Load()),
	}
	if c := p.active.Load(); c != nil {
		pr.URL = c.URL()
	}
	return pr
}

func (p *Publisher) report(startedAt time.Time, elapsed time.Duration, reason string) *Report {
	latency := p.latency.Summary()
	sent := p.sent.Load()

	return &Report{
		Role:          RolePublisher,
		Server:        p.cfg.Server,
		Subject:       p.cfg.Subject,
		StartedAt:     startedAt,
		Elapsed:       elapsed,
		Rate:          Rate(sent, elapsed),
		Reason:        reason,
		Migrations:    p.migrations.Load(),
		Size:          p.cfg.Size,
		TargetRate:    p.cfg.Rate,
		Sent:          sent,
		PublishErrors: p.failed.Load(),
		Retries:       p.retries.Load(),
		Pauses:        p.pauses.Load(),
		FinalDelay:    time.Duration(p.delay.Load()),
		Latency:       &latency,
	}
}
