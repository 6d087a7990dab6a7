// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package loss

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absmach/lossbench/migration"
	"github.com/absmach/lossbench/otel"
	"github.com/absmach/lossbench/stats"
	"github.com/absmach/lossbench/transport"
)

var _ migration.Handler = (*Subscriber)(nil)

// Subscriber counts payloads until the end-of-stream marker arrives or
// the stall watchdog sees no progress.
type Subscriber struct {
	cfg     RunConfig
	opts    SubscriberOptions
	dialer  transport.Dialer
	logger  *slog.Logger
	metrics *otel.Metrics

	active *migration.Active
	state  *stateManager

	// migrateMu orders the state check of a migration against shutdown.
	// inflight counts migrations admitted before shutdown; shutdown waits
	// for them so payloads still queued on a replaced connection are
	// counted.
	migrateMu sync.Mutex
	inflight  sync.WaitGroup

	// mu guards the start message decision; handlers of the old and the
	// new connection may run concurrently during a migration.
	mu        sync.Mutex
	started   bool
	startedAt time.Time

	expected     atomic.Int64
	received     atomic.Int64
	firstPayload atomic.Int64 // unix nanos
	lastPayload  atomic.Int64 // unix nanos
	eosAt        atomic.Int64 // unix nanos
	migrations   atomic.Int64
	gaps         *stats.Histogram

	startCh  chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	reason   string

	now    func() time.Time
	sleep  sleepFunc
	ticker tickerFunc
}

// NewSubscriber returns a Subscriber for cfg.Subject on cfg.Server. Only
// the subject is required.
func NewSubscriber(cfg RunConfig, d transport.Dialer, opts SubscriberOptions) (*Subscriber, error) {
	if cfg.Subject == "" {
		return nil, ErrEmptySubject
	}
	opts = opts.withDefaults()

	return &Subscriber{
		cfg:     cfg,
		opts:    opts,
		dialer:  d,
		logger:  opts.Logger.With("role", RoleSubscriber),
		metrics: opts.Metrics,
		active:  migration.NewActive(nil),
		state:   newStateManager(),
		gaps:    stats.NewHistogram(),
		startCh: make(chan struct{}),
		stopCh:  make(chan struct{}),
		now:     time.Now,
		sleep:   sleep,
		ticker:  newTicker,
	}, nil
}

// Connect dials the configured server and joins the queue group.
func (s *Subscriber) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.state.transition(StateIdle, StateConnecting) {
		return ErrAlreadyStarted
	}

	s.logger.Info("connecting", "server", s.cfg.Server, "subject", s.cfg.Subject)
	conn, err := s.subscribe(s.cfg.Server)
	if err != nil {
		s.state.set(StateClosed)
		return err
	}
	s.active.Swap(conn)
	s.state.set(StateSubscribed)
	return nil
}

// subscribe dials url, queue-subscribes the handler and flushes so the
// interest is registered before returning.
func (s *Subscriber) subscribe(url string) (transport.Conn, error) {
	conn, err := s.dialer.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %q: %w", url, err)
	}
	if _, err := conn.QueueSubscribe(s.cfg.Subject, s.opts.QueueGroup, s.handle); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to subscribe on %s: %w", conn.URL(), err)
	}
	if err := conn.Flush(s.opts.FlushTimeout); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to flush subscription on %s: %w", conn.URL(), err)
	}
	return conn, nil
}

// Run waits for the start message and counts until EOS, a stall or ctx
// cancellation, then closes the connection. It connects first if Connect
// was not called.
func (s *Subscriber) Run(ctx context.Context) (*Report, error) {
	if s.state.get() == StateIdle {
		if err := s.Connect(ctx); err != nil {
			return nil, err
		}
	}
	if !s.state.transition(StateSubscribed, StateAwaitingStart) {
		return nil, fmt.Errorf("%w: subscriber is %s", ErrNotRunning, s.state.get())
	}

	select {
	case <-s.startCh:
	case <-ctx.Done():
		s.shutdown(StateClosed)
		return s.report(ReasonCancelled), ctx.Err()
	}
	s.state.set(StateCounting)

	reason := s.await(ctx)
	switch reason {
	case ReasonStalled:
		s.shutdown(StateStalled)
		if s.metrics != nil {
			s.metrics.RecordStall()
		}
	default:
		s.shutdown(StateCompleted)
	}

	r := s.report(reason)
	if s.metrics != nil && !r.NoneExpected {
		s.metrics.RecordLoss(s.cfg.Subject, r.LossPercent)
	}
	s.logger.Info("done", "received", r.Received, "expected", r.Expected, "reason", reason)

	if reason == ReasonCancelled {
		return r, ctx.Err()
	}
	return r, nil
}

// await blocks until EOS, a stall or cancellation. The watchdog samples
// the received counter once per StallPeriod.
func (s *Subscriber) await(ctx context.Context) string {
	ticks, stop := s.ticker(s.opts.StallPeriod)
	defer stop()

	var last int64
	for {
		select {
		case <-s.stopCh:
			return s.reason
		case <-ctx.Done():
			s.stop(ReasonCancelled)
			return s.reason
		case <-ticks:
			cur := s.received.Load()
			if cur == last {
				s.logger.Warn("no progress, stopping", "received", cur, "period", s.opts.StallPeriod)
				s.stop(ReasonStalled)
			}
			last = cur
		}
	}
}

func (s *Subscriber) stop(reason string) {
	s.stopOnce.Do(func() {
		s.reason = reason
		close(s.stopCh)
	})
}

// handle is shared by every subscription the run creates.
func (s *Subscriber) handle(m *transport.Msg) {
	s.mu.Lock()
	if !s.started {
		n, err := strconv.ParseInt(strings.TrimSpace(string(m.Data)), 10, 64)
		if err != nil || n < 0 {
			s.mu.Unlock()
			s.logger.Warn("ignoring invalid start message", "data", string(m.Data), "error", err)
			return
		}
		s.started = true
		s.startedAt = s.now()
		s.expected.Store(n)
		s.mu.Unlock()

		s.logger.Info("received start message from publisher", "expected", n)
		close(s.startCh)
		return
	}
	s.mu.Unlock()

	if len(m.Data) == 0 {
		s.eosAt.CompareAndSwap(0, s.now().UnixNano())
		s.stop(ReasonEOS)
		return
	}

	now := s.now().UnixNano()
	s.received.Add(1)
	s.firstPayload.CompareAndSwap(0, now)
	if prev := s.lastPayload.Swap(now); prev != 0 && now >= prev {
		s.gaps.Record(time.Duration(now - prev))
	}
	if s.metrics != nil {
		s.metrics.RecordReceived(len(m.Data))
	}
}

// shutdown waits for admitted migrations, including the drain of every
// replaced connection, then closes the active connection and leaves the
// subscriber in final. An admitted migration can delay it by up to the
// connect timeout plus PropagationDelay plus DrainTimeout.
func (s *Subscriber) shutdown(final State) {
	s.migrateMu.Lock()
	s.state.set(final)
	s.migrateMu.Unlock()

	s.inflight.Wait()
	if conn := s.active.Clear(); conn != nil {
		conn.Close()
	}
	s.state.set(StateClosed)
}

// Migrate joins the queue group on targetURL, waits for the interest to
// propagate, swaps the active connection and drains the previous one. The
// subscriber always has at least one live subscription. Only the state
// check and the swap are serialised with shutdown.
func (s *Subscriber) Migrate(ctx context.Context, targetURL string) (transport.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.admit(); err != nil {
		return nil, err
	}
	defer s.inflight.Done()

	began := s.now()
	s.logger.Info("connecting to new server", "url", targetURL)
	conn, err := s.subscribe(targetURL)
	if err != nil {
		return nil, err
	}

	s.logger.Info("load balancing subscriber", "url", conn.URL(), "wait", s.opts.PropagationDelay)
	if err := s.sleep(ctx, s.opts.PropagationDelay); err != nil {
		s.retire(conn)
		return nil, err
	}

	s.migrateMu.Lock()
	if !s.migratable() {
		st := s.state.get()
		s.migrateMu.Unlock()
		s.retire(conn)
		return nil, fmt.Errorf("%w: subscriber is %s", ErrNotRunning, st)
	}
	old := s.active.Swap(conn)
	s.migrateMu.Unlock()

	s.migrations.Add(1)
	if old != nil {
		s.retire(old)
	}

	s.logger.Info("migration complete", "url", conn.URL(), "took", s.now().Sub(began))
	return conn, nil
}

// admit registers a migration unless shutdown has begun.
func (s *Subscriber) admit() error {
	s.migrateMu.Lock()
	defer s.migrateMu.Unlock()

	if !s.migratable() {
		return fmt.Errorf("%w: subscriber is %s", ErrNotRunning, s.state.get())
	}
	s.inflight.Add(1)
	return nil
}

func (s *Subscriber) migratable() bool {
	return s.state.is(StateSubscribed, StateAwaitingStart, StateCounting)
}

// retire drains conn so payloads it already accepted reach the handler.
func (s *Subscriber) retire(conn transport.Conn) {
	s.logger.Info("draining replaced connection", "url", conn.URL())
	if err := conn.Drain(s.opts.DrainTimeout); err != nil && !errors.Is(err, transport.ErrConnectionClosed) {
		s.logger.Warn("failed to drain replaced connection", "url", conn.URL(), "error", err)
	}
}

// OnMigrationError logs a failed migration. The run continues on the
// current connection.
func (s *Subscriber) OnMigrationError(err error) {
	s.logger.Error("migration failed", "error", err)
}

// Ready reports whether the subscriber is counting.
func (s *Subscriber) Ready() bool {
	return s.migratable()
}

// State returns the lifecycle state.
func (s *Subscriber) State() State {
	return s.state.get()
}

// Active returns the connection currently used for receiving, or nil.
func (s *Subscriber) Active() transport.Conn {
	return s.active.Load()
}

// Progress returns a live snapshot.
func (s *Subscriber) Progress() Progress {
	pr := Progress{
		Role:       RoleSubscriber,
		State:      s.state.get().String(),
		Subject:    s.cfg.Subject,
		Expected:   s.expected.Load(),
		Received:   s.received.Load(),
		Migrations: s.migrations.Load(),
	}
	if c := s.active.Load(); c != nil {
		pr.URL = c.URL()
	}
	return pr
}

// report measures from the first payload, or from the start message when
// no payload arrived, to the EOS marker or the last payload, whichever
// came later. Without EOS it ends at the last payload.
func (s *Subscriber) report(reason string) *Report {
	s.mu.Lock()
	startedAt := s.startedAt
	s.mu.Unlock()

	from := startedAt
	if fp := s.firstPayload.Load(); fp != 0 {
		from = time.Unix(0, fp)
	}
	to := s.now()
	end := s.lastPayload.Load()
	if eos := s.eosAt.Load(); reason == ReasonEOS && eos > end {
		end = eos
	}
	if end != 0 {
		to = time.Unix(0, end)
	}

	var elapsed time.Duration
	if !from.IsZero() && to.After(from) {
		elapsed = to.Sub(from)
	}

	expected, received := s.expected.Load(), s.received.Load()
	pct, ok := Loss(expected, received)
	gaps := s.gaps.Summary()

	r := &Report{
		Role:         RoleSubscriber,
		Server:       s.cfg.Server,
		Subject:      s.cfg.Subject,
		StartedAt:    startedAt,
		Elapsed:      elapsed,
		Rate:         Rate(received, elapsed),
		Reason:       reason,
		Migrations:   s.migrations.Load(),
		Expected:     expected,
		Received:     received,
		LossPercent:  pct,
		NoneExpected: !ok,
		Gaps:         &gaps,
	}
	if received > expected {
		r.Duplicates = received - expected
	}
	return r
}
