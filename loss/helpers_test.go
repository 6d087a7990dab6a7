// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package loss

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/absmach/lossbench/transport"
	"github.com/absmach/lossbench/transport/transporttest"
	"github.com/stretchr/testify/require"
)

const (
	urlA = "nats://a:4222"
	urlB = "nats://b:4222"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func newTestPublisher(t *testing.T, f *transporttest.Fabric, cfg RunConfig) *Publisher {
	t.Helper()

	p, err := NewPublisher(cfg, f, PublisherOptions{Logger: discard()})
	require.NoError(t, err)
	p.sleep = noSleep
	return p
}

// newTestSubscriber returns a subscriber whose watchdog is driven by the
// returned channel.
func newTestSubscriber(t *testing.T, f *transporttest.Fabric, server string) (*Subscriber, chan time.Time) {
	t.Helper()

	s, err := NewSubscriber(RunConfig{Server: server, Subject: "t"}, f, SubscriberOptions{Logger: discard()})
	require.NoError(t, err)

	ticks := make(chan time.Time)
	s.sleep = noSleep
	s.ticker = func(time.Duration) (<-chan time.Time, func()) { return ticks, func() {} }
	return s, ticks
}

type result struct {
	report *Report
	err    error
}

func runSubscriber(ctx context.Context, t *testing.T, s *Subscriber) <-chan result {
	t.Helper()

	require.NoError(t, s.Connect(ctx))
	out := make(chan result, 1)
	go func() {
		r, err := s.Run(ctx)
		out <- result{r, err}
	}()
	return out
}

func wait(t *testing.T, ch <-chan result) result {
	t.Helper()

	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
		return result{}
	}
}

// feed publishes a control message, n payloads and, when eos is set, the
// end-of-stream marker.
func feed(t *testing.T, c transport.Conn, control string, n int, eos bool) {
	t.Helper()

	require.NoError(t, c.Publish("t", []byte(control)))
	payloads(t, c, n)
	if eos {
		require.NoError(t, c.Publish("t", nil))
	}
}

func payloads(t *testing.T, c transport.Conn, n int) {
	t.Helper()

	for i := 0; i < n; i++ {
		require.NoError(t, c.Publish("t", make([]byte, 8)))
	}
}

// slowDialer dials through a fabric. Handlers subscribed on slowURL are
// delayed by delay per message, and Drain on any connection waits for
// gate to be closed when gate is set.
type slowDialer struct {
	*transporttest.Fabric
	slowURL string
	delay   time.Duration
	gate    chan struct{}

	once     sync.Once
	draining chan struct{}
	mu       sync.Mutex
	events   []string
}

func newSlowDialer(f *transporttest.Fabric) *slowDialer {
	return &slowDialer{Fabric: f, draining: make(chan struct{})}
}

func (d *slowDialer) Dial(url string) (transport.Conn, error) {
	c, err := d.Fabric.Dial(url)
	if err != nil {
		return nil, err
	}
	return &slowConn{Conn: c, d: d}, nil
}

func (d *slowDialer) record(e string) {
	d.mu.Lock()
	d.events = append(d.events, e)
	d.mu.Unlock()
}

func (d *slowDialer) Events() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.events...)
}

type slowConn struct {
	transport.Conn
	d *slowDialer
}

func (c *slowConn) QueueSubscribe(subject, queue string, h transport.Handler) (transport.Subscription, error) {
	if c.URL() == c.d.slowURL {
		inner := h
		h = func(m *transport.Msg) {
			time.Sleep(c.d.delay)
			inner(m)
		}
	}
	return c.Conn.QueueSubscribe(subject, queue, h)
}

func (c *slowConn) Drain(timeout time.Duration) error {
	c.d.once.Do(func() { close(c.d.draining) })
	if c.d.gate != nil {
		<-c.d.gate
	}
	err := c.Conn.Drain(timeout)
	c.d.record("drained " + c.URL())
	return err
}
