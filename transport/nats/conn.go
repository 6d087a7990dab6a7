// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package nats

import (
	"errors"
	"sync"
	"time"

	"github.com/absmach/lossbench/transport"
	"github.com/nats-io/nats.go"
)

var _ transport.Conn = (*conn)(nil)

type conn struct {
	nc  *nats.Conn
	url string

	closeOnce sync.Once
	closed    chan struct{}
}

func (c *conn) markClosed() {
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *conn) Publish(subject string, data []byte) error {
	if subject == "" {
		return transport.ErrEmptySubject
	}
	return mapErr(c.nc.Publish(subject, data))
}

func (c *conn) Subscribe(subject string, h transport.Handler) (transport.Subscription, error) {
	s, err := c.nc.Subscribe(subject, wrap(h))
	if err != nil {
		return nil, mapErr(err)
	}
	return subscription{s}, nil
}

func (c *conn) QueueSubscribe(subject, queue string, h transport.Handler) (transport.Subscription, error) {
	s, err := c.nc.QueueSubscribe(subject, queue, wrap(h))
	if err != nil {
		return nil, mapErr(err)
	}
	return subscription{s}, nil
}

func (c *conn) Flush(timeout time.Duration) error {
	err := c.nc.FlushTimeout(timeout)
	if errors.Is(err, nats.ErrTimeout) {
		return transport.ErrFlushTimeout
	}
	return mapErr(err)
}

// Drain starts the library drain and waits for the closed callback.
func (c *conn) Drain(timeout time.Duration) error {
	if err := c.nc.Drain(); err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) {
			return nil
		}
		return err
	}

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-c.closed:
		return nil
	case <-t.C:
		c.nc.Close()
		return transport.ErrDrainTimeout
	}
}

func (c *conn) Close() {
	c.nc.Close()
}

func (c *conn) IsClosed() bool {
	return c.nc.IsClosed()
}

func (c *conn) URL() string {
	return c.url
}

type subscription struct {
	s *nats.Subscription
}

func (s subscription) Subject() string { return s.s.Subject }
func (s subscription) Queue() string   { return s.s.Queue }

func (s subscription) Unsubscribe() error {
	return mapErr(s.s.Unsubscribe())
}

func wrap(h transport.Handler) nats.MsgHandler {
	return func(m *nats.Msg) {
		h(&transport.Msg{Subject: m.Subject, Reply: m.Reply, Data: m.Data})
	}
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, nats.ErrConnectionClosed), errors.Is(err, nats.ErrConnectionDraining):
		return errors.Join(transport.ErrConnectionClosed, err)
	default:
		return err
	}
}
