// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package nats implements transport.Conn on top of nats.go.
package nats

import (
	"errors"
	"fmt"

	"github.com/absmach/lossbench/transport"
	"github.com/nats-io/nats.go"
)

// DefaultURL is used when a migration names no target.
const DefaultURL = nats.DefaultURL

var _ transport.Dialer = (*Dialer)(nil)

// Dialer creates NATS connections with a fixed option set.
type Dialer struct {
	opts transport.Options
}

// NewDialer returns a Dialer. An empty DefaultURL falls back to the
// library default (nats://127.0.0.1:4222).
func NewDialer(opts transport.Options) *Dialer {
	if opts.DefaultURL == "" {
		opts.DefaultURL = DefaultURL
	}
	return &Dialer{opts: opts}
}

// Dial connects to url, or to the default server when url is empty.
func (d *Dialer) Dial(url string) (transport.Conn, error) {
	url = d.opts.ResolveURL(url)

	c := &conn{
		url:    url,
		closed: make(chan struct{}),
	}

	nc, err := nats.Connect(url, d.natsOptions(c)...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	c.nc = nc
	return c, nil
}

func (d *Dialer) natsOptions(c *conn) []nats.Option {
	o := d.opts
	l := o.Listener

	opts := []nats.Option{
		nats.Name(o.Name),
		nats.Timeout(o.ConnectTimeout),
		nats.PingInterval(o.PingInterval),
		nats.ReconnectWait(o.ReconnectWait),
		nats.MaxReconnects(o.MaxReconnects),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.markClosed()
			if l != nil {
				l.ConnectionEvent(o.Name, transport.EventClosed)
			}
		}),
	}
	if o.ReconnectBufSize > 0 {
		opts = append(opts, nats.ReconnectBufSize(o.ReconnectBufSize))
	}
	if o.DrainTimeout > 0 {
		opts = append(opts, nats.DrainTimeout(o.DrainTimeout))
	}
	if l == nil {
		return opts
	}

	return append(opts,
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			if errors.Is(err, nats.ErrSlowConsumer) {
				subject := ""
				if sub != nil {
					subject = sub.Subject
				}
				l.SlowConsumerDetected(o.Name, subject)
				return
			}
			l.ErrorOccurred(o.Name, err)
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				l.ExceptionOccurred(o.Name, err)
			}
			l.ConnectionEvent(o.Name, transport.EventDisconnected)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			l.ConnectionEvent(o.Name, transport.EventReconnected)
		}),
		nats.DiscoveredServersHandler(func(_ *nats.Conn) {
			l.ConnectionEvent(o.Name, transport.EventDiscoveredServers)
		}),
		nats.LameDuckModeHandler(func(_ *nats.Conn) {
			l.ConnectionEvent(o.Name, transport.EventLameDuck)
		}),
	)
}
