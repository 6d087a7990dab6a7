// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package transport defines the publish/subscribe capability the loss
// benchmark runs on. Implementations live in sub-packages (nats, mqtt) and
// are treated as opaque: connect, publish, subscribe, flush, drain and
// automatic reconnect are theirs, not ours.
package transport

import "time"

// Msg is a message delivered to a subscription handler.
type Msg struct {
	Subject string
	Reply   string
	Data    []byte
}

// Handler processes delivered messages. Handlers of different
// subscriptions may run concurrently.
type Handler func(msg *Msg)

// Subscription is an active interest registration.
type Subscription interface {
	Subject() string
	Queue() string
	Unsubscribe() error
}

// Conn is a single connection to a messaging server.
type Conn interface {
	// Publish sends data on subject. A nil or empty data publishes a
	// zero-length message.
	Publish(subject string, data []byte) error

	// Subscribe registers plain interest in subject.
	Subscribe(subject string, h Handler) (Subscription, error)

	// QueueSubscribe registers interest as a member of queue; each message
	// goes to one member of the group only.
	QueueSubscribe(subject, queue string, h Handler) (Subscription, error)

	// Flush blocks until the server has processed everything sent so far
	// or timeout elapses.
	Flush(timeout time.Duration) error

	// Drain unsubscribes everything, lets pending deliveries finish,
	// flushes and closes. It returns once the connection is closed or
	// timeout elapses, in which case the connection is closed forcibly
	// and ErrDrainTimeout is returned.
	Drain(timeout time.Duration) error

	// Close closes the connection immediately.
	Close()

	// IsClosed reports whether the connection has been closed.
	IsClosed() bool

	// URL returns the server address this connection was dialed to.
	URL() string
}

// Dialer establishes new connections using a fixed set of options.
type Dialer interface {
	Dial(url string) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(url string) (Conn, error)

// Dial calls f(url).
func (f DialerFunc) Dial(url string) (Conn, error) {
	return f(url)
}
