// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package notify delivers run and migration events to webhook endpoints.
package notify

import (
	"context"
	"time"
)

// Notifier sends events asynchronously.
type Notifier interface {
	// Notify queues an event without blocking.
	Notify(ctx context.Context, event Event) error

	// Close gracefully shuts down, flushing pending events.
	Close() error
}

// Sender is the protocol-specific sender interface.
type Sender interface {
	// Send delivers a payload to url.
	Send(ctx context.Context, url string, headers map[string]string, payload []byte, timeout time.Duration) error
}

// Nop discards every event.
type Nop struct{}

var _ Notifier = Nop{}

func (Nop) Notify(context.Context, Event) error { return nil }
func (Nop) Close() error                        { return nil }
