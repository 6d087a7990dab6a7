// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package loss

import (
	"errors"
	"log/slog"
	"time"

	"github.com/absmach/lossbench/otel"
)

// Roles.
const (
	RolePublisher  = "publisher"
	RoleSubscriber = "subscriber"
)

// Default values.
const (
	DefaultQueueGroup             = "loss-subs"
	DefaultPublisherFlushTimeout  = 2 * time.Second
	DefaultSubscriberFlushTimeout = 5 * time.Second
	DefaultDrainTimeout           = 5 * time.Second
	DefaultBackoff                = 250 * time.Millisecond
	DefaultStallPeriod            = 10 * time.Second
	DefaultPropagationDelay       = time.Second
)

// Run errors.
var (
	ErrInvalidCount   = errors.New("message count must be at least 1")
	ErrInvalidRate    = errors.New("rate must be at least 1 msg/sec")
	ErrInvalidSize    = errors.New("message size must be greater than 0")
	ErrEmptySubject   = errors.New("subject cannot be empty")
	ErrNotRunning     = errors.New("run is not in progress")
	ErrAlreadyStarted = errors.New("run already started")
)

// RunConfig describes one run. It is not modified after construction.
type RunConfig struct {
	Server  string
	Subject string
	Count   int
	Rate    int // messages per second
	Size    int // payload bytes
}

// Validate checks the producer parameters.
func (c RunConfig) Validate() error {
	if c.Subject == "" {
		return ErrEmptySubject
	}
	if c.Count < 1 {
		return ErrInvalidCount
	}
	if c.Rate < 1 {
		return ErrInvalidRate
	}
	if c.Size < 1 {
		return ErrInvalidSize
	}
	return nil
}

// PublisherOptions tunes a Publisher. Zero values take the defaults.
type PublisherOptions struct {
	FlushTimeout time.Duration // bound on the final flush after EOS
	DrainTimeout time.Duration // bound on draining a replaced connection
	Backoff      time.Duration // pause while no connection is active
	Logger       *slog.Logger
	Metrics      *otel.Metrics // nil if metrics disabled
}

func (o PublisherOptions) withDefaults() PublisherOptions {
	if o.FlushTimeout <= 0 {
		o.FlushTimeout = DefaultPublisherFlushTimeout
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = DefaultDrainTimeout
	}
	if o.Backoff <= 0 {
		o.Backoff = DefaultBackoff
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// SubscriberOptions tunes a Subscriber. Zero values take the defaults,
// except PropagationDelay where zero disables the wait.
type SubscriberOptions struct {
	QueueGroup       string
	FlushTimeout     time.Duration
	DrainTimeout     time.Duration
	StallPeriod      time.Duration
	PropagationDelay time.Duration
	Logger           *slog.Logger
	Metrics          *otel.Metrics // nil if metrics disabled
}

func (o SubscriberOptions) withDefaults() SubscriberOptions {
	if o.QueueGroup == "" {
		o.QueueGroup = DefaultQueueGroup
	}
	if o.FlushTimeout <= 0 {
		o.FlushTimeout = DefaultSubscriberFlushTimeout
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = DefaultDrainTimeout
	}
	if o.StallPeriod <= 0 {
		o.StallPeriod = DefaultStallPeriod
	}
	if o.PropagationDelay < 0 {
		o.PropagationDelay = 0
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}
