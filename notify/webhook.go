// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/absmach/lossbench/config"
	"github.com/sony/gobreaker"
)

var _ Notifier = (*Webhook)(nil)

// Webhook delivers events through a worker pool with per-endpoint retry
// and circuit breaking.
type Webhook struct {
	cfg       config.WebhookConfig
	runID     string
	endpoints []endpoint
	queue     chan job
	breakers  map[string]*gobreaker.CircuitBreaker
	sender    Sender
	logger    *slog.Logger
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

type endpoint struct {
	name    string
	url     string
	events  map[string]bool // empty = all
	headers map[string]string
	timeout time.Duration
	retry   config.RetryConfig
}

type job struct {
	event    Event
	endpoint endpoint
	attempt  int
}

// NewWebhook starts a notifier for cfg. runID is stamped on every
// envelope.
func NewWebhook(cfg config.WebhookConfig, runID string, sender Sender, logger *slog.Logger) (*Webhook, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if sender == nil {
		return nil, fmt.Errorf("sender cannot be nil")
	}

	endpoints := make([]endpoint, 0, len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		filters := make(map[string]bool, len(ep.Events))
		for _, t := range ep.Events {
			filters[t] = true
		}

		timeout := cfg.Defaults.Timeout
		if ep.Timeout > 0 {
			timeout = ep.Timeout
		}
		retry := cfg.Defaults.Retry
		if ep.Retry != nil {
			retry = *ep.Retry
		}

		endpoints = append(endpoints, endpoint{
			name:    ep.Name,
			url:     ep.URL,
			events:  filters,
			headers: ep.Headers,
			timeout: timeout,
			retry:   retry,
		})
	}

	breakers := make(map[string]*gobreaker.CircuitBreaker, len(endpoints))
	for _, ep := range endpoints {
		breakers[ep.name] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        ep.name,
			MaxRequests: 1,
			Timeout:     cfg.Defaults.CircuitBreaker.ResetTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(cfg.Defaults.CircuitBreaker.FailureThreshold)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("webhook circuit breaker state changed",
					slog.String("endpoint", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()))
			},
		})
	}

	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	size := cfg.QueueSize
	if size < 1 {
		size = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Webhook{
		cfg:       cfg,
		runID:     runID,
		endpoints: endpoints,
		queue:     make(chan job, size),
		breakers:  breakers,
		sender:    sender,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}

	for i := 0; i < workers; i++ {
		w.wg.Add(1)
		go w.worker()
	}

	logger.Info("webhook notifier started",
		slog.Int("workers", workers),
		slog.Int("queue_size", size),
		slog.Int("endpoints", len(endpoints)))

	return w, nil
}

// Notify queues event for every endpoint whose filter matches. When the
// queue is full the drop policy decides which event is lost.
func (w *Webhook) Notify(_ context.Context, event Event) error {
	for _, ep := range w.endpoints {
		if len(ep.events) > 0 && !ep.events[event.Type()] {
			continue
		}
		w.enqueue(job{event: event, endpoint: ep})
	}
	return nil
}

func (w *Webhook) enqueue(j job) {
	select {
	case w.queue <- j:
		return
	default:
	}

	if w.cfg.DropPolicy == "oldest" {
		select {
		case <-w.queue:
		default:
		}
		select {
		case w.queue <- j:
			return
		default:
		}
	}
	w.logger.Error("webhook queue full, event dropped",
		slog.String("event_type", j.event.Type()),
		slog.String("endpoint", j.endpoint.name))
}

func (w *Webhook) worker() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case j := <-w.queue:
			w.process(j)
		}
	}
}

func (w *Webhook) process(j job) {
	breaker := w.breakers[j.endpoint.name]

	_, err := breaker.Execute(func() (interface{}, error) {
		return nil, w.send(j)
	})
	if err == nil {
		return
	}

	if j.attempt >= j.endpoint.retry.MaxAttempts-1 {
		w.logger.Error("webhook delivery failed after max retries",
			slog.String("endpoint", j.endpoint.name),
			slog.String("event_type", j.event.Type()),
			slog.Int("attempts", j.attempt+1),
			slog.String("error", err.Error()))
		return
	}

	j.attempt++
	delay := retryDelay(j.attempt, j.endpoint.retry)
	w.logger.Debug("webhook delivery failed, retrying",
		slog.String("endpoint", j.endpoint.name),
		slog.String("event_type", j.event.Type()),
		slog.Int("attempt", j.attempt),
		slog.Duration("retry_after", delay),
		slog.String("error", err.Error()))

	time.AfterFunc(delay, func() {
		select {
		case w.queue <- j:
		default:
			w.logger.Error("failed to requeue event for retry",
				slog.String("endpoint", j.endpoint.name),
				slog.String("event_type", j.event.Type()))
		}
	})
}

func (w *Webhook) send(j job) error {
	payload, err := json.Marshal(j.event.Wrap(w.runID))
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(w.ctx, j.endpoint.timeout)
	defer cancel()

	if err := w.sender.Send(ctx, j.endpoint.url, j.endpoint.headers, payload, j.endpoint.timeout); err != nil {
		return err
	}

	w.logger.Debug("webhook delivered",
		slog.String("endpoint", j.endpoint.name),
		slog.String("event_type", j.event.Type()))
	return nil
}

// retryDelay is InitialInterval * Multiplier^attempt, capped at MaxInterval.
func retryDelay(attempt int, cfg config.RetryConfig) time.Duration {
	delay := float64(cfg.InitialInterval) * math.Pow(cfg.Multiplier, float64(attempt))
	if cfg.MaxInterval > 0 && delay > float64(cfg.MaxInterval) {
		delay = float64(cfg.MaxInterval)
	}
	return time.Duration(delay)
}

// Close lets queued events drain for up to ShutdownTimeout, then stops
// the workers.
func (w *Webhook) Close() error {
	w.logger.Info("shutting down webhook notifier")

	deadline := time.After(w.cfg.ShutdownTimeout)
	for len(w.queue) > 0 {
		select {
		case <-deadline:
			w.logger.Warn("webhook notifier shutdown timeout, some events may be lost",
				slog.Int("queue_depth", len(w.queue)))
			w.cancel()
			w.wg.Wait()
			return nil
		case <-time.After(10 * time.Millisecond):
		}
	}

	w.cancel()
	w.wg.Wait()
	return nil
}
