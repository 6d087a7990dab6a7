// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/absmach/lossbench/transport"
)

// DefaultFollowInterval is how often Follow checks for a new active
// connection.
const DefaultFollowInterval = 100 * time.Millisecond

// Plane serves migration requests published on a control subject of the
// benchmark's own transport. The subscription moves with the active
// connection.
type Plane struct {
	subject    string
	dispatcher *Dispatcher
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	conn   transport.Conn
	sub    transport.Subscription
	closed bool
}

// NewPlane creates a plane listening on subject. It does nothing until
// attached to a connection.
func NewPlane(d *Dispatcher, subject string, logger *slog.Logger) *Plane {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Plane{
		subject:    subject,
		dispatcher: d,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Subject returns the control subject.
func (p *Plane) Subject() string {
	return p.subject
}

// Attach subscribes the control subject on conn and releases the previous
// subscription. Attaching the current connection again is a no-op.
func (p *Plane) Attach(conn transport.Conn) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || conn == nil || conn == p.conn {
		return nil
	}

	sub, err := conn.Subscribe(p.subject, p.handle)
	if err != nil {
		return err
	}
	if err := conn.Flush(time.Second); err != nil {
		p.logger.Warn("failed to flush control subscription", "url", conn.URL(), "error", err)
	}

	if p.sub != nil && !p.conn.IsClosed() {
		if err := p.sub.Unsubscribe(); err != nil {
			p.logger.Debug("failed to release control subscription", "url", p.conn.URL(), "error", err)
		}
	}
	p.conn, p.sub = conn, sub

	p.logger.Debug("control plane attached", "subject", p.subject, "url", conn.URL())
	return nil
}

// Follow attaches to r's active connection whenever it changes, until ctx
// is done or the plane is closed.
func (p *Plane) Follow(ctx context.Context, r Runner, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultFollowInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if conn := r.Active(); conn != nil && !conn.IsClosed() {
			if err := p.Attach(conn); err != nil {
				p.logger.Warn("failed to attach control plane", "url", conn.URL(), "error", err)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-p.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Plane) handle(m *transport.Msg) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		p.serve(m)
	}()
}

func (p *Plane) serve(m *transport.Msg) {
	req, err := ParseRequest(m.Data)
	if err != nil {
		p.logger.Warn("invalid control request", "subject", m.Subject, "error", err)
		p.reply(m.Reply, Response{Error: err.Error()})
		return
	}

	conn, err := p.dispatcher.Migrate(p.ctx, m.Subject, req.URL)
	if err == nil {
		if aerr := p.Attach(conn); aerr != nil {
			p.logger.Warn("failed to attach control plane", "url", conn.URL(), "error", aerr)
		}
	}
	p.reply(m.Reply, response(conn, err))
}

func (p *Plane) reply(subject string, resp Response) {
	if subject == "" {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}

	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil || conn.IsClosed() {
		return
	}
	if err := conn.Publish(subject, data); err != nil {
		p.logger.Warn("failed to reply to control request", "subject", subject, "error", err)
	}
}

// Close stops serving, releases the subscription and waits for in-flight
// requests.
func (p *Plane) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.cancel()
	var err error
	if p.sub != nil && !p.conn.IsClosed() {
		err = p.sub.Unsubscribe()
	}
	p.mu.Unlock()

	p.wg.Wait()
	return err
}
