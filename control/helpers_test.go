// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/absmach/lossbench/loss"
	"github.com/absmach/lossbench/notify"
	"github.com/absmach/lossbench/transport"
	"github.com/absmach/lossbench/transport/transporttest"
)

const (
	urlA    = "nats://a:4222"
	urlB    = "nats://b:4222"
	subject = "lossbench.control.publisher"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRunner migrates by dialing the fabric and closing the previous
// connection.
type fakeRunner struct {
	fabric *transporttest.Fabric

	mu     sync.Mutex
	active transport.Conn
	ready  bool
	calls  int
	errs   []error
	hook   func(ctx context.Context, url string) error
}

var _ Runner = (*fakeRunner)(nil)

func newFakeRunner(f *transporttest.Fabric, url string) *fakeRunner {
	c, err := f.Dial(url)
	if err != nil {
		panic(err)
	}
	return &fakeRunner{fabric: f, active: c, ready: true}
}

func (r *fakeRunner) Migrate(ctx context.Context, url string) (transport.Conn, error) {
	r.mu.Lock()
	r.calls++
	hook := r.hook
	r.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, url); err != nil {
			return nil, err
		}
	}
	c, err := r.fabric.Dial(url)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	old := r.active
	r.active = c
	r.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return c, nil
}

func (r *fakeRunner) OnMigrationError(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *fakeRunner) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready
}

func (r *fakeRunner) Active() transport.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *fakeRunner) Progress() loss.Progress {
	pr := loss.Progress{Role: loss.RolePublisher, State: loss.StateSending.String(), Expected: 10, Sent: 4}
	if c := r.Active(); c != nil {
		pr.URL = c.URL()
	}
	return pr
}

func (r *fakeRunner) migrateCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *fakeRunner) migrationErrors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Notify(_ context.Context, ev notify.Event) error {
	n.mu.Lock()
	n.events = append(n.events, ev)
	n.mu.Unlock()
	return nil
}

func (n *recordingNotifier) Close() error { return nil }

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, ev := range n.events {
		out = append(out, ev.Type())
	}
	return out
}
