// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package transporttest provides an in-memory transport for tests.
//
// A Fabric behaves like a cluster of servers: every url dialed through it
// reaches the same subject space, so a subscriber on one url receives what
// a publisher on another url sends. Queue groups span connections and
// deliver round-robin to one member per message.
package transporttest

import (
	"fmt"
	"sync"
	"time"

	"github.com/absmach/lossbench/transport"
)

// Record is a message accepted by the fabric.
type Record struct {
	URL     string
	Subject string
	Data    []byte
}

// PublishHook may fail a publish before it is accepted.
type PublishHook func(url, subject string, data []byte) error

// DropFunc reports whether an accepted message is lost instead of delivered.
type DropFunc func(subject string, data []byte) bool

// Fabric is an in-memory message fabric.
type Fabric struct {
	mu        sync.Mutex
	subs      map[string][]*subscription
	rr        map[string]int
	refused   map[string]bool
	conns     []*Conn
	published []Record
	hook      PublishHook
	drop      DropFunc
}

var _ transport.Dialer = (*Fabric)(nil)

// NewFabric returns an empty fabric.
func NewFabric() *Fabric {
	return &Fabric{
		subs:    make(map[string][]*subscription),
		rr:      make(map[string]int),
		refused: make(map[string]bool),
	}
}

// Dial opens a connection to url.
func (f *Fabric) Dial(url string) (transport.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.refused[url] {
		return nil, fmt.Errorf("dial %s: %w", url, transport.ErrConnectRefused)
	}
	c := &Conn{fabric: f, url: url}
	f.conns = append(f.conns, c)
	return c, nil
}

// Refuse makes future dials of url fail.
func (f *Fabric) Refuse(url string) {
	f.mu.Lock()
	f.refused[url] = true
	f.mu.Unlock()
}

// SetPublishHook installs h, replacing any previous hook.
func (f *Fabric) SetPublishHook(h PublishHook) {
	f.mu.Lock()
	f.hook = h
	f.mu.Unlock()
}

// SetDrop installs a loss filter.
func (f *Fabric) SetDrop(d DropFunc) {
	f.mu.Lock()
	f.drop = d
	f.mu.Unlock()
}

// Published returns the messages accepted on subject, in order.
func (f *Fabric) Published(subject string) []Record {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []Record
	for _, r := range f.published {
		if r.Subject == subject {
			out = append(out, r)
		}
	}
	return out
}

// Conns returns every connection dialed so far.
func (f *Fabric) Conns() []*Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Conn(nil), f.conns...)
}

// OpenConns returns the number of connections not yet closed.
func (f *Fabric) OpenConns() int {
	n := 0
	for _, c := range f.Conns() {
		if !c.IsClosed() {
			n++
		}
	}
	return n
}

// Subscribers returns the number of live subscriptions on subject.
func (f *Fabric) Subscribers(subject string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[subject])
}

func (f *Fabric) publish(c *Conn, subject string, data []byte) error {
	f.mu.Lock()
	hook := f.hook
	f.mu.Unlock()

	// The hook runs unlocked so it may call back into the fabric.
	if hook != nil {
		if err := hook(c.url, subject, data); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	cp := append([]byte{}, data...)
	f.published = append(f.published, Record{URL: c.url, Subject: subject, Data: cp})
	if f.drop != nil && f.drop(subject, cp) {
		return nil
	}

	groups := make(map[string][]*subscription)
	for _, s := range f.subs[subject] {
		if s.queue == "" {
			s.enqueue(&transport.Msg{Subject: subject, Data: cp})
			continue
		}
		groups[s.queue] = append(groups[s.queue], s)
	}
	for q, members := range groups {
		key := subject + "\x00" + q
		i := f.rr[key] % len(members)
		f.rr[key] = i + 1
		members[i].enqueue(&transport.Msg{Subject: subject, Data: cp})
	}
	return nil
}

func (f *Fabric) add(s *subscription) {
	f.mu.Lock()
	f.subs[s.subject] = append(f.subs[s.subject], s)
	f.mu.Unlock()
}

func (f *Fabric) remove(s *subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()

	list := f.subs[s.subject]
	for i, x := range list {
		if x == s {
			f.subs[s.subject] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Conn is a connection to a Fabric.
type Conn struct {
	fabric *Fabric
	url    string

	mu      sync.Mutex
	subs    []*subscription
	closed  bool
	drained bool
}

var _ transport.Conn = (*Conn)(nil)

func (c *Conn) Publish(subject string, data []byte) error {
	if subject == "" {
		return transport.ErrEmptySubject
	}
	if c.IsClosed() {
		return transport.ErrConnectionClosed
	}
	return c.fabric.publish(c, subject, data)
}

func (c *Conn) Subscribe(subject string, h transport.Handler) (transport.Subscription, error) {
	return c.subscribe(subject, "", h)
}

func (c *Conn) QueueSubscribe(subject, queue string, h transport.Handler) (transport.Subscription, error) {
	return c.subscribe(subject, queue, h)
}

func (c *Conn) subscribe(subject, queue string, h transport.Handler) (transport.Subscription, error) {
	if subject == "" {
		return nil, transport.ErrEmptySubject
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, transport.ErrConnectionClosed
	}
	s := newSubscription(c, subject, queue, h)
	c.subs = append(c.subs, s)
	c.mu.Unlock()

	c.fabric.add(s)
	return s, nil
}

// Flush returns at once; fabric publishes are synchronous.
func (c *Conn) Flush(time.Duration) error {
	if c.IsClosed() {
		return transport.ErrConnectionClosed
	}
	return nil
}

// Drain stops new deliveries, waits for queued ones to be handled and
// closes the connection.
func (c *Conn) Drain(timeout time.Duration) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	subs := append([]*subscription(nil), c.subs...)
	c.mu.Unlock()

	for _, s := range subs {
		c.fabric.remove(s)
		s.drain()
	}

	deadline := time.After(timeout)
	for _, s := range subs {
		select {
		case <-s.exited:
		case <-deadline:
			c.Close()
			return transport.ErrDrainTimeout
		}
	}

	c.mu.Lock()
	c.drained = true
	c.mu.Unlock()
	c.Close()
	return nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, s := range subs {
		c.fabric.remove(s)
		s.stop()
	}
}

func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Drained reports whether the connection was closed by a completed Drain.
func (c *Conn) Drained() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drained
}

func (c *Conn) URL() string {
	return c.url
}

func (c *Conn) forget(s *subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, x := range c.subs {
		if x == s {
			c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
			return
		}
	}
}
