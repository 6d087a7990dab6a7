// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package mqtt

import (
	"errors"
	"sync"
	"time"

	"github.com/absmach/lossbench/transport"
	paho "github.com/eclipse/paho.mqtt.golang"
)

// opTimeout bounds subscribe and unsubscribe round-trips.
const opTimeout = 5 * time.Second

var _ transport.Conn = (*conn)(nil)

type conn struct {
	client paho.Client
	url    string

	mu     sync.Mutex
	subs   map[string]*subscription
	last   paho.Token
	closed bool
}

// Publish sends at QoS 0. The last token is kept so Flush can wait on it.
func (c *conn) Publish(subject string, data []byte) error {
	if subject == "" {
		return transport.ErrEmptySubject
	}
	if c.IsClosed() {
		return transport.ErrConnectionClosed
	}
	if data == nil {
		data = []byte{}
	}

	tok := c.client.Publish(subject, 0, false, data)

	c.mu.Lock()
	c.last = tok
	c.mu.Unlock()

	select {
	case <-tok.Done():
		return tok.Error()
	default:
		return nil
	}
}

func (c *conn) Subscribe(subject string, h transport.Handler) (transport.Subscription, error) {
	return c.subscribe(subject, "", h)
}

func (c *conn) QueueSubscribe(subject, queue string, h transport.Handler) (transport.Subscription, error) {
	return c.subscribe(subject, queue, h)
}

func (c *conn) subscribe(subject, queue string, h transport.Handler) (transport.Subscription, error) {
	if subject == "" {
		return nil, transport.ErrEmptySubject
	}
	if c.IsClosed() {
		return nil, transport.ErrConnectionClosed
	}

	filter := SharedTopic(queue, subject)
	tok := c.client.Subscribe(filter, 0, func(_ paho.Client, m paho.Message) {
		h(&transport.Msg{Subject: m.Topic(), Data: m.Payload()})
	})
	if err := waitToken(tok, opTimeout); err != nil {
		return nil, err
	}

	s := &subscription{conn: c, subject: subject, queue: queue, filter: filter}
	c.mu.Lock()
	c.subs[filter] = s
	c.mu.Unlock()
	return s, nil
}

// Flush waits for the most recent publish to be written.
func (c *conn) Flush(timeout time.Duration) error {
	if c.IsClosed() {
		return transport.ErrConnectionClosed
	}
	if !c.client.IsConnectionOpen() {
		return transport.ErrNotConnected
	}

	c.mu.Lock()
	tok := c.last
	c.mu.Unlock()
	if tok == nil {
		return nil
	}
	return waitToken(tok, timeout)
}

// Drain unsubscribes every filter, waits for the last publish and
// disconnects with a quiesce period bounded by timeout.
func (c *conn) Drain(timeout time.Duration) error {
	if c.IsClosed() {
		return nil
	}
	deadline := time.Now().Add(timeout)

	c.mu.Lock()
	filters := make([]string, 0, len(c.subs))
	for f := range c.subs {
		filters = append(filters, f)
	}
	c.subs = make(map[string]*subscription)
	c.mu.Unlock()

	var errs []error
	if len(filters) > 0 {
		if err := waitToken(c.client.Unsubscribe(filters...), time.Until(deadline)); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.Flush(time.Until(deadline)); err != nil && !errors.Is(err, transport.ErrNotConnected) {
		errs = append(errs, err)
	}

	quiesce := time.Until(deadline)
	if quiesce < 0 {
		quiesce = 0
	}
	c.disconnect(uint(quiesce / time.Millisecond))

	if time.Now().After(deadline) {
		errs = append(errs, transport.ErrDrainTimeout)
	}
	return errors.Join(errs...)
}

func (c *conn) Close() {
	c.disconnect(0)
}

func (c *conn) disconnect(quiesceMs uint) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.client.Disconnect(quiesceMs)
}

func (c *conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *conn) URL() string {
	return c.url
}

type subscription struct {
	conn    *conn
	subject string
	queue   string
	filter  string
}

func (s *subscription) Subject() string { return s.subject }
func (s *subscription) Queue() string   { return s.queue }

func (s *subscription) Unsubscribe() error {
	c := s.conn
	c.mu.Lock()
	if _, ok := c.subs[s.filter]; !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.subs, s.filter)
	c.mu.Unlock()

	return waitToken(c.client.Unsubscribe(s.filter), opTimeout)
}
