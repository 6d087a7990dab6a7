// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package transporttest

import (
	"sync"

	"github.com/absmach/lossbench/transport"
)

// subscription delivers messages to its handler from a dedicated goroutine,
// one at a time and in arrival order.
type subscription struct {
	conn    *Conn
	subject string
	queue   string
	handler transport.Handler

	mu       sync.Mutex
	cond     *sync.Cond
	pending  []*transport.Msg
	draining bool
	stopped  bool
	exited   chan struct{}
}

func newSubscription(c *Conn, subject, queue string, h transport.Handler) *subscription {
	s := &subscription{
		conn:    c,
		subject: subject,
		queue:   queue,
		handler: h,
		exited:  make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.run()
	return s
}

func (s *subscription) Subject() string { return s.subject }
func (s *subscription) Queue() string   { return s.queue }

func (s *subscription) Unsubscribe() error {
	s.conn.fabric.remove(s)
	s.conn.forget(s)
	s.stop()
	return nil
}

func (s *subscription) enqueue(m *transport.Msg) {
	s.mu.Lock()
	if !s.stopped && !s.draining {
		s.pending = append(s.pending, m)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

func (s *subscription) drain() {
	s.mu.Lock()
	s.draining = true
	s.cond.Signal()
	s.mu.Unlock()
}

func (s *subscription) stop() {
	s.mu.Lock()
	s.stopped = true
	s.pending = nil
	s.cond.Signal()
	s.mu.Unlock()
}

func (s *subscription) run() {
	defer close(s.exited)

	for {
		s.mu.Lock()
		for len(s.pending) == 0 && !s.stopped && !s.draining {
			s.cond.Wait()
		}
		if s.stopped || len(s.pending) == 0 {
			s.mu.Unlock()
			return
		}
		m := s.pending[0]
		s.pending[0] = nil
		s.pending = s.pending[1:]
		s.mu.Unlock()

		s.handler(m)
	}
}
