// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package migration

import (
	"sync"

	"github.com/absmach/lossbench/transport"
)

// Active is the connection currently carrying traffic. The lock covers the
// reference only; callers never publish or drain while holding it.
type Active struct {
	mu   sync.Mutex
	conn transport.Conn
	gen  uint64
}

// NewActive returns a handle holding c (which may be nil).
func NewActive(c transport.Conn) *Active {
	a := &Active{conn: c}
	if c != nil {
		a.gen = 1
	}
	return a
}

// Load returns the active connection, or nil while unset.
func (a *Active) Load() transport.Conn {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn
}

// LoadGen returns the active connection with its generation. The
// generation increases on every Swap and Clear.
func (a *Active) LoadGen() (transport.Conn, uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn, a.gen
}

// Gen returns the current generation.
func (a *Active) Gen() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.gen
}

// Swap installs c and returns the previous connection.
func (a *Active) Swap(c transport.Conn) transport.Conn {
	a.mu.Lock()
	defer a.mu.Unlock()
	old := a.conn
	a.conn = c
	a.gen++
	return old
}

// Clear unsets the handle and returns what it held.
func (a *Active) Clear() transport.Conn {
	return a.Swap(nil)
}
