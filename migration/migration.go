// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package migration holds the contract between a running benchmark side
// and the control channel that moves it to another server.
package migration

import (
	"context"
	"errors"

	"github.com/absmach/lossbench/transport"
)

// Handler is implemented by both benchmark sides.
type Handler interface {
	// Migrate hands traffic over to a fresh connection to targetURL (the
	// default server when empty) and returns it. It is safe to call while
	// traffic flows. On error the previous connection stays active.
	Migrate(ctx context.Context, targetURL string) (transport.Conn, error)

	// OnMigrationError reports a failed attempt. It never ends the run.
	OnMigrationError(err error)
}

// ErrNoMigrateFunc is returned by HandlerFuncs without a MigrateFunc.
var ErrNoMigrateFunc = errors.New("no migrate function set")

// HandlerFuncs adapts plain functions to Handler.
type HandlerFuncs struct {
	MigrateFunc func(ctx context.Context, targetURL string) (transport.Conn, error)
	ErrorFunc   func(err error)
}

var _ Handler = HandlerFuncs{}

// Migrate calls MigrateFunc, or fails with ErrNoMigrateFunc when it is nil.
func (h HandlerFuncs) Migrate(ctx context.Context, targetURL string) (transport.Conn, error) {
	if h.MigrateFunc == nil {
		return nil, ErrNoMigrateFunc
	}
	return h.MigrateFunc(ctx, targetURL)
}

// OnMigrationError calls ErrorFunc if set.
func (h HandlerFuncs) OnMigrationError(err error) {
	if h.ErrorFunc != nil {
		h.ErrorFunc(err)
	}
}
