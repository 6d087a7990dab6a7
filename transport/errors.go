// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package transport

import "errors"

// Transport errors.
var (
	ErrConnectionClosed  = errors.New("connection closed")
	ErrNotConnected      = errors.New("not connected")
	ErrFlushTimeout      = errors.New("flush timed out")
	ErrDrainTimeout      = errors.New("drain timed out")
	ErrConnectRefused    = errors.New("connection refused")
	ErrUnsupportedScheme = errors.New("unsupported server url scheme")
	ErrEmptySubject      = errors.New("subject cannot be empty")
)
