// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package loss

import (
	"context"
	"time"
)

type sleepFunc func(ctx context.Context, d time.Duration) error

type tickerFunc func(d time.Duration) (<-chan time.Time, func())

// sleep blocks for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func newTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}
