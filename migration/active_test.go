// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package migration

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/absmach/lossbench/transport"
	"github.com/absmach/lossbench/transport/transporttest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActiveSwap(t *testing.T) {
	f := transporttest.NewFabric()
	c1, err := f.Dial("nats://a:4222")
	require.NoError(t, err)
	c2, err := f.Dial("nats://b:4222")
	require.NoError(t, err)

	a := NewActive(c1)
	conn, gen := a.LoadGen()
	assert.Equal(t, c1, conn)
	assert.Equal(t, uint64(1), gen)

	old := a.Swap(c2)
	assert.Equal(t, c1, old)
	assert.Equal(t, c2, a.Load())
	assert.Equal(t, uint64(2), a.Gen())

	assert.Equal(t, c2, a.Clear())
	assert.Nil(t, a.Load())
	assert.Equal(t, uint64(3), a.Gen())
}

func TestActiveUnset(t *testing.T) {
	a := NewActive(nil)
	assert.Nil(t, a.Load())
	assert.Equal(t, uint64(0), a.Gen())
}

func TestActiveConcurrent(t *testing.T) {
	f := transporttest.NewFabric()
	conns := make([]transport.Conn, 4)
	for i := range conns {
		c, err := f.Dial("nats://a:4222")
		require.NoError(t, err)
		conns[i] = c
	}

	a := NewActive(conns[0])
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if i%2 == 0 {
					a.Swap(conns[j%len(conns)])
					continue
				}
				_ = a.Load()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, uint64(1+4*100), a.Gen())
}

func TestHandlerFuncs(t *testing.T) {
	var reported error
	h := HandlerFuncs{
		MigrateFunc: func(context.Context, string) (transport.Conn, error) {
			return nil, errors.New("unreachable")
		},
		ErrorFunc: func(err error) { reported = err },
	}

	_, err := h.Migrate(context.Background(), "nats://x:4222")
	require.Error(t, err)
	h.OnMigrationError(err)
	assert.Equal(t, err, reported)

	HandlerFuncs{}.OnMigrationError(err)
}

func TestHandlerFuncsWithoutMigrate(t *testing.T) {
	var reported error
	h := HandlerFuncs{ErrorFunc: func(err error) { reported = err }}

	conn, err := h.Migrate(context.Background(), "nats://x:4222")
	assert.Nil(t, conn)
	assert.ErrorIs(t, err, ErrNoMigrateFunc)
	h.OnMigrationError(err)
	assert.ErrorIs(t, reported, ErrNoMigrateFunc)
}
