// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"fmt"
	"testing"
	"time"

	"github.com/absmach/lossbench/loss"
	"github.com/absmach/lossbench/stats"
	"github.com/absmach/lossbench/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_SaveGet(t *testing.T) {
	s := newStore(t)

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := &loss.Report{
		ID:        "run-1",
		Role:      loss.RolePublisher,
		Server:    "nats://127.0.0.1:4222",
		Subject:   "foo",
		StartedAt: started,
		Elapsed:   3 * time.Second,
		Sent:      1000,
		Latency:   &stats.Summary{Count: 1000, P99: 2 * time.Millisecond},
	}
	require.NoError(t, s.Save(r))

	got, err := s.Get("run-1")
	require.NoError(t, err)
	assert.Equal(t, r.Sent, got.Sent)
	assert.Equal(t, r.Elapsed, got.Elapsed)
	assert.True(t, started.Equal(got.StartedAt))
	require.NotNil(t, got.Latency)
	assert.Equal(t, 2*time.Millisecond, got.Latency.P99)

	_, err = s.Get("run-2")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, s.Save(&loss.Report{}), storage.ErrNoID)
}

func TestStore_ListNewestFirst(t *testing.T) {
	s := newStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		role := loss.RolePublisher
		if i%2 == 1 {
			role = loss.RoleSubscriber
		}
		require.NoError(t, s.Save(&loss.Report{
			ID:        fmt.Sprintf("run-%d", i),
			Role:      role,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	pubs, err := s.List(loss.RolePublisher, 0)
	require.NoError(t, err)
	require.Len(t, pubs, 3)
	assert.Equal(t, "run-4", pubs[0].ID)
	assert.Equal(t, "run-2", pubs[1].ID)
	assert.Equal(t, "run-0", pubs[2].ID)

	subs, err := s.List(loss.RoleSubscriber, 1)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "run-3", subs[0].ID)

	all, err := s.List("", 3)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"run-4", "run-3", "run-2"}, []string{all[0].ID, all[1].ID, all[2].ID})
}

func TestStore_Resave(t *testing.T) {
	s := newStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Save(&loss.Report{ID: "run", Role: loss.RoleSubscriber, StartedAt: base, Received: 1}))
	require.NoError(t, s.Save(&loss.Report{ID: "run", Role: loss.RoleSubscriber, StartedAt: base.Add(time.Hour), Received: 2}))

	subs, err := s.List(loss.RoleSubscriber, 0)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, int64(2), subs[0].Received)
}

func TestStore_Delete(t *testing.T) {
	s := newStore(t)

	require.NoError(t, s.Save(&loss.Report{ID: "run", Role: loss.RolePublisher, StartedAt: time.Now()}))
	require.NoError(t, s.Delete("run"))
	require.NoError(t, s.Delete("run"))

	_, err := s.Get("run")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	list, err := s.List("", 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStore_Reopen(t *testing.T) {
	dir := t.TempDir()

	s, err := New(Config{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, s.Save(&loss.Report{ID: "run", Role: loss.RolePublisher, StartedAt: time.Now(), Sent: 7}))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	s, err = New(Config{Dir: dir})
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get("run")
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.Sent)
}
