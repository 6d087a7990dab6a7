// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"sort"
	"sync"

	"github.com/absmach/lossbench/loss"
	"github.com/absmach/lossbench/storage"
)

var _ storage.ReportStore = (*Store)(nil)

// Store is an in-memory report store.
type Store struct {
	mu      sync.RWMutex
	reports map[string]loss.Report
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{reports: make(map[string]loss.Report)}
}

func (s *Store) Save(r *loss.Report) error {
	if r.ID == "" {
		return storage.ErrNoID
	}
	s.mu.Lock()
	s.reports[r.ID] = *r
	s.mu.Unlock()
	return nil
}

func (s *Store) Get(id string) (*loss.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reports[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &r, nil
}

func (s *Store) List(role string, limit int) ([]*loss.Report, error) {
	s.mu.RLock()
	out := make([]*loss.Report, 0, len(s.reports))
	for _, r := range s.reports {
		if role != "" && r.Role != role {
			continue
		}
		r := r
		out = append(out, &r)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Delete(id string) error {
	s.mu.Lock()
	delete(s.reports, id)
	s.mu.Unlock()
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}
