// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/absmach/lossbench/loss"
	"github.com/absmach/lossbench/storage"
	"github.com/dgraph-io/badger/v4"
)

var _ storage.ReportStore = (*Store)(nil)

// Key format:
//   - Report: report/{id}
//   - Index:  started/{role}/{unixNano:020d}/{id}
const (
	reportPrefix = "report/"
	indexPrefix  = "started/"
)

// Store keeps reports in BadgerDB.
type Store struct {
	db *badger.DB

	gcStopCh chan struct{}
	gcDone   chan struct{}
	closed   bool
	mu       sync.Mutex
}

// Config holds BadgerDB configuration.
type Config struct {
	Dir string // Directory for BadgerDB data
}

// New opens (or creates) a report store in cfg.Dir.
func New(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Dir)
	opts.Logger = nil
	opts.SyncWrites = true
	opts.NumVersionsToKeep = 1
	opts.NumCompactors = 2

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	s := &Store{
		db:       db,
		gcStopCh: make(chan struct{}),
		gcDone:   make(chan struct{}),
	}
	go s.runGC()

	return s, nil
}

func reportKey(id string) []byte {
	return []byte(reportPrefix + id)
}

func indexKey(r *loss.Report) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d/%s", indexPrefix, r.Role, r.StartedAt.UnixNano(), r.ID))
}

// Save stores r and its time index entry.
func (s *Store) Save(r *loss.Report) error {
	if r.ID == "" {
		return storage.ErrNoID
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		prev, err := get(txn, r.ID)
		switch {
		case err == nil:
			if err := txn.Delete(indexKey(prev)); err != nil {
				return err
			}
		case !errors.Is(err, storage.ErrNotFound):
			return err
		}

		if err := txn.Set(reportKey(r.ID), data); err != nil {
			return err
		}
		return txn.Set(indexKey(r), []byte(r.ID))
	})
}

// Get retrieves a report by id.
func (s *Store) Get(id string) (*loss.Report, error) {
	var r *loss.Report
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		r, err = get(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func get(txn *badger.Txn, id string) (*loss.Report, error) {
	item, err := txn.Get(reportKey(id))
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}

	r := &loss.Report{}
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, r)
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report %s: %w", id, err)
	}
	return r, nil
}

// List walks the time index newest first.
func (s *Store) List(role string, limit int) ([]*loss.Report, error) {
	if role == "" {
		pubs, err := s.List(loss.RolePublisher, limit)
		if err != nil {
			return nil, err
		}
		subs, err := s.List(loss.RoleSubscriber, limit)
		if err != nil {
			return nil, err
		}
		return merge(pubs, subs, limit), nil
	}

	prefix := []byte(indexPrefix + role + "/")
	var out []*loss.Report

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts at the largest key <= seek.
		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			id, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			r, err := get(txn, string(id))
			if err != nil {
				return err
			}
			out = append(out, r)
			if limit > 0 && len(out) == limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func merge(a, b []*loss.Report, limit int) []*loss.Report {
	out := make([]*loss.Report, 0, len(a)+len(b))
	for len(a) > 0 || len(b) > 0 {
		if limit > 0 && len(out) == limit {
			break
		}
		if len(b) == 0 || (len(a) > 0 && !a[0].StartedAt.Before(b[0].StartedAt)) {
			out, a = append(out, a[0]), a[1:]
			continue
		}
		out, b = append(out, b[0]), b[1:]
	}
	return out
}

// Delete removes a report and its index entry.
func (s *Store) Delete(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		r, err := get(txn, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil
			}
			return err
		}
		if err := txn.Delete(indexKey(r)); err != nil {
			return err
		}
		return txn.Delete(reportKey(id))
	})
}

// Close stops value log GC and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.gcStopCh)
	<-s.gcDone

	return s.db.Close()
}

func (s *Store) runGC() {
	defer close(s.gcDone)

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Returns an error when there is nothing to collect.
			_ = s.db.RunValueLogGC(0.5)
		case <-s.gcStopCh:
			return
		}
	}
}
