// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package stats keeps concurrent duration distributions.
package stats

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// maxTrackable is the largest duration recorded without clamping.
const maxTrackable = 10 * time.Minute

// Histogram is a thread-safe HDR histogram of durations with microsecond
// resolution.
type Histogram struct {
	mu   sync.Mutex
	hist *hdrhistogram.Histogram
}

// NewHistogram tracks 1us to 10min at 3 significant figures.
func NewHistogram() *Histogram {
	return &Histogram{
		hist: hdrhistogram.New(1, int64(maxTrackable/time.Microsecond), 3),
	}
}

// Record adds d. Values outside the trackable range are clamped.
func (h *Histogram) Record(d time.Duration) {
	us := int64(d / time.Microsecond)
	if us < 1 {
		us = 1
	}
	if max := int64(maxTrackable / time.Microsecond); us > max {
		us = max
	}

	h.mu.Lock()
	_ = h.hist.RecordValue(us)
	h.mu.Unlock()
}

// Quantile returns the value at q (0-100).
func (h *Histogram) Quantile(q float64) time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return time.Duration(h.hist.ValueAtQuantile(q)) * time.Microsecond
}

// Max returns the largest recorded value.
func (h *Histogram) Max() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return time.Duration(h.hist.Max()) * time.Microsecond
}

// Mean returns the average recorded value.
func (h *Histogram) Mean() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return time.Duration(h.hist.Mean() * float64(time.Microsecond))
}

// Count returns the number of recorded values.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.TotalCount()
}

// Summary is a fixed set of quantiles.
type Summary struct {
	Count int64         `json:"count"`
	Mean  time.Duration `json:"mean"`
	P50   time.Duration `json:"p50"`
	P99   time.Duration `json:"p99"`
	Max   time.Duration `json:"max"`
}

// Summary snapshots the distribution.
func (h *Histogram) Summary() Summary {
	h.mu.Lock()
	defer h.mu.Unlock()

	us := func(v int64) time.Duration { return time.Duration(v) * time.Microsecond }
	return Summary{
		Count: h.hist.TotalCount(),
		Mean:  time.Duration(h.hist.Mean() * float64(time.Microsecond)),
		P50:   us(h.hist.ValueAtQuantile(50)),
		P99:   us(h.hist.ValueAtQuantile(99)),
		Max:   us(h.hist.Max()),
	}
}
