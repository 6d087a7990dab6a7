// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package ratecontrol implements the adaptive pacing loop used by the
// publisher: a discrete proportional controller that nudges the
// inter-message delay by roughly 5% per message until the observed
// publish rate matches the target.
package ratecontrol

import (
	"errors"
	"math"
	"time"
)

// stepDivisor gives the ~5% adjustment step (delay / 20).
const stepDivisor = 20

// minStep keeps the controller moving at very small delays.
const minStep = time.Nanosecond

// ErrInvalidCount is returned when the message count cannot seed the controller.
var ErrInvalidCount = errors.New("message count must be at least 1")

// ErrInvalidRate is returned for a non-positive target rate.
var ErrInvalidRate = errors.New("target rate must be at least 1")

// InitialDelay returns the delay the controller starts from.
//
// The seed is one second spread evenly over count messages. It does not
// look at the target rate; that matches the behaviour existing runs are
// compared against, so it is kept as is.
func InitialDelay(count int) (time.Duration, error) {
	if count < 1 {
		return 0, ErrInvalidCount
	}
	return time.Second / time.Duration(count), nil
}

// ObservedRate returns messages per second for sent messages over elapsed.
// A zero or negative elapsed time reads as an infinitely fast rate.
func ObservedRate(sent int, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		if sent <= 0 {
			return 0
		}
		return math.Inf(1)
	}
	return float64(sent) / elapsed.Seconds()
}

// NextDelay computes the delay to apply before the next send.
//
// The observed rate is sent/(now-start). Below target the delay shrinks by
// current/20, above target it grows by the same step, equal leaves it
// unchanged. The step never drops below one nanosecond and the result is
// clamped to be non-negative.
func NextDelay(current time.Duration, sent int, start, now time.Time, target int) time.Duration {
	observed := ObservedRate(sent, now.Sub(start))

	adj := current / stepDivisor
	if adj == 0 {
		adj = minStep
	}

	next := current
	switch {
	case observed < float64(target):
		next -= adj
	case observed > float64(target):
		next += adj
	}
	if next < 0 {
		next = 0
	}
	return next
}

// Controller holds the feedback state for one publishing run. It is owned
// by the sending goroutine and is not safe for concurrent use.
type Controller struct {
	target int
	delay  time.Duration
	start  time.Time
}

// New returns a controller seeded from count and targeting rate msgs/sec.
func New(count, rate int) (*Controller, error) {
	if rate < 1 {
		return nil, ErrInvalidRate
	}
	d, err := InitialDelay(count)
	if err != nil {
		return nil, err
	}
	return &Controller{target: rate, delay: d}, nil
}

// Start fixes the reference time the observed rate is measured from.
func (c *Controller) Start(t time.Time) {
	c.start = t
}

// Started reports the time passed to Start.
func (c *Controller) Started() time.Time {
	return c.start
}

// Delay returns the current inter-message delay.
func (c *Controller) Delay() time.Duration {
	return c.delay
}

// Target returns the target rate in messages per second.
func (c *Controller) Target() int {
	return c.target
}

// Next updates the delay after sent messages and returns it.
func (c *Controller) Next(sent int, now time.Time) time.Duration {
	c.delay = NextDelay(c.delay, sent, c.start, now, c.target)
	return c.delay
}
