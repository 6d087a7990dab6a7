// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"testing"
	"time"
)

func TestLimiter_Allow(t *testing.T) {
	// 5 requests per second, burst of 2
	limiter := New(5, 2, time.Minute)
	defer limiter.Stop()

	if !limiter.Allow("192.168.1.1") {
		t.Error("First request should be allowed")
	}
	if !limiter.Allow("192.168.1.1") {
		t.Error("Second request (within burst) should be allowed")
	}
	if limiter.Allow("192.168.1.1") {
		t.Error("Third request should be rate limited (burst exhausted)")
	}

	time.Sleep(250 * time.Millisecond)

	if !limiter.Allow("192.168.1.1") {
		t.Error("Request after token refill should be allowed")
	}
}

func TestLimiter_DifferentSources(t *testing.T) {
	limiter := New(1, 1, time.Minute)
	defer limiter.Stop()

	if !limiter.Allow("lossbench.control.publisher") {
		t.Error("First request from publisher subject should be allowed")
	}
	if !limiter.Allow("10.0.0.7") {
		t.Error("First request from HTTP client should be allowed")
	}
	if limiter.Allow("lossbench.control.publisher") {
		t.Error("Second request from publisher subject should be rate limited")
	}
	if limiter.Len() != 2 {
		t.Errorf("expected 2 tracked sources, got %d", limiter.Len())
	}
}

func TestLimiter_EmptySource(t *testing.T) {
	limiter := New(1, 1, time.Minute)
	defer limiter.Stop()

	for i := 0; i < 5; i++ {
		if !limiter.Allow("") {
			t.Fatal("Empty source should always be allowed")
		}
	}
	if limiter.Len() != 0 {
		t.Errorf("empty source should not be tracked, got %d", limiter.Len())
	}
}

func TestLimiter_RemoveStale(t *testing.T) {
	limiter := New(1, 1, time.Minute)
	defer limiter.Stop()

	limiter.Allow("a")
	limiter.Allow("b")

	limiter.removeStale(time.Now().Add(time.Second))
	if limiter.Len() != 0 {
		t.Errorf("expected stale sources to be removed, got %d", limiter.Len())
	}
}

func TestLimiter_StopTwice(t *testing.T) {
	limiter := New(1, 1, time.Minute)
	limiter.Stop()
	limiter.Stop()
}

func TestHost(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{"192.168.1.1:5555", "192.168.1.1"},
		{"[::1]:8080", "::1"},
		{"10.0.0.1", "10.0.0.1"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := Host(tt.addr); got != tt.want {
			t.Errorf("Host(%q) = %q, want %q", tt.addr, got, tt.want)
		}
	}
}
