// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package transport

import "time"

// Default values.
const (
	DefaultConnectTimeout   = 5 * time.Second
	DefaultPingInterval     = 10 * time.Second
	DefaultReconnectWait    = 5 * time.Second
	DefaultMaxReconnects    = 1024
	DefaultDrainTimeout     = 5 * time.Second
	DefaultReconnectBufSize = 8 * 1024 * 1024
)

// OutageWindow is the publishing outage the reconnect buffer is sized to
// absorb.
const OutageWindow = 15 * time.Second

// Options configures connections produced by a Dialer.
type Options struct {
	Name             string        // Logical connection name shown by the server
	DefaultURL       string        // Used when Dial is given an empty url
	ConnectTimeout   time.Duration // Upper bound on establishing a connection
	PingInterval     time.Duration // Keep-alive interval
	ReconnectWait    time.Duration // Backoff between reconnect attempts
	MaxReconnects    int           // Reconnect attempt cap
	ReconnectBufSize int           // Bytes buffered while reconnecting
	DrainTimeout     time.Duration // Bound applied by the server library to drains
	Listener         Listener      // Connection level notifications (nil = none)
}

// NewOptions returns Options with the defaults filled in.
func NewOptions(name string) Options {
	return Options{
		Name:             name,
		ConnectTimeout:   DefaultConnectTimeout,
		PingInterval:     DefaultPingInterval,
		ReconnectWait:    DefaultReconnectWait,
		MaxReconnects:    DefaultMaxReconnects,
		ReconnectBufSize: DefaultReconnectBufSize,
		DrainTimeout:     DefaultDrainTimeout,
	}
}

// ReconnectBufferFor returns the reconnect buffer needed to hold
// OutageWindow worth of publishing size-byte messages at rate msgs/sec.
func ReconnectBufferFor(size, rate int) int {
	return size * rate * int(OutageWindow/time.Second)
}

// ResolveURL returns url, or the default when url is empty.
func (o Options) ResolveURL(url string) string {
	if url == "" {
		return o.DefaultURL
	}
	return url
}
