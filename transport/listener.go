// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package transport

import "log/slog"

// Event is a connection state change reported by a transport.
type Event uint8

// Connection events.
const (
	EventConnected Event = iota
	EventDisconnected
	EventReconnected
	EventResubscribed
	EventDiscoveredServers
	EventLameDuck
	EventClosed
)

// String returns the event name.
func (e Event) String() string {
	switch e {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventReconnected:
		return "reconnected"
	case EventResubscribed:
		return "resubscribed"
	case EventDiscoveredServers:
		return "discovered_servers"
	case EventLameDuck:
		return "lame_duck"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Listener receives connection level notifications. Implementations must
// not block and must not be used to drive control flow.
type Listener interface {
	// ErrorOccurred reports an asynchronous error sent by the server.
	ErrorOccurred(conn string, err error)

	// ExceptionOccurred reports a local failure such as a lost socket.
	ExceptionOccurred(conn string, err error)

	// SlowConsumerDetected reports a subscription falling behind.
	SlowConsumerDetected(conn, subject string)

	// ConnectionEvent reports a connection state change.
	ConnectionEvent(conn string, ev Event)
}

// LogListener logs every notification through slog.
type LogListener struct {
	Logger *slog.Logger
}

var _ Listener = (*LogListener)(nil)

// NewLogListener returns a Listener logging to logger (nil = default).
func NewLogListener(logger *slog.Logger) *LogListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogListener{Logger: logger}
}

func (l *LogListener) ErrorOccurred(conn string, err error) {
	l.Logger.Error("transport error", "conn", conn, "error", err)
}

func (l *LogListener) ExceptionOccurred(conn string, err error) {
	l.Logger.Error("transport exception", "conn", conn, "error", err)
}

func (l *LogListener) SlowConsumerDetected(conn, subject string) {
	l.Logger.Warn("slow consumer", "conn", conn, "subject", subject)
}

// ConnectionEvent logs state changes, skipping the routine ones.
func (l *LogListener) ConnectionEvent(conn string, ev Event) {
	switch ev {
	case EventConnected, EventDiscoveredServers, EventResubscribed:
		return
	}
	l.Logger.Info("connection event", "conn", conn, "event", ev.String())
}
