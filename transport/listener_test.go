// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventString(t *testing.T) {
	tests := []struct {
		ev   Event
		want string
	}{
		{EventConnected, "connected"},
		{EventDisconnected, "disconnected"},
		{EventReconnected, "reconnected"},
		{EventResubscribed, "resubscribed"},
		{EventDiscoveredServers, "discovered_servers"},
		{EventLameDuck, "lame_duck"},
		{EventClosed, "closed"},
		{Event(99), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.ev.String())
	}
}

func TestLogListener(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogListener(slog.New(slog.NewTextHandler(&buf, nil)))

	l.ConnectionEvent("pub", EventConnected)
	l.ConnectionEvent("pub", EventResubscribed)
	assert.Empty(t, buf.String())

	l.ConnectionEvent("pub", EventReconnected)
	assert.Contains(t, buf.String(), "event=reconnected")

	buf.Reset()
	l.ErrorOccurred("sub", errors.New("authorization violation"))
	assert.Contains(t, buf.String(), "level=ERROR")
	assert.Contains(t, buf.String(), "authorization violation")

	buf.Reset()
	l.SlowConsumerDetected("sub", "foo")
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "subject=foo")
}

func TestNewLogListenerDefault(t *testing.T) {
	assert.NotNil(t, NewLogListener(nil).Logger)
}
