// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/absmach/lossbench/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSender struct {
	mu       sync.Mutex
	calls    int32
	payloads [][]byte
	sendFunc func(ctx context.Context, url string, headers map[string]string, payload []byte, timeout time.Duration) error
}

func (m *mockSender) Send(ctx context.Context, url string, headers map[string]string, payload []byte, timeout time.Duration) error {
	atomic.AddInt32(&m.calls, 1)
	m.mu.Lock()
	m.payloads = append(m.payloads, payload)
	m.mu.Unlock()
	if m.sendFunc != nil {
		return m.sendFunc(ctx, url, headers, payload, timeout)
	}
	return nil
}

func (m *mockSender) count() int32 { return atomic.LoadInt32(&m.calls) }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(endpoints ...config.WebhookEndpoint) config.WebhookConfig {
	return config.WebhookConfig{
		Enabled:         true,
		QueueSize:       100,
		DropPolicy:      "oldest",
		Workers:         2,
		ShutdownTimeout: time.Second,
		Defaults: config.WebhookDefaults{
			Timeout: time.Second,
			Retry: config.RetryConfig{
				MaxAttempts:     3,
				InitialInterval: 10 * time.Millisecond,
				MaxInterval:     50 * time.Millisecond,
				Multiplier:      2.0,
			},
			CircuitBreaker: config.CircuitBreakerConfig{
				FailureThreshold: 5,
				ResetTimeout:     time.Minute,
			},
		},
		Endpoints: endpoints,
	}
}

func TestNewWebhook(t *testing.T) {
	_, err := NewWebhook(testConfig(), "run", nil, testLogger())
	assert.Error(t, err)

	w, err := NewWebhook(testConfig(config.WebhookEndpoint{Name: "ops", URL: "http://x"}), "run", &mockSender{}, testLogger())
	require.NoError(t, err)
	assert.Len(t, w.endpoints, 1)
	assert.Contains(t, w.breakers, "ops")
	require.NoError(t, w.Close())
}

func TestWebhook_Notify(t *testing.T) {
	sender := &mockSender{}
	w, err := NewWebhook(testConfig(config.WebhookEndpoint{Name: "ops", URL: "http://x"}), "run-1", sender, testLogger())
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Notify(context.Background(), MigrationStarted{Role: "publisher", Source: "http", TargetURL: "nats://b:4222"}))

	require.Eventually(t, func() bool { return sender.count() == 1 }, time.Second, 5*time.Millisecond)

	sender.mu.Lock()
	payload := sender.payloads[0]
	sender.mu.Unlock()

	var env map[string]any
	require.NoError(t, json.Unmarshal(payload, &env))
	assert.Equal(t, TypeMigrationStarted, env["event_type"])
	assert.Equal(t, "run-1", env["run_id"])
	assert.NotEmpty(t, env["event_id"])
	data := env["data"].(map[string]any)
	assert.Equal(t, "nats://b:4222", data["target_url"])
}

func TestWebhook_EventFilter(t *testing.T) {
	sender := &mockSender{}
	ep := config.WebhookEndpoint{Name: "ops", URL: "http://x", Events: []string{TypeRunCompleted}}
	w, err := NewWebhook(testConfig(ep), "run", sender, testLogger())
	require.NoError(t, err)

	require.NoError(t, w.Notify(context.Background(), RunStarted{Role: "publisher"}))
	require.NoError(t, w.Notify(context.Background(), RunCompleted{}))
	require.NoError(t, w.Close())

	assert.Equal(t, int32(1), sender.count())
}

func TestWebhook_Retry(t *testing.T) {
	var attempts int32
	sender := &mockSender{
		sendFunc: func(context.Context, string, map[string]string, []byte, time.Duration) error {
			if atomic.AddInt32(&attempts, 1) < 3 {
				return errors.New("temporary failure")
			}
			return nil
		},
	}
	w, err := NewWebhook(testConfig(config.WebhookEndpoint{Name: "ops", URL: "http://x"}), "run", sender, testLogger())
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Notify(context.Background(), RunStarted{}))
	require.Eventually(t, func() bool { return atomic.LoadInt32(&attempts) == 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestWebhook_MaxRetries(t *testing.T) {
	sender := &mockSender{
		sendFunc: func(context.Context, string, map[string]string, []byte, time.Duration) error {
			return errors.New("permanent failure")
		},
	}
	w, err := NewWebhook(testConfig(config.WebhookEndpoint{Name: "ops", URL: "http://x"}), "run", sender, testLogger())
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Notify(context.Background(), RunStarted{}))
	require.Eventually(t, func() bool { return sender.count() == 3 }, 2*time.Second, 5*time.Millisecond)

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(3), sender.count())
}

func TestWebhook_EndpointRetryOverride(t *testing.T) {
	sender := &mockSender{
		sendFunc: func(context.Context, string, map[string]string, []byte, time.Duration) error {
			return errors.New("down")
		},
	}
	ep := config.WebhookEndpoint{
		Name:  "ops",
		URL:   "http://x",
		Retry: &config.RetryConfig{MaxAttempts: 1, InitialInterval: time.Millisecond, Multiplier: 1},
	}
	w, err := NewWebhook(testConfig(ep), "run", sender, testLogger())
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Notify(context.Background(), RunStarted{}))
	require.Eventually(t, func() bool { return sender.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), sender.count())
}

func TestRetryDelay(t *testing.T) {
	cfg := config.RetryConfig{InitialInterval: time.Second, MaxInterval: 5 * time.Second, Multiplier: 2}

	assert.Equal(t, 2*time.Second, retryDelay(1, cfg))
	assert.Equal(t, 4*time.Second, retryDelay(2, cfg))
	assert.Equal(t, 5*time.Second, retryDelay(3, cfg))
}

func TestNop(t *testing.T) {
	var n Notifier = Nop{}
	assert.NoError(t, n.Notify(context.Background(), RunStarted{}))
	assert.NoError(t, n.Close())
}

func TestHTTPSender(t *testing.T) {
	var got struct {
		contentType string
		auth        string
		body        []byte
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.contentType = r.Header.Get("Content-Type")
		got.auth = r.Header.Get("Authorization")
		got.body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewHTTPSender()
	err := s.Send(context.Background(), srv.URL, map[string]string{"Authorization": "Bearer t"}, []byte(`{"a":1}`), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "application/json", got.contentType)
	assert.Equal(t, "Bearer t", got.auth)
	assert.JSONEq(t, `{"a":1}`, string(got.body))
}

func TestHTTPSender_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewHTTPSender().Send(context.Background(), srv.URL, nil, []byte("{}"), time.Second)
	assert.ErrorContains(t, err, "502")
}

func TestHTTPSender_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "endpoint disabled", http.StatusGone)
	}))
	defer srv.Close()

	err := NewHTTPSender().Send(context.Background(), srv.URL, nil, []byte("{}"), time.Second)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusGone, se.Code)
	assert.Equal(t, "endpoint disabled", se.Body)
}

func TestHTTPSender_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	err := NewHTTPSender().Send(context.Background(), srv.URL, nil, []byte("{}"), 50*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}
