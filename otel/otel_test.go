// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"context"
	"testing"
	"time"

	"github.com/absmach/lossbench/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func testRun() Run {
	return Run{
		ID:         "run-1",
		Role:       "publisher",
		Server:     "nats://a:4222",
		Subject:    "foo",
		Count:      1000,
		Rate:       500,
		Size:       64,
		Migratable: true,
	}
}

func TestResource(t *testing.T) {
	cfg := config.Default().Metrics
	res, err := Resource(cfg, testRun())
	require.NoError(t, err)

	set := res.Set()
	for key, want := range map[attribute.Key]attribute.Value{
		"service.name":        attribute.StringValue("lossbench"),
		"service.instance.id": attribute.StringValue("run-1"),
		AttrRole:              attribute.StringValue("publisher"),
		AttrServer:            attribute.StringValue("nats://a:4222"),
		AttrSubject:           attribute.StringValue("foo"),
		AttrCount:             attribute.IntValue(1000),
		AttrRate:              attribute.IntValue(500),
		AttrSize:              attribute.IntValue(64),
	} {
		got, ok := set.Value(key)
		require.True(t, ok, "missing %s", key)
		assert.Equal(t, want, got, key)
	}
}

func TestResourceSubscriber(t *testing.T) {
	res, err := Resource(config.Default().Metrics, Run{ID: "run-2", Role: "subscriber", Subject: "foo"})
	require.NoError(t, err)

	_, ok := res.Set().Value(AttrCount)
	assert.False(t, ok)
	v, ok := res.Set().Value(AttrRole)
	require.True(t, ok)
	assert.Equal(t, "subscriber", v.AsString())
}

func TestTracesEnabled(t *testing.T) {
	cases := []struct {
		name       string
		traces     bool
		rate       float64
		migratable bool
		want       bool
	}{
		{"enabled", true, 1, true, true},
		{"traces off", false, 1, true, false},
		{"zero sample rate", true, 0, true, false},
		{"no migrations", true, 1, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default().Metrics
			cfg.TracesEnabled = tc.traces
			cfg.TraceSampleRate = tc.rate
			run := testRun()
			run.Migratable = tc.migratable
			assert.Equal(t, tc.want, TracesEnabled(cfg, run))
		})
	}
}

func TestSetup(t *testing.T) {
	cfg := config.Default().Metrics
	cfg.Enabled = true
	cfg.TracesEnabled = true

	p, err := Setup(context.Background(), cfg, testRun())
	require.NoError(t, err)
	assert.NotNil(t, p.Tracer())

	m, err := p.Metrics()
	require.NoError(t, err)
	m.RecordRetry()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = p.Shutdown(ctx)
}

func TestSetupWithoutTraces(t *testing.T) {
	cfg := config.Default().Metrics
	cfg.Enabled = true
	run := testRun()
	run.Migratable = false

	p, err := Setup(context.Background(), cfg, run)
	require.NoError(t, err)
	assert.Nil(t, p.Tracer())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = p.Shutdown(ctx)
}
