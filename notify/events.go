// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"time"

	"github.com/absmach/lossbench/loss"
	"github.com/google/uuid"
)

// Event type constants.
const (
	TypeRunStarted         = "run.started"
	TypeRunCompleted       = "run.completed"
	TypeMigrationStarted   = "migration.started"
	TypeMigrationCompleted = "migration.completed"
	TypeMigrationFailed    = "migration.failed"
)

// Event is the common interface for all webhook events.
type Event interface {
	// Type returns the event type identifier (e.g., "run.completed").
	Type() string

	// Wrap wraps the event in a common envelope with metadata.
	Wrap(runID string) *Envelope
}

// Envelope is the common wrapper for all webhook events.
type Envelope struct {
	EventType string `json:"event_type"`
	EventID   string `json:"event_id"`
	Timestamp string `json:"timestamp"`
	RunID     string `json:"run_id"`
	Data      any    `json:"data"`
}

func wrap(ev Event, runID string) *Envelope {
	return &Envelope{
		EventType: ev.Type(),
		EventID:   uuid.New().String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		RunID:     runID,
		Data:      ev,
	}
}

// RunStarted is emitted when a publisher or subscriber begins.
type RunStarted struct {
	Role    string `json:"role"`
	Server  string `json:"server"`
	Subject string `json:"subject"`
	Count   int    `json:"count,omitempty"`
	Rate    int    `json:"rate,omitempty"`
	Size    int    `json:"size,omitempty"`
}

func (e RunStarted) Type() string                { return TypeRunStarted }
func (e RunStarted) Wrap(runID string) *Envelope { return wrap(e, runID) }

// RunCompleted carries the final report of a run.
type RunCompleted struct {
	Report *loss.Report `json:"report"`
}

func (e RunCompleted) Type() string                { return TypeRunCompleted }
func (e RunCompleted) Wrap(runID string) *Envelope { return wrap(e, runID) }

// MigrationStarted is emitted when a migration request is accepted.
type MigrationStarted struct {
	Role      string `json:"role"`
	Source    string `json:"source"`
	TargetURL string `json:"target_url"`
}

func (e MigrationStarted) Type() string                { return TypeMigrationStarted }
func (e MigrationStarted) Wrap(runID string) *Envelope { return wrap(e, runID) }

// MigrationCompleted is emitted once traffic runs on the new connection.
type MigrationCompleted struct {
	Role       string `json:"role"`
	Source     string `json:"source"`
	URL        string `json:"url"`
	DurationMs int64  `json:"duration_ms"`
}

func (e MigrationCompleted) Type() string                { return TypeMigrationCompleted }
func (e MigrationCompleted) Wrap(runID string) *Envelope { return wrap(e, runID) }

// MigrationFailed is emitted when a migration is rejected or fails.
type MigrationFailed struct {
	Role      string `json:"role"`
	Source    string `json:"source"`
	TargetURL string `json:"target_url"`
	Error     string `json:"error"`
}

func (e MigrationFailed) Type() string                { return TypeMigrationFailed }
func (e MigrationFailed) Wrap(runID string) *Envelope { return wrap(e, runID) }
