// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package storage keeps the history of finished benchmark runs.
package storage

import (
	"errors"

	"github.com/absmach/lossbench/loss"
)

// Common errors.
var (
	ErrNotFound = errors.New("not found")
	ErrNoID     = errors.New("report has no id")
)

// ReportStore persists run reports.
type ReportStore interface {
	// Save stores r under r.ID, replacing an existing report.
	Save(r *loss.Report) error

	// Get returns the report with the given id.
	Get(id string) (*loss.Report, error)

	// List returns up to limit reports for role, newest first. An empty
	// role matches both sides; limit <= 0 means no limit.
	List(role string, limit int) ([]*loss.Report, error)

	// Delete removes a report. Deleting a missing report is not an error.
	Delete(id string) error

	// Close releases the backend.
	Close() error
}
