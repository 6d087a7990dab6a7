// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package loss

import (
	"fmt"
	"strings"
	"time"

	"github.com/absmach/lossbench/stats"
)

// Termination reasons.
const (
	ReasonCompleted = "completed" // publisher sent every message
	ReasonEOS       = "eos"       // subscriber saw the end-of-stream marker
	ReasonStalled   = "stalled"   // subscriber watchdog saw no progress
	ReasonCancelled = "cancelled"
)

// Report is the outcome of one run of either role.
type Report struct {
	ID         string        `json:"id"`
	Role       string        `json:"role"`
	Server     string        `json:"server"`
	Subject    string        `json:"subject"`
	StartedAt  time.Time     `json:"started_at"`
	Elapsed    time.Duration `json:"elapsed"`
	Rate       float64       `json:"rate"` // achieved msgs/sec
	Reason     string        `json:"reason"`
	Migrations int64         `json:"migrations"`

	// Publisher
	Size          int            `json:"size,omitempty"`
	TargetRate    int            `json:"target_rate,omitempty"`
	Sent          int64          `json:"sent,omitempty"`
	PublishErrors int64          `json:"publish_errors,omitempty"`
	Retries       int64          `json:"retries,omitempty"`
	Pauses        int64          `json:"pauses,omitempty"`
	FinalDelay    time.Duration  `json:"final_delay,omitempty"`
	Latency       *stats.Summary `json:"latency,omitempty"`

	// Subscriber
	Expected     int64          `json:"expected,omitempty"`
	Received     int64          `json:"received,omitempty"`
	Duplicates   int64          `json:"duplicates,omitempty"`
	LossPercent  float64        `json:"loss_percent"`
	NoneExpected bool           `json:"none_expected,omitempty"`
	Gaps         *stats.Summary `json:"gaps,omitempty"`
}

// Loss returns 100*(expected-received)/expected. ok is false when
// nothing was expected.
func Loss(expected, received int64) (pct float64, ok bool) {
	if expected == 0 {
		return 0, false
	}
	return 100 * float64(expected-received) / float64(expected), true
}

// Rate returns n/elapsed in messages per second.
func Rate(n int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(n) / elapsed.Seconds()
}

// String renders the report for a terminal.
func (r Report) String() string {
	var b strings.Builder

	switch r.Role {
	case RolePublisher:
		fmt.Fprintf(&b, "Finished (%s). Sent %d messages of %d bytes on %s.\n", r.Reason, r.Sent, r.Size, r.Subject)
		fmt.Fprintf(&b, "Publish rate: %d msgs/sec (target %d).\n", int64(r.Rate), r.TargetRate)
		if r.PublishErrors > 0 || r.Retries > 0 || r.Pauses > 0 {
			fmt.Fprintf(&b, "Publish errors: %d, retries: %d, pauses: %d.\n", r.PublishErrors, r.Retries, r.Pauses)
		}
		if r.Latency != nil && r.Latency.Count > 0 {
			fmt.Fprintf(&b, "Publish latency: p50 %s, p99 %s, max %s.\n", r.Latency.P50, r.Latency.P99, r.Latency.Max)
		}
	case RoleSubscriber:
		fmt.Fprintf(&b, "Done (%s). Received %d of %d messages.\n", r.Reason, r.Received, r.Expected)
		fmt.Fprintf(&b, "Message Rate: %.2f msgs/sec\n", r.Rate)
		if r.NoneExpected {
			b.WriteString("Loss Percentage: no messages expected\n")
		} else {
			fmt.Fprintf(&b, "Loss Percentage: %f\n", r.LossPercent)
		}
		if r.Duplicates > 0 {
			fmt.Fprintf(&b, "Duplicates: %d\n", r.Duplicates)
		}
		if r.Gaps != nil && r.Gaps.Count > 0 {
			fmt.Fprintf(&b, "Largest receive gap: %s\n", r.Gaps.Max)
		}
	}
	if r.Migrations > 0 {
		fmt.Fprintf(&b, "Migrations: %d\n", r.Migrations)
	}

	return b.String()
}

// Progress is a live snapshot of a run.
type Progress struct {
	Role       string        `json:"role"`
	State      string        `json:"state"`
	URL        string        `json:"url"`
	Subject    string        `json:"subject"`
	Expected   int64         `json:"expected"`
	Sent       int64         `json:"sent,omitempty"`
	Received   int64         `json:"received,omitempty"`
	Migrations int64         `json:"migrations"`
	Delay      time.Duration `json:"delay,omitempty"`
}
