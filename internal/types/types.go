// Package types contains the trace types shared by the scenario runner and the
// journal. It has zero imports of other vloop packages so both layers can
// depend on it without creating import cycles.
package types

import (
	"math"
	"time"
)

// Status is the outcome of a recorded scenario run.
type Status uint8

const (
	// StatusPassed means every step ran and every expectation held.
	StatusPassed Status = iota
	// StatusFailed means a step returned an unexpected error or an
	// expectation did not hold. The events up to the failure are still kept.
	StatusFailed
)

// String returns a human-readable representation of the status.
func (s Status) String() string {
	switch s {
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MaxFieldLen is the longest thread name or label, in bytes, that an Event
// can carry through the journal's length-prefixed encoding.
const MaxFieldLen = math.MaxUint16

// Event records one task execution.
//
// Seq is the 1-based position of the execution within its run. At is the
// virtual time of the executing looper's clock when the task ran, so two runs
// of the same scenario produce identical event sequences.
type Event struct {
	Seq    uint64        `json:"seq"`
	Thread string        `json:"thread"`
	Label  string        `json:"label"`
	At     time.Duration `json:"at"`
}

// Run is the header of a recorded scenario run.
type Run struct {
	// ID is a ULID, so runs sort by creation time.
	ID string `json:"id"`

	// Scenario is the name of the scenario that was executed.
	Scenario string `json:"scenario"`

	// StartedAt is the UTC millisecond when the run began.
	StartedAt int64 `json:"started_at"`

	Status Status `json:"status"`

	// Error holds the failure message for StatusFailed runs.
	Error string `json:"error,omitempty"`

	// Events is the number of recorded executions.
	Events int `json:"events"`

	// Rejected counts posts refused because the target looper had quit.
	Rejected int `json:"rejected"`
}

// Failed reports whether the run ended in failure.
func (r *Run) Failed() bool { return r.Status == StatusFailed }
