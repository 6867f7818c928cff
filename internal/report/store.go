// Package report presents soak progress and persists run records so a
// finished run can be inspected trial by trial.
package report

import (
	"time"

	"github.com/deixis/soak/internal/tally"
)

// Store persists and retrieves run records.
type Store interface {
	Save(result *RunResult) error
	Load(runID string) (*RunResult, error)
	List() ([]string, error) // run IDs, most recent first
}

// RunResult is the record of one soak run.
type RunResult struct {
	ID        string         `json:"id"`
	Command   []string       `json:"command"`
	Trials    int            `json:"trials"`
	Parallel  int            `json:"parallel,omitempty"`
	Timeout   time.Duration  `json:"timeout,omitempty"`
	Counters  tally.Counters `json:"counters"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   time.Time      `json:"ended_at"`
	Records   []TrialRecord  `json:"records,omitempty"`
}

// Failed reports whether any trial of the run did not succeed.
func (r *RunResult) Failed() bool {
	return r.Counters.Failed() > 0
}

// Status is PASS when every trial succeeded, FAIL when none did and
// FLAKY otherwise. A run of zero trials passes.
func (r *RunResult) Status() string {
	switch {
	case !r.Failed():
		return "PASS"
	case r.Counters.Success == 0:
		return "FAIL"
	default:
		return "FLAKY"
	}
}

// Failures returns the records of trials that did not succeed.
func (r *RunResult) Failures() []TrialRecord {
	var out []TrialRecord
	for _, rec := range r.Records {
		if rec.Outcome != tally.Success {
			out = append(out, rec)
		}
	}
	return out
}

// TrialRecord is the outcome of a single trial within a run.
type TrialRecord struct {
	Index     int           `json:"index"` // 1-based
	Outcome   tally.Outcome `json:"outcome"`
	ExitCode  int           `json:"exit_code"`
	Signal    string        `json:"signal,omitempty"`
	Detail    string        `json:"detail,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Output    string        `json:"output,omitempty"` // kept for failed trials only
	Truncated bool          `json:"truncated,omitempty"`
}
