// Package tally classifies trial outcomes and keeps the running
// success/failure counters of a soak run.
package tally

// Outcome is the classification of a single trial.
type Outcome string

const (
	// Success is a trial whose process exited with status 0.
	Success Outcome = "success"
	// Failure is a trial that exited non-zero, was killed by a signal,
	// or could not be started.
	Failure Outcome = "failure"
	// Timeout is a trial killed because it exceeded the per-trial timeout.
	Timeout Outcome = "timeout"
)

// Counters holds the number of trials per outcome.
type Counters struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
	Timeout int `json:"timeout,omitempty"`
}

// Total returns the number of recorded trials.
func (c Counters) Total() int {
	return c.Success + c.Failure + c.Timeout
}

// Failed returns the number of trials that did not succeed.
func (c Counters) Failed() int {
	return c.Failure + c.Timeout
}

// Aggregator accumulates trial outcomes. It is not safe for concurrent
// use; a run has exactly one goroutine that owns it.
type Aggregator struct {
	c Counters
}

// Record counts one completed trial and returns the updated counters.
// An unrecognised outcome is counted as a Failure so that every trial
// is accounted for exactly once.
func (a *Aggregator) Record(o Outcome) Counters {
	switch o {
	case Success:
		a.c.Success++
	case Timeout:
		a.c.Timeout++
	default:
		a.c.Failure++
	}
	return a.c
}

// Snapshot returns the current counters.
func (a *Aggregator) Snapshot() Counters {
	return a.c
}
