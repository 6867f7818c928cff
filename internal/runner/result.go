package runner

import (
	"time"

	"github.com/deixis/soak/internal/tally"
)

// Result holds the outcome of one trial.
type Result struct {
	Outcome   tally.Outcome
	ExitCode  int           // -1 when the process was signalled, timed out or never started
	Signal    string        // terminating signal, if any
	Detail    string        // start error or timeout description
	StartedAt time.Time     // when the process was started
	Duration  time.Duration // wall time from start to exit
	Output    []byte        // combined stdout/stderr (may be truncated)
	Truncated bool          // true if output exceeded the size cap
}
