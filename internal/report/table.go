package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/deixis/soak/internal/tally"
)

// WriteRun renders a stored run: a header with the command and final
// counters, then one table row per trial. With failuresOnly, successful
// trials are left out of the table.
func WriteRun(w io.Writer, rr *RunResult, failuresOnly bool) error {
	fmt.Fprintf(w, "Run: %s\n", rr.ID)
	fmt.Fprintf(w, "Command: %s\n", strings.Join(rr.Command, " "))
	if !rr.StartedAt.IsZero() {
		fmt.Fprintf(w, "Started: %s (took %s)\n", rr.StartedAt.Format(time.RFC3339), rr.EndedAt.Sub(rr.StartedAt).Round(time.Millisecond))
	}
	fmt.Fprintf(w, "Result: %d runs, %d successes and %d failures", rr.Trials, rr.Counters.Success, rr.Counters.Failed())
	if rr.Counters.Timeout > 0 {
		fmt.Fprintf(w, " (%d timed out)", rr.Counters.Timeout)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w)

	records := rr.Records
	if failuresOnly {
		records = rr.Failures()
		if len(records) == 0 {
			fmt.Fprintln(w, "No failed trials.")
			return nil
		}
	}

	table := tablewriter.NewWriter(w)
	table.Header("Trial", "Outcome", "Exit", "Signal", "Duration", "Detail")
	for _, rec := range records {
		table.Append([]string{
			strconv.Itoa(rec.Index),
			string(rec.Outcome),
			exitColumn(rec),
			dash(rec.Signal),
			rec.Duration.Round(time.Millisecond).String(),
			dash(rec.Detail),
		})
	}
	return table.Render()
}

// WriteFailureOutput prints the captured output of every failed trial.
func WriteFailureOutput(w io.Writer, rr *RunResult) {
	for _, rec := range rr.Failures() {
		if rec.Output == "" {
			continue
		}
		fmt.Fprintf(w, "\n--- trial %d (%s) ---\n", rec.Index, rec.Outcome)
		fmt.Fprint(w, rec.Output)
		if !strings.HasSuffix(rec.Output, "\n") {
			fmt.Fprintln(w)
		}
		if rec.Truncated {
			fmt.Fprintln(w, "[output truncated]")
		}
	}
}

func exitColumn(rec TrialRecord) string {
	if rec.ExitCode < 0 || rec.Outcome == tally.Timeout {
		return "-"
	}
	return strconv.Itoa(rec.ExitCode)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
