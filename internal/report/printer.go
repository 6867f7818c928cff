package report

import (
	"fmt"
	"io"
	"sync"

	"github.com/deixis/soak/internal/tally"
)

// Printer writes the human-readable progress of a soak run.
type Printer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewPrinter returns a Printer writing to w. A nil w discards output.
func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		w = io.Discard
	}
	return &Printer{w: w}
}

// Progress announces trial, showing the counters of the trials
// recorded before it.
func (p *Printer) Progress(trial int, c tally.Counters) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "Run %d, %d success and %d failed\n", trial, c.Success, c.Failed())
}

// Summary reports the final counters after total trials.
func (p *Printer) Summary(total int, c tally.Counters) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w)
	fmt.Fprintln(p.w, "DONE")
	fmt.Fprintf(p.w, "%d runs, %d successes and %d failures\n", total, c.Success, c.Failed())
	if c.Timeout > 0 {
		fmt.Fprintf(p.w, "%d of the failures timed out\n", c.Timeout)
	}
}
