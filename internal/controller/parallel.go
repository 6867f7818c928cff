package controller

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/deixis/soak/internal/report"
	"github.com/deixis/soak/internal/tally"
)

type trialDone struct {
	rec report.TrialRecord
	err error
}

// runParallel keeps up to cfg.Parallel trials in flight. Trials are
// started in index order and their outcomes come back over a channel to
// this goroutine, the only owner of agg, which records them in index
// order. Progress for trial i shows the trials recorded when it starts.
func (c *Controller) runParallel(ctx context.Context, rr *report.RunResult, agg *tally.Aggregator) error {
	n, width := c.cfg.Trials, c.cfg.Parallel

	// At most width sends are outstanding, so workers never block even
	// after the loop below stops receiving.
	results := make(chan trialDone, width)
	g, gctx := errgroup.WithContext(ctx)

	pending := make(map[int]report.TrialRecord)
	launched, inFlight, next := 0, 0, 1
	var firstErr error

	for next <= n {
		if launched < n && inFlight < width {
			launched++
			i := launched
			c.printer.Progress(i, agg.Snapshot())
			inFlight++
			g.Go(func() error {
				rec, err := c.trial(gctx, i)
				results <- trialDone{rec: rec, err: err}
				return err
			})
			continue
		}

		d := <-results
		inFlight--
		if d.err != nil {
			firstErr = d.err
			break
		}
		pending[d.rec.Index] = d.rec
		for {
			rec, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			agg.Record(rec.Outcome)
			rr.Records = append(rr.Records, rec)
			next++
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return firstErr
}
