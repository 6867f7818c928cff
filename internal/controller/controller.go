// Package controller drives a soak run. For every trial it reports
// progress, runs the target once and records the outcome; after the last
// trial it reports the summary. A failing trial never stops the run.
package controller

import (
	"context"
	"fmt"
	"io"
	"log"

	"code.cloudfoundry.org/clock"
	"github.com/google/uuid"

	"github.com/deixis/soak/internal/config"
	"github.com/deixis/soak/internal/report"
	"github.com/deixis/soak/internal/runner"
	"github.com/deixis/soak/internal/tally"
)

// CommandRunner executes trials. Implemented by runner.Runner.
type CommandRunner interface {
	Resolve(argv []string) (string, error)
	Run(ctx context.Context, argv []string) (*runner.Result, error)
}

// Observer is notified around every trial. Implemented by
// metrics.Collector. With parallel trials it is called concurrently.
// Every TrialStarted is followed by exactly one TrialFinished or, when
// the harness interrupted the trial, TrialAborted.
type Observer interface {
	TrialStarted(index int)
	TrialFinished(rec report.TrialRecord)
	TrialAborted(index int)
}

// CommandNotFoundError is returned when the preflight check cannot
// resolve the command's executable. No trial is run in that case.
type CommandNotFoundError struct {
	Command string
	Err     error
}

func (e *CommandNotFoundError) Error() string {
	return fmt.Sprintf("command %q cannot be run: %v", e.Command, e.Err)
}

func (e *CommandNotFoundError) Unwrap() error { return e.Err }

// Controller runs one soak configuration.
type Controller struct {
	cfg      config.RunConfig
	runner   CommandRunner
	printer  *report.Printer
	store    report.Store
	observer Observer
	clock    clock.Clock
	logger   *log.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithStore saves the record of every completed run to s.
func WithStore(s report.Store) Option {
	return func(c *Controller) { c.store = s }
}

// WithObserver attaches an Observer.
func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observer = o }
}

// WithClock replaces the wall clock used for run timestamps.
func WithClock(clk clock.Clock) Option {
	return func(c *Controller) { c.clock = clk }
}

// WithLogger sets the logger for non-fatal diagnostics.
func WithLogger(l *log.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// New creates a Controller. A nil printer discards progress output.
func New(cfg config.RunConfig, r CommandRunner, p *report.Printer, opts ...Option) *Controller {
	if p == nil {
		p = report.NewPrinter(nil)
	}
	c := &Controller{
		cfg:      cfg,
		runner:   r,
		printer:  p,
		observer: nopObserver{},
		clock:    clock.NewClock(),
		logger:   log.New(io.Discard, "", 0),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run executes every configured trial and returns the run record. Trial
// failures are counted, not returned; an error means the harness itself
// could not complete the run (invalid config, unresolvable command,
// interruption).
func (c *Controller) Run(ctx context.Context) (*report.RunResult, error) {
	if err := c.cfg.Validate(); err != nil {
		return nil, err
	}
	if _, err := c.runner.Resolve(c.cfg.Command); err != nil {
		return nil, &CommandNotFoundError{Command: c.cfg.Command[0], Err: err}
	}

	rr := &report.RunResult{
		ID:        uuid.NewString(),
		Command:   c.cfg.Command,
		Trials:    c.cfg.Trials,
		Parallel:  c.cfg.Parallel,
		Timeout:   c.cfg.Timeout,
		StartedAt: c.clock.Now(),
	}

	var agg tally.Aggregator
	var err error
	if c.cfg.Parallel > 1 {
		err = c.runParallel(ctx, rr, &agg)
	} else {
		err = c.runSequential(ctx, rr, &agg)
	}
	if err != nil {
		return nil, err
	}

	rr.Counters = agg.Snapshot()
	rr.EndedAt = c.clock.Now()
	c.printer.Summary(rr.Trials, rr.Counters)

	if c.store != nil {
		if err := c.store.Save(rr); err != nil {
			c.logger.Printf("saving run %s: %v", rr.ID, err)
		}
	}
	return rr, nil
}

// runSequential runs trials one at a time; trial i is recorded before
// trial i+1 starts.
func (c *Controller) runSequential(ctx context.Context, rr *report.RunResult, agg *tally.Aggregator) error {
	for i := 1; i <= c.cfg.Trials; i++ {
		c.printer.Progress(i, agg.Snapshot())
		rec, err := c.trial(ctx, i)
		if err != nil {
			return err
		}
		agg.Record(rec.Outcome)
		rr.Records = append(rr.Records, rec)
	}
	return nil
}

// trial runs the command once and turns the result into a record.
func (c *Controller) trial(ctx context.Context, index int) (report.TrialRecord, error) {
	c.observer.TrialStarted(index)
	res, err := c.runner.Run(ctx, c.cfg.Command)
	if err != nil {
		c.observer.TrialAborted(index)
		return report.TrialRecord{}, fmt.Errorf("trial %d: %w", index, err)
	}

	rec := report.TrialRecord{
		Index:     index,
		Outcome:   res.Outcome,
		ExitCode:  res.ExitCode,
		Signal:    res.Signal,
		Detail:    res.Detail,
		StartedAt: res.StartedAt,
		Duration:  res.Duration,
	}
	if res.Outcome != tally.Success {
		rec.Output = string(res.Output)
		rec.Truncated = res.Truncated
	}
	c.observer.TrialFinished(rec)
	return rec, nil
}

type nopObserver struct{}

func (nopObserver) TrialStarted(int) {}
func (nopObserver) TrialFinished(report.TrialRecord) {}
func (nopObserver) TrialAborted(int) {}
