// Package runner executes a single trial of the target command and
// classifies how it terminated.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"code.cloudfoundry.org/clock"

	"github.com/deixis/soak/internal/tally"
)

// waitDelay bounds how long Wait blocks on output pipes held open by
// orphaned grandchildren once the target itself has exited or been killed.
const waitDelay = 5 * time.Second

// Runner starts the target command and waits for it to terminate.
type Runner struct {
	Dir       string        // working directory; empty means the current one
	Env       []string      // environment; nil inherits the harness's
	Timeout   time.Duration // per-trial timeout; zero means none
	MaxOutput int           // bytes of combined output kept in Result.Output
	Stdout    io.Writer     // relay for the target's stdout; nil discards
	Stderr    io.Writer     // relay for the target's stderr; nil discards
	Clock     clock.Clock   // nil uses the wall clock
}

// Resolve returns the path of the executable argv would run. It is the
// harness's preflight check: a command that cannot be resolved will fail
// every trial for reasons unrelated to the target.
func (r *Runner) Resolve(argv []string) (string, error) {
	if len(argv) == 0 {
		return "", fmt.Errorf("empty argv")
	}
	name := argv[0]
	if r.Dir != "" && strings.ContainsRune(name, filepath.Separator) && !filepath.IsAbs(name) {
		name = filepath.Join(r.Dir, name)
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", argv[0], err)
	}
	return path, nil
}

// Run executes argv once. A non-zero exit, a signal, a start failure or
// a timeout are reported through Result.Outcome, never as an error. An
// error is returned only for an empty argv or when ctx itself is done,
// i.e. when the harness rather than the target failed.
func (r *Runner) Run(ctx context.Context, argv []string) (*Result, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty argv")
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("trial not started: %w", err)
	}

	trialCtx := ctx
	cancel := func() {}
	if r.Timeout > 0 {
		trialCtx, cancel = context.WithTimeout(ctx, r.Timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(trialCtx, argv[0], argv[1:]...)
	cmd.Dir = r.Dir
	cmd.Env = r.Env
	cmd.Cancel = func() error { return killTree(cmd.Process) }
	cmd.WaitDelay = waitDelay

	captured := &limitWriter{limit: r.MaxOutput}
	cmd.Stdout = io.MultiWriter(orDiscard(r.Stdout), captured)
	cmd.Stderr = io.MultiWriter(orDiscard(r.Stderr), captured)

	clk := r.clock()
	start := clk.Now()
	res := &Result{StartedAt: start, ExitCode: -1}

	if err := cmd.Start(); err != nil {
		res.Outcome = tally.Failure
		res.Detail = fmt.Sprintf("starting %s: %v", argv[0], err)
		return res, nil
	}
	waitErr := cmd.Wait()
	res.Duration = clk.Since(start)
	res.Output, res.Truncated = captured.Bytes()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("trial interrupted: %w", err)
	}

	ps := cmd.ProcessState
	switch {
	case ps != nil && ps.Success():
		res.Outcome = tally.Success
		res.ExitCode = 0
	case errors.Is(trialCtx.Err(), context.DeadlineExceeded):
		res.Outcome = tally.Timeout
		res.Detail = fmt.Sprintf("timed out after %s", r.Timeout)
	case ps == nil:
		res.Outcome = tally.Failure
		res.Detail = fmt.Sprintf("waiting for %s: %v", argv[0], waitErr)
	default:
		res.Outcome = tally.Failure
		res.ExitCode = ps.ExitCode()
		if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			res.Signal = ws.Signal().String()
		}
	}
	return res, nil
}

func (r *Runner) clock() clock.Clock {
	if r.Clock != nil {
		return r.Clock
	}
	return clock.NewClock()
}

func orDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}

// limitWriter keeps up to limit bytes and silently discards the rest.
// Stdout and stderr are copied by separate goroutines, hence the lock.
type limitWriter struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (w *limitWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		if len(p) > 0 {
			w.truncated = true
		}
		return len(p), nil
	}
	if len(p) > remaining {
		// Report all bytes as consumed to avoid short write errors.
		w.buf.Write(p[:remaining])
		w.truncated = true
		return len(p), nil
	}
	return w.buf.Write(p)
}

// Bytes returns a copy of the kept output and whether any was dropped.
func (w *limitWriter) Bytes() ([]byte, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() == 0 {
		return nil, w.truncated
	}
	return bytes.Clone(w.buf.Bytes()), w.truncated
}
