package runner

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"

	"github.com/deixis/soak/internal/tally"
)

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	return &Runner{
		Dir:       t.TempDir(),
		MaxOutput: 1 << 20,
	}
}

func TestRun_Success(t *testing.T) {
	r := newTestRunner(t)
	var stdout bytes.Buffer
	r.Stdout = &stdout

	res, err := r.Run(context.Background(), []string{"echo", "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != tally.Success {
		t.Errorf("Outcome = %q, want %q", res.Outcome, tally.Success)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
	if !strings.Contains(string(res.Output), "hello") {
		t.Errorf("Output = %q, want to contain 'hello'", res.Output)
	}
	if !strings.Contains(stdout.String(), "hello") {
		t.Errorf("relayed stdout = %q, want to contain 'hello'", stdout.String())
	}
}

func TestRun_NonZeroExit(t *testing.T) {
	r := newTestRunner(t)
	res, err := r.Run(context.Background(), []string{"sh", "-c", "exit 3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != tally.Failure {
		t.Errorf("Outcome = %q, want %q", res.Outcome, tally.Failure)
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
}

func TestRun_KilledBySignal(t *testing.T) {
	r := newTestRunner(t)
	res, err := r.Run(context.Background(), []string{"sh", "-c", "kill -9 $$"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != tally.Failure {
		t.Errorf("Outcome = %q, want %q", res.Outcome, tally.Failure)
	}
	if res.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1", res.ExitCode)
	}
	if res.Signal != "killed" {
		t.Errorf("Signal = %q, want %q", res.Signal, "killed")
	}
}

func TestRun_StartFailureIsTrialFailure(t *testing.T) {
	r := newTestRunner(t)
	res, err := r.Run(context.Background(), []string{"nonexistent-binary-xyz-123"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != tally.Failure {
		t.Errorf("Outcome = %q, want %q", res.Outcome, tally.Failure)
	}
	if !strings.Contains(res.Detail, "nonexistent-binary-xyz-123") {
		t.Errorf("Detail = %q, want to mention the binary name", res.Detail)
	}
}

func TestRun_EmptyArgv(t *testing.T) {
	r := newTestRunner(t)
	_, err := r.Run(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error for empty argv")
	}
}

func TestRun_StderrRelayedSeparately(t *testing.T) {
	r := newTestRunner(t)
	var stdout, stderr bytes.Buffer
	r.Stdout = &stdout
	r.Stderr = &stderr

	_, err := r.Run(context.Background(), []string{"sh", "-c", "echo out; echo err >&2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.TrimSpace(stdout.String()); got != "out" {
		t.Errorf("stdout = %q, want %q", got, "out")
	}
	if got := strings.TrimSpace(stderr.String()); got != "err" {
		t.Errorf("stderr = %q, want %q", got, "err")
	}
}

func TestRun_Dir(t *testing.T) {
	r := newTestRunner(t)
	res, err := r.Run(context.Background(), []string{"pwd"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want, _ := filepath.EvalSymlinks(r.Dir)
	got, _ := filepath.EvalSymlinks(strings.TrimSpace(string(res.Output)))
	if got != want {
		t.Errorf("pwd = %q, want %q", got, want)
	}
}

func TestRun_Timeout(t *testing.T) {
	r := newTestRunner(t)
	r.Timeout = 100 * time.Millisecond

	res, err := r.Run(context.Background(), []string{"sleep", "10"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != tally.Timeout {
		t.Errorf("Outcome = %q, want %q", res.Outcome, tally.Timeout)
	}
	if !strings.Contains(res.Detail, "timed out") {
		t.Errorf("Detail = %q, want to mention the timeout", res.Detail)
	}
}

func TestRun_TimeoutKillsDescendants(t *testing.T) {
	r := newTestRunner(t)
	r.Timeout = 200 * time.Millisecond

	// The trailing exit keeps sh from exec'ing sleep, so sleep is a
	// grandchild of the harness holding the output pipe open.
	start := time.Now()
	res, err := r.Run(context.Background(), []string{"sh", "-c", "sleep 30; exit 0"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != tally.Timeout {
		t.Errorf("Outcome = %q, want %q", res.Outcome, tally.Timeout)
	}
	if elapsed := time.Since(start); elapsed >= waitDelay {
		t.Errorf("Run took %v, want the process tree killed well before %v", elapsed, waitDelay)
	}
}

func TestRun_ParentCancelled(t *testing.T) {
	r := newTestRunner(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := r.Run(ctx, []string{"sleep", "10"})
	if err == nil {
		t.Fatal("expected error when the run context is cancelled")
	}
}

func TestRun_AlreadyCancelled(t *testing.T) {
	r := newTestRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.Run(ctx, []string{"true"}); err == nil {
		t.Fatal("expected error for a cancelled context")
	}
}

func TestRun_OutputTruncation(t *testing.T) {
	r := newTestRunner(t)
	r.MaxOutput = 100

	res, err := r.Run(context.Background(), []string{"sh", "-c", "dd if=/dev/zero bs=200 count=1 2>/dev/null"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Truncated {
		t.Error("Truncated = false, want true")
	}
	if len(res.Output) > r.MaxOutput {
		t.Errorf("len(Output) = %d, want <= %d", len(res.Output), r.MaxOutput)
	}
}

func TestRun_UsesClock(t *testing.T) {
	r := newTestRunner(t)
	epoch := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	r.Clock = fakeclock.NewFakeClock(epoch)

	res, err := r.Run(context.Background(), []string{"true"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.StartedAt.Equal(epoch) {
		t.Errorf("StartedAt = %v, want %v", res.StartedAt, epoch)
	}
	if res.Duration != 0 {
		t.Errorf("Duration = %v, want 0 on a stopped fake clock", res.Duration)
	}
}

func TestResolve(t *testing.T) {
	r := newTestRunner(t)

	if _, err := r.Resolve([]string{"sh", "-c", "true"}); err != nil {
		t.Errorf("Resolve(sh) = %v, want nil", err)
	}
	if _, err := r.Resolve([]string{"nonexistent-binary-xyz-123"}); err == nil {
		t.Error("Resolve(nonexistent) = nil, want error")
	}
	if _, err := r.Resolve(nil); err == nil {
		t.Error("Resolve(nil) = nil, want error")
	}
}

func TestResolve_RelativeToDir(t *testing.T) {
	r := newTestRunner(t)
	script := filepath.Join(r.Dir, "target.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	path, err := r.Resolve([]string{"./target.sh"})
	if err != nil {
		t.Fatalf("Resolve(./target.sh) = %v", err)
	}
	if path != script {
		t.Errorf("Resolve(./target.sh) = %q, want %q", path, script)
	}
}
