package runner

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"
)

// killTree kills p and every process descended from it. Build-and-run
// targets (e.g. "cargo run", "go run") exec the real binary as a child,
// so killing only the direct child would leave the target running.
func killTree(p *os.Process) error {
	if p == nil {
		return nil
	}
	// Snapshot descendants first: once the parent dies they are
	// reparented and can no longer be found by walking from p.
	desc := descendants(int32(p.Pid))

	errs := []error{ignoreGone(p.Kill())}
	for _, d := range desc {
		if err := ignoreGone(d.Kill()); err != nil {
			errs = append(errs, fmt.Errorf("killing descendant %d: %w", d.Pid, err))
		}
	}
	return errors.Join(errs...)
}

// ignoreGone drops the error of killing a process that already exited.
func ignoreGone(err error) error {
	if errors.Is(err, os.ErrProcessDone) || errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

// descendants returns all processes below pid, parents before children.
func descendants(pid int32) []*process.Process {
	procs, err := process.Processes()
	if err != nil {
		return nil
	}

	byParent := make(map[int32][]*process.Process)
	for _, proc := range procs {
		ppid, err := proc.Ppid()
		if err != nil {
			continue
		}
		byParent[ppid] = append(byParent[ppid], proc)
	}

	var out []*process.Process
	queue := []int32{pid}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, child := range byParent[cur] {
			out = append(out, child)
			queue = append(queue, child.Pid)
		}
	}
	return out
}
