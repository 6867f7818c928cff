package mcp

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/soak/internal/controller"
	"github.com/deixis/soak/internal/report"
	"github.com/deixis/soak/internal/runner"
)

// maxListedRuns caps the soak_runs listing.
const maxListedRuns = 20

type runParams struct {
	Command  []string `json:"command,omitempty" jsonschema:"argv of the command to soak, e.g. [\"go\", \"test\", \"-run\", \"TestRace\", \"./pkg\"]. Defaults to the command in the .soak file."`
	Trials   *int     `json:"trials,omitempty" jsonschema:"number of trials to run. Defaults to the .soak setting or 100."`
	Timeout  string   `json:"timeout,omitempty" jsonschema:"per-trial timeout such as 30s; a trial that exceeds it counts as a timeout. Defaults to none."`
	Parallel int      `json:"parallel,omitempty" jsonschema:"number of trials to run at once. Defaults to 1 (sequential)."`
}

func (h *handler) runHandler(ctx context.Context, req *mcp.CallToolRequest, params runParams) (*mcp.CallToolResult, any, error) {
	cfg, root := h.settings()
	if len(params.Command) > 0 {
		cfg.Command = params.Command
	}
	if params.Trials != nil {
		cfg.SetTrials(*params.Trials)
	}
	if params.Timeout != "" {
		cfg.RawTimeout = params.Timeout
	}
	if params.Parallel != 0 {
		cfg.RawParallel = params.Parallel
	}

	rc, err := cfg.RunConfig(root)
	if err != nil {
		return errorResult(err.Error())
	}

	// The target's output must never reach stdout: that is the stdio
	// transport. It is kept per trial in the stored record instead.
	r := &runner.Runner{
		Dir:       rc.Dir,
		Timeout:   rc.Timeout,
		MaxOutput: rc.MaxOutput,
	}

	var progress strings.Builder
	opts := []controller.Option{
		controller.WithStore(h.runStore()),
		controller.WithLogger(log.Default()),
	}
	if h.observer != nil {
		opts = append(opts, controller.WithObserver(h.observer))
	}
	rr, err := controller.New(rc, r, report.NewPrinter(&progress), opts...).Run(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("soak failed: %v\n\n%s", err, progress.String()))
	}

	return textResult(formatRun(rr, progress.String()))
}

func formatRun(rr *report.RunResult, progress string) string {
	var b strings.Builder
	fmt.Fprint(&b, progress)
	fmt.Fprintln(&b)
	fmt.Fprintf(&b, "Run: %s\n", rr.ID)
	if rr.Failed() {
		fmt.Fprintf(&b, "Inspect with soak_inspect(run_id=%q, failures_only=true, output=true).\n", rr.ID)
	}
	fmt.Fprintf(&b, "Status: %s\n", rr.Status())
	return b.String()
}

type inspectParams struct {
	RunID        string `json:"run_id" jsonschema:"the run ID from a soak_run result"`
	FailuresOnly bool   `json:"failures_only,omitempty" jsonschema:"list only trials that failed or timed out"`
	Output       bool   `json:"output,omitempty" jsonschema:"include the captured output of failed trials"`
}

func (h *handler) inspectHandler(ctx context.Context, req *mcp.CallToolRequest, params inspectParams) (*mcp.CallToolResult, any, error) {
	if params.RunID == "" {
		return errorResult("run_id is required")
	}

	rr, err := h.runStore().Load(params.RunID)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to load run %s: %v", params.RunID, err))
	}

	var b strings.Builder
	if err := report.WriteRun(&b, rr, params.FailuresOnly); err != nil {
		return errorResult(fmt.Sprintf("Failed to render run %s: %v", params.RunID, err))
	}
	if params.Output {
		report.WriteFailureOutput(&b, rr)
	}
	fmt.Fprintf(&b, "\nStatus: %s\n", rr.Status())
	return textResult(b.String())
}

type runsParams struct{}

func (h *handler) runsHandler(ctx context.Context, req *mcp.CallToolRequest, _ runsParams) (*mcp.CallToolResult, any, error) {
	store := h.runStore()
	ids, err := store.List()
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to list runs: %v", err))
	}
	if len(ids) == 0 {
		return textResult("No stored runs.")
	}

	var b strings.Builder
	for i, id := range ids {
		if i == maxListedRuns {
			fmt.Fprintf(&b, "... and %d more\n", len(ids)-maxListedRuns)
			break
		}
		rr, err := store.Load(id)
		if err != nil {
			fmt.Fprintf(&b, "%s  (unreadable: %v)\n", id, err)
			continue
		}
		fmt.Fprintf(&b, "%s  %s  %d runs, %d successes and %d failures  %s\n",
			id, rr.Status(), rr.Trials, rr.Counters.Success, rr.Counters.Failed(), strings.Join(rr.Command, " "))
	}
	return textResult(b.String())
}
