// Package mcp provides the soak MCP server, exposing soak runs and their
// stored records as tools.
package mcp

import (
	"context"
	_ "embed"
	"net/url"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/soak"
	"github.com/deixis/soak/internal/config"
	"github.com/deixis/soak/internal/controller"
	"github.com/deixis/soak/internal/report"
)

// storeCacheSize is the number of run records kept in memory.
const storeCacheSize = 5

//go:embed instructions.md
var Instructions string

// handler holds shared dependencies for all tool handlers.
type handler struct {
	mu    sync.Mutex // guards cfg, root and store, replaced from client roots
	cfg   *config.Config
	root  string
	store report.Store

	observer controller.Observer // nil when metrics are off
}

// NewServer creates an MCP server with all soak tools registered. cfg
// supplies the defaults for soak_run; root is the directory commands run
// from. When the client reports a file root, the .soak file found from it
// replaces cfg, root and store.
func NewServer(cfg *config.Config, root string, store report.Store, opts ...ServerOption) *mcp.Server {
	var so serverOptions
	for _, o := range opts {
		o(&so)
	}

	h := &handler{
		cfg:      cfg,
		root:     root,
		store:    store,
		observer: so.observer,
	}

	mcpOpts := &mcp.ServerOptions{
		Instructions: Instructions,
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{ListChanged: false},
		},
		InitializedHandler: func(ctx context.Context, req *mcp.InitializedRequest) {
			h.updateWorkspaceFromRoots(ctx, req.Session)
		},
	}
	s := mcp.NewServer(&mcp.Implementation{Name: "soak", Version: soak.Version}, mcpOpts)

	mcp.AddTool(s, &mcp.Tool{
		Name: "soak_run",
		Description: `Run a command repeatedly and count how often it fails.

Use this to check whether a test or program is flaky. Each trial runs the command once; a trial
succeeds when it exits 0. A failing trial never stops the run. Defaults come from the .soak file.
The target's output is not returned, only the progress lines and summary; failed trials' output
is stored for drill-down via soak_inspect.`,
	}, h.runHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "soak_inspect",
		Description: `Show the trials of a stored soak run.

Use the run_id from a soak_run result. Set failures_only to hide successful trials and
output to include the captured output of failed trials.`,
	}, h.inspectHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "soak_runs",
		Description: "List stored soak runs, most recent first, with their results.",
	}, h.runsHandler)

	return s
}

// ServerOption configures the soak MCP server.
type ServerOption func(*serverOptions)

type serverOptions struct {
	observer controller.Observer
}

// WithObserver reports every trial of every soak_run to o.
func WithObserver(o controller.Observer) ServerOption {
	return func(so *serverOptions) {
		so.observer = o
	}
}

// settings returns the current defaults and root.
func (h *handler) settings() (config.Config, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cfg := *h.cfg
	cfg.Command = append([]string(nil), h.cfg.Command...)
	return cfg, h.root
}

// runStore returns the store of the current results directory.
func (h *handler) runStore() report.Store {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.store
}

// updateWorkspaceFromRoots queries the client for MCP roots and, if a
// file root is returned, reloads the .soak defaults from it and moves the
// store to its results directory.
func (h *handler) updateWorkspaceFromRoots(ctx context.Context, session *mcp.ServerSession) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	roots, err := session.ListRoots(ctx, &mcp.ListRootsParams{})
	if err != nil {
		return
	}
	if len(roots.Roots) == 0 {
		return
	}

	u, err := url.Parse(roots.Roots[0].URI)
	if err != nil || u.Scheme != "file" {
		return
	}

	loaded, err := config.Load(u.Path)
	if err != nil {
		return
	}

	store := report.NewLRUStore(storeCacheSize, report.NewDiskStore(loaded.Config.ResultsDir(loaded.Root)))

	h.mu.Lock()
	h.cfg = loaded.Config
	h.root = loaded.Root
	h.store = store
	h.mu.Unlock()
}

// textResult is a helper to build a text-only tool result.
func textResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

// errorResult is a helper to build an error tool result.
func errorResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}, nil, nil
}
