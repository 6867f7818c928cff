// Command soak runs a command many times and reports how often it fails.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/soak"
	"github.com/deixis/soak/internal/config"
	"github.com/deixis/soak/internal/controller"
	soakmcp "github.com/deixis/soak/internal/mcp"
	"github.com/deixis/soak/internal/metrics"
	"github.com/deixis/soak/internal/report"
	"github.com/deixis/soak/internal/runner"
)

// exitStatus ends the process with a status and no diagnostic.
type exitStatus int

func (e exitStatus) Error() string {
	return fmt.Sprintf("exit status %d", int(e))
}

func main() {
	log.SetFlags(0)
	log.SetPrefix("soak: ")

	// Anything that is not a subcommand is a run: "soak -n 50 -- go test"
	// and plain "soak" with a .soak file both soak.
	cmd, args := "run", os.Args[1:]
	if len(args) > 0 {
		switch args[0] {
		case "run", "inspect", "runs", "mcp", "version", "help", "-h", "--help":
			cmd, args = args[0], args[1:]
		}
	}

	var err error
	switch cmd {
	case "run":
		err = runMain(args)
	case "inspect":
		err = inspectMain(args)
	case "runs":
		err = runsMain(args)
	case "mcp":
		err = mcpMain(args)
	case "version":
		fmt.Println(soak.Version)
	case "help", "-h", "--help":
		usage()
	}

	code := exitCode(err)
	var status exitStatus
	if err != nil && !errors.As(err, &status) {
		log.Print(err)
	}
	os.Exit(code)
}

// exitCode is 0 for nil, the carried status for an exitStatus and 2 for
// any other error.
func exitCode(err error) int {
	var status exitStatus
	switch {
	case err == nil:
		return 0
	case errors.As(err, &status):
		return int(status)
	default:
		return 2
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: soak [run] [flags] [--] [command args...]
       soak <command> [flags]

Commands:
  run         Run a command repeatedly and count failures (default)
  inspect     Show the trials of a stored run
  runs        List stored runs, most recent first
  mcp         Start the MCP server
  version     Print the version
  help        Show this help

Without a command, soak uses the one from the nearest .soak file.
Exit status is 0 when every trial succeeded, 1 when any failed and 2 on error.

Use "soak <command> -h" for command-specific flags.`)
}

// --- run ---

// runSettings is everything a run needs once config, environment and
// flags are merged.
type runSettings struct {
	run         config.RunConfig
	resultsDir  string
	metricsAddr string
}

// parseRunArgs registers the run flags on fs and merges, in increasing
// precedence, the loaded .soak file, SOAK_* variables from getenv and the
// flags set in args. Arguments after the flags replace the command.
func parseRunArgs(fs *flag.FlagSet, args []string, loaded *config.LoadResult, getenv func(string) string) (*runSettings, error) {
	trials := fs.Int("n", config.DefaultTrials, "number of trials")
	timeout := fs.Duration("timeout", 0, "per-trial timeout (e.g. 30s); 0 means none")
	parallel := fs.Int("parallel", config.DefaultParallel, "number of trials to run at once")
	exitZero := fs.Bool("exit-zero", false, "exit 0 even when trials failed")
	dir := fs.String("dir", "", "working directory of the command")
	maxOutput := fs.Int("max-output", config.DefaultMaxOutput, "bytes of output kept per failed trial")
	metricsAddr := fs.String("metrics-addr", "", "serve Prometheus /metrics on address (e.g. :9090)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := *loaded.Config
	if err := cfg.ApplyEnv(getenv); err != nil {
		return nil, err
	}

	var dirErr error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "n":
			cfg.SetTrials(*trials)
		case "timeout":
			cfg.RawTimeout = timeout.String()
		case "parallel":
			cfg.RawParallel = *parallel
		case "exit-zero":
			cfg.ExitZero = *exitZero
		case "dir":
			cfg.Dir, dirErr = filepath.Abs(*dir)
		case "max-output":
			cfg.RawMaxOutput = *maxOutput
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		}
	})
	if dirErr != nil {
		return nil, fmt.Errorf("resolving -dir: %w", dirErr)
	}
	if rest := fs.Args(); len(rest) > 0 {
		cfg.Command = rest
	}

	rc, err := cfg.RunConfig(loaded.Root)
	if err != nil {
		return nil, err
	}
	return &runSettings{
		run:         rc,
		resultsDir:  cfg.ResultsDir(loaded.Root),
		metricsAddr: cfg.MetricsAddr,
	}, nil
}

func runMain(args []string) error {
	loaded, err := loadConfig()
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("run", flag.ExitOnError)
	jsonFlag := fs.Bool("json", false, "print the run record as JSON after the summary")
	s, err := parseRunArgs(fs, args, loaded, os.Getenv)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := &runner.Runner{
		Dir:       s.run.Dir,
		Timeout:   s.run.Timeout,
		MaxOutput: s.run.MaxOutput,
		Stdout:    os.Stdout,
		Stderr:    os.Stderr,
	}

	opts := []controller.Option{
		controller.WithStore(report.NewLRUStore(5, report.NewDiskStore(s.resultsDir))),
		controller.WithLogger(log.Default()),
	}
	if s.metricsAddr != "" {
		collector := metrics.New()
		opts = append(opts, controller.WithObserver(collector))

		metricsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := collector.Serve(metricsCtx, s.metricsAddr); err != nil {
				log.Print(err)
			}
		}()
	}

	rr, err := controller.New(s.run, r, report.NewPrinter(os.Stdout), opts...).Run(ctx)
	if err != nil {
		return err
	}

	if *jsonFlag {
		if err := writeJSON(rr); err != nil {
			return err
		}
	}
	return runExitCode(rr, s.run.ExitZero)
}

// runExitCode maps a completed run to the process exit status: 1 when any
// trial failed or timed out, unless exitZero is set.
func runExitCode(rr *report.RunResult, exitZero bool) error {
	if rr.Failed() && !exitZero {
		return exitStatus(1)
	}
	return nil
}

// --- inspect ---

func inspectMain(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	failures := fs.Bool("failures", false, "list only trials that failed or timed out")
	output := fs.Bool("output", false, "print the captured output of failed trials")
	jsonFlag := fs.Bool("json", false, "print the stored record as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() != 1 {
		fs.Usage()
		return exitStatus(2)
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	rr, err := store.Load(fs.Arg(0))
	if err != nil {
		return err
	}

	if *jsonFlag {
		return writeJSON(rr)
	}
	if err := report.WriteRun(os.Stdout, rr, *failures); err != nil {
		return err
	}
	if *output {
		report.WriteFailureOutput(os.Stdout, rr)
	}
	return nil
}

// --- runs ---

func runsMain(args []string) error {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	limit := fs.Int("limit", 20, "maximum number of runs to list; 0 lists all")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	ids, err := store.List()
	if err != nil {
		return err
	}
	if *limit > 0 && len(ids) > *limit {
		ids = ids[:*limit]
	}

	for _, id := range ids {
		rr, err := store.Load(id)
		if err != nil {
			log.Printf("skipping %s: %v", id, err)
			continue
		}
		fmt.Printf("%s  %-5s  %s  %d runs, %d successes and %d failures  %s\n",
			rr.ID, rr.Status(), rr.StartedAt.Format("2006-01-02 15:04:05"),
			rr.Trials, rr.Counters.Success, rr.Counters.Failed(), strings.Join(rr.Command, " "))
	}
	return nil
}

// --- mcp ---

func mcpMain(args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	instructions := fs.Bool("instructions", false, "print model instructions and exit")
	httpAddr := fs.String("http", "", "start HTTP server on address (e.g. :9090)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *instructions {
		fmt.Print(soakmcp.Instructions)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, *httpAddr)
}

func serve(ctx context.Context, httpAddr string) error {
	loaded, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := loaded.Config

	store := report.NewLRUStore(5, report.NewDiskStore(cfg.ResultsDir(loaded.Root)))

	var opts []soakmcp.ServerOption
	if cfg.MetricsAddr != "" {
		collector := metrics.New()
		opts = append(opts, soakmcp.WithObserver(collector))
		go func() {
			if err := collector.Serve(ctx, cfg.MetricsAddr); err != nil {
				log.Print(err)
			}
		}()
	}

	server := soakmcp.NewServer(cfg, loaded.Root, store, opts...)

	if httpAddr != "" {
		return serveHTTP(ctx, server, httpAddr)
	}
	return server.Run(ctx, &mcpsdk.StdioTransport{})
}

func serveHTTP(ctx context.Context, server *mcpsdk.Server, addr string) error {
	handler := mcpsdk.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcpsdk.Server { return server },
		nil,
	)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
	}()

	log.Printf("listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// --- shared ---

func loadConfig() (*config.LoadResult, error) {
	workspace, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("determining workspace: %w", err)
	}
	loaded, err := config.Load(workspace)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return loaded, nil
}

func openStore() (*report.DiskStore, error) {
	loaded, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return report.NewDiskStore(loaded.Config.ResultsDir(loaded.Root)), nil
}

func writeJSON(rr *report.RunResult) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rr)
}
