package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, dir, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_FromRoot(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `version: 1
trials: 25
command: [cargo, run, --release]
timeout: 30s
parallel: 2
exit_zero: true
`)

	res, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.Root != dir {
		t.Errorf("Root = %q, want %q", res.Root, dir)
	}
	if res.Path != filepath.Join(dir, FileName) {
		t.Errorf("Path = %q, want %q", res.Path, filepath.Join(dir, FileName))
	}
	cfg := res.Config
	if cfg.Version != 1 {
		t.Errorf("Version = %d, want 1", cfg.Version)
	}
	if cfg.TrialCount() != 25 {
		t.Errorf("TrialCount() = %d, want 25", cfg.TrialCount())
	}
	if diff := cmp.Diff([]string{"cargo", "run", "--release"}, cfg.Command); diff != "" {
		t.Errorf("Command mismatch (-want +got):\n%s", diff)
	}
	if cfg.Timeout() != 30*time.Second {
		t.Errorf("Timeout() = %v, want 30s", cfg.Timeout())
	}
	if cfg.Parallel() != 2 {
		t.Errorf("Parallel() = %d, want 2", cfg.Parallel())
	}
	if !cfg.ExitZero {
		t.Error("ExitZero = false, want true")
	}
}

func TestLoad_FromSubdirectory(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "trials: 3\n")

	sub := filepath.Join(root, "src", "bin")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	res, err := Load(sub)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.Root != root {
		t.Errorf("Root = %q, want %q", res.Root, root)
	}
	if res.Config.TrialCount() != 3 {
		t.Errorf("TrialCount() = %d, want 3", res.Config.TrialCount())
	}
}

func TestLoad_NoFile(t *testing.T) {
	dir := t.TempDir()

	res, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.Root != dir {
		t.Errorf("Root = %q, want %q (fallback to workspace)", res.Root, dir)
	}
	if res.Path != "" {
		t.Errorf("Path = %q, want empty", res.Path)
	}
	if res.Config.TrialCount() != DefaultTrials {
		t.Errorf("TrialCount() = %d, want default %d", res.Config.TrialCount(), DefaultTrials)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "trials: [not, a, number]\n")

	if _, err := Load(dir); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad_ZeroTrialsIsExplicit(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "trials: 0\ncommand: [\"true\"]\n")

	res, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.Config.TrialCount() != 0 {
		t.Errorf("TrialCount() = %d, want 0", res.Config.TrialCount())
	}
}

func TestDefaults(t *testing.T) {
	cfg := &Config{}
	if cfg.Timeout() != 0 {
		t.Errorf("Timeout() = %v, want 0", cfg.Timeout())
	}
	if cfg.Parallel() != DefaultParallel {
		t.Errorf("Parallel() = %d, want %d", cfg.Parallel(), DefaultParallel)
	}
	if cfg.MaxOutputBytes() != DefaultMaxOutput {
		t.Errorf("MaxOutputBytes() = %d, want %d", cfg.MaxOutputBytes(), DefaultMaxOutput)
	}
	if got, want := cfg.ResultsDir("/proj"), filepath.Join("/proj", DefaultResultsDir); got != want {
		t.Errorf("ResultsDir() = %q, want %q", got, want)
	}
	cfg.RawResultsDir = "/var/soak"
	if got := cfg.ResultsDir("/proj"); got != "/var/soak" {
		t.Errorf("ResultsDir() = %q, want /var/soak", got)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvTrials:   "7",
		EnvTimeout:  "2s",
		EnvParallel: "4",
		EnvCommand:  "go run ./cmd/target",
	}
	cfg := &Config{Command: []string{"old"}}
	if err := cfg.ApplyEnv(func(k string) string { return env[k] }); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.TrialCount() != 7 {
		t.Errorf("TrialCount() = %d, want 7", cfg.TrialCount())
	}
	if cfg.Timeout() != 2*time.Second {
		t.Errorf("Timeout() = %v, want 2s", cfg.Timeout())
	}
	if cfg.Parallel() != 4 {
		t.Errorf("Parallel() = %d, want 4", cfg.Parallel())
	}
	if diff := cmp.Diff([]string{"go", "run", "./cmd/target"}, cfg.Command); diff != "" {
		t.Errorf("Command mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyEnv_Unset(t *testing.T) {
	cfg := &Config{Command: []string{"true"}}
	if err := cfg.ApplyEnv(func(string) string { return "" }); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.RawTrials != nil {
		t.Errorf("RawTrials = %v, want nil", *cfg.RawTrials)
	}
	if diff := cmp.Diff([]string{"true"}, cfg.Command); diff != "" {
		t.Errorf("Command mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyEnv_BadInteger(t *testing.T) {
	cfg := &Config{}
	err := cfg.ApplyEnv(func(k string) string {
		if k == EnvTrials {
			return "lots"
		}
		return ""
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("ApplyEnv error = %v, want *ValidationError", err)
	}
	if verr.Field != EnvTrials {
		t.Errorf("Field = %q, want %q", verr.Field, EnvTrials)
	}
}

func TestRunConfig(t *testing.T) {
	cfg := &Config{
		Command:    []string{"./target"},
		Dir:        "build",
		RawTimeout: "1m",
	}
	cfg.SetTrials(5)

	rc, err := cfg.RunConfig("/proj")
	if err != nil {
		t.Fatalf("RunConfig: %v", err)
	}
	want := RunConfig{
		Trials:    5,
		Command:   []string{"./target"},
		Dir:       "/proj/build",
		Timeout:   time.Minute,
		Parallel:  1,
		MaxOutput: DefaultMaxOutput,
	}
	if diff := cmp.Diff(want, rc); diff != "" {
		t.Errorf("RunConfig mismatch (-want +got):\n%s", diff)
	}

	// The RunConfig must not alias the Config's command slice.
	cfg.Command[0] = "changed"
	if rc.Command[0] != "./target" {
		t.Errorf("RunConfig.Command aliased Config.Command: %v", rc.Command)
	}
}

func TestRunConfig_Invalid(t *testing.T) {
	neg := -1
	tests := []struct {
		name  string
		cfg   Config
		field string
	}{
		{"no command", Config{}, "command"},
		{"empty program", Config{Command: []string{""}}, "command"},
		{"negative trials", Config{Command: []string{"true"}, RawTrials: &neg}, "trials"},
		{"bad timeout", Config{Command: []string{"true"}, RawTimeout: "soon"}, "timeout"},
		{"negative timeout", Config{Command: []string{"true"}, RawTimeout: "-1s"}, "timeout"},
		{"negative parallel", Config{Command: []string{"true"}, RawParallel: -2}, "parallel"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.cfg.RunConfig("/proj")
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("RunConfig error = %v, want *ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Errorf("Field = %q, want %q", verr.Field, tt.field)
			}
		})
	}
}
