package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/psantana5/loopd/internal/config"
	"github.com/psantana5/loopd/pkg/logging"
	"github.com/psantana5/loopd/pkg/store"
)

func TestBuildCommand(t *testing.T) {
	code := 75
	cfg := config.Default()
	cfg.Command.Path = "/usr/local/bin/consume"
	cfg.Command.Args = []string{"--batch", "10"}
	cfg.Command.Timeout = "5s"
	cfg.Command.StopExitCode = &code

	c, err := buildCommand(&cfg, nil, false)
	if err != nil {
		t.Fatalf("buildCommand failed: %v", err)
	}
	if c.Path != "/usr/local/bin/consume" || len(c.Args) != 2 {
		t.Errorf("Expected configured command, got %s %v", c.Path, c.Args)
	}
	if c.StopExitCode == nil || *c.StopExitCode != 75 {
		t.Errorf("Expected stop exit code 75, got %v", c.StopExitCode)
	}

	stopExitCode = 3
	defer func() { stopExitCode = 0 }()
	c, err = buildCommand(&cfg, []string{"/bin/true"}, true)
	if err != nil {
		t.Fatalf("buildCommand failed: %v", err)
	}
	if c.Path != "/bin/true" || len(c.Args) != 0 {
		t.Errorf("Expected arguments to replace the configured command, got %s %v", c.Path, c.Args)
	}
	if *c.StopExitCode != 3 {
		t.Errorf("Expected flag stop exit code 3, got %d", *c.StopExitCode)
	}
}

func TestBuildCommandRequiresPath(t *testing.T) {
	cfg := config.Default()
	if _, err := buildCommand(&cfg, nil, false); err == nil {
		t.Fatal("Expected an error without a command")
	}
}

func TestConfigValidateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loopd.yaml")
	if err := os.WriteFile(path, []byte(config.ExampleConfig), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	out := &bytes.Buffer{}
	configValidateCmd.SetOut(out)
	defer configValidateCmd.SetOut(nil)

	if err := runConfigValidate(configValidateCmd, []string{path}); err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if !strings.Contains(out.String(), "OK") || !strings.Contains(out.String(), "orders:consume") {
		t.Errorf("Unexpected output:\n%s", out.String())
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("loop:\n  sleep: soon\n"), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	if err := runConfigValidate(configValidateCmd, []string{bad}); err == nil {
		t.Error("Expected an invalid sleep to be rejected")
	}
}

// TestRunCommandEndToEnd runs a shell command three times and reads the journal back
func TestRunCommandEndToEnd(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("loop:\n  name: \"e2e:test\"\nlogging:\n  level: error\n"), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	dbPath := filepath.Join(dir, "journal.db")

	rootCmd.SetArgs([]string{
		"--config", cfgPath,
		"run", "--run-max", "3", "--journal", dbPath,
		"--", "/bin/sh", "-c", "exit 0",
	})
	defer rootCmd.SetArgs(nil)

	if code := Execute(); code != 0 {
		t.Fatalf("Expected exit code 0, got %d", code)
	}

	journal, err := store.Open(dbPath, logging.Discard())
	if err != nil {
		t.Fatalf("Failed to reopen journal: %v", err)
	}
	defer journal.Close()

	runs, err := journal.Runs(10)
	if err != nil {
		t.Fatalf("Runs failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("Expected 1 run, got %d", len(runs))
	}
	if runs[0].Iterations != 3 || runs[0].Faults != 0 {
		t.Errorf("Unexpected run summary %+v", runs[0])
	}
	if runs[0].Daemon != "e2e-test" {
		t.Errorf("Expected daemon e2e-test, got %s", runs[0].Daemon)
	}
}
