package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/psantana5/loopd/pkg/daemon"
	"github.com/psantana5/loopd/pkg/logging"
	"github.com/psantana5/loopd/pkg/resources"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"), logging.Discard())
	if err != nil {
		t.Fatalf("Failed to open journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func runJournaled(t *testing.T, j *Journal, runID string, work daemon.WorkFunc, cfg daemon.Config) {
	t.Helper()
	c, err := daemon.New(work, daemon.Options{
		Name:       "billing:sync",
		RunID:      runID,
		Config:     cfg,
		Subscriber: j,
		Memory:     resources.Static{CurrentBytes: 512},
	})
	if err != nil {
		t.Fatalf("Failed to create controller: %v", err)
	}
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
}

// TestJournalRecordsRun tests that every lifecycle event of a run is persisted in order
func TestJournalRecordsRun(t *testing.T) {
	j := openTestJournal(t)

	calls := 0
	runJournaled(t, j, "run-a", func(ctx context.Context, c *daemon.Controller) error {
		calls++
		if calls == 2 {
			return errors.New("upstream timeout")
		}
		return nil
	}, daemon.Config{MaxIterations: 3})

	records, err := j.Events("run-a")
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}

	want := []string{
		"daemon.start",
		"daemon.loop.begin",
		"daemon.loop.iteration",
		"daemon.loop.exception.general",
		"daemon.loop.iteration",
		"daemon.loop.iteration",
		"daemon.loop.end",
		"daemon.stop",
	}
	if len(records) != len(want) {
		t.Fatalf("Expected %d records, got %d", len(want), len(records))
	}
	for i, r := range records {
		if r.Event != want[i] {
			t.Errorf("Record %d: expected %s, got %s", i, want[i], r.Event)
		}
		if r.Daemon != "billing-sync" {
			t.Errorf("Record %d: unexpected daemon %q", i, r.Daemon)
		}
		if r.MemoryBytes != 512 {
			t.Errorf("Record %d: expected memory 512, got %d", i, r.MemoryBytes)
		}
	}
	if records[3].Error != "upstream timeout" {
		t.Errorf("Expected fault message, got %q", records[3].Error)
	}
	if records[3].Iteration != 1 {
		t.Errorf("Expected fault recorded during iteration 1, got %d", records[3].Iteration)
	}
	if j.Failures() != 0 {
		t.Errorf("Expected no write failures, got %d", j.Failures())
	}
}

// TestJournalRuns tests run summaries across two runs
func TestJournalRuns(t *testing.T) {
	j := openTestJournal(t)

	ok := func(ctx context.Context, c *daemon.Controller) error { return nil }
	failing := func(ctx context.Context, c *daemon.Controller) error { return errors.New("nope") }

	runJournaled(t, j, "first", ok, daemon.Config{MaxIterations: 2})
	runJournaled(t, j, "second", failing, daemon.Config{MaxIterations: 4})

	runs, err := j.Runs(10)
	if err != nil {
		t.Fatalf("Runs failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("Expected 2 runs, got %d", len(runs))
	}

	latest := runs[0]
	if latest.RunID != "second" {
		t.Fatalf("Expected newest run first, got %s", latest.RunID)
	}
	if latest.Iterations != 4 || latest.Faults != 4 {
		t.Errorf("Expected 4 iterations and 4 faults, got %+v", latest)
	}
	if latest.StartedAt.IsZero() || latest.LastSeenAt.Before(latest.StartedAt) {
		t.Errorf("Unexpected timestamps %v / %v", latest.StartedAt, latest.LastSeenAt)
	}
	if runs[1].Iterations != 2 || runs[1].Faults != 0 {
		t.Errorf("Unexpected first run summary %+v", runs[1])
	}
}

// TestJournalCountsFailures tests that write errors are counted instead of propagated
func TestJournalCountsFailures(t *testing.T) {
	j := openTestJournal(t)
	j.Close()

	j.Notify(daemon.Event{Kind: daemon.EventStart, Name: "daemon.start", RunID: "x"})
	if j.Failures() != 1 {
		t.Errorf("Expected 1 failure, got %d", j.Failures())
	}
}

// TestRebind tests placeholder conversion for PostgreSQL
func TestRebind(t *testing.T) {
	pg := &Journal{driver: "postgres"}
	if got := pg.rebind("SELECT ? , ?"); got != "SELECT $1 , $2" {
		t.Errorf("Unexpected rebind result %q", got)
	}
	lite := &Journal{driver: "sqlite3"}
	if got := lite.rebind("SELECT ?"); got != "SELECT ?" {
		t.Errorf("SQLite queries must be left alone, got %q", got)
	}
}

// TestOpenRequiresDSN tests DSN validation
func TestOpenRequiresDSN(t *testing.T) {
	if _, err := Open("", nil); err == nil {
		t.Error("Expected error for empty DSN")
	}
}
