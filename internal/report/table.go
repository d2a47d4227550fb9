package report

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/psantana5/loopd/pkg/daemon"
)

// WriteTable renders the summary and per-event counts as tables
func WriteTable(w io.Writer, s *Summary) error {
	overview := tablewriter.NewWriter(w)
	overview.Header("Run", "Daemon", "Iterations", "Faults", "Runtime", "Peak memory", "Exit")
	overview.Append(
		s.RunID,
		s.Daemon,
		fmt.Sprintf("%d", s.Iterations),
		fmt.Sprintf("%d", s.Faults()),
		s.Duration.Round(time.Millisecond).String(),
		formatBytes(s.PeakMemory),
		fmt.Sprintf("%d", s.ExitCode),
	)
	if err := overview.Render(); err != nil {
		return fmt.Errorf("failed to render summary: %w", err)
	}

	if s.LastError != "" {
		fmt.Fprintf(w, "\nLast error: %s\n", s.LastError)
	}
	fmt.Fprintln(w)

	events := tablewriter.NewWriter(w)
	events.Header("Event", "Count")
	for _, name := range orderedEventNames(s.EventCounts) {
		events.Append(name, fmt.Sprintf("%d", s.EventCounts[name]))
	}
	if err := events.Render(); err != nil {
		return fmt.Errorf("failed to render event counts: %w", err)
	}
	return nil
}

// orderedEventNames lists built-in events in lifecycle order, then custom ones alphabetically
func orderedEventNames(counts map[string]uint64) []string {
	names := make([]string, 0, len(counts))
	known := make(map[string]bool)
	for _, k := range daemon.EventKinds() {
		known[k.String()] = true
		if _, ok := counts[k.String()]; ok {
			names = append(names, k.String())
		}
	}

	var custom []string
	for name := range counts {
		if !known[name] {
			custom = append(custom, name)
		}
	}
	sort.Strings(custom)
	return append(names, custom...)
}

func formatBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
