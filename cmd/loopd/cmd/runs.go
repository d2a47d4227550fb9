package cmd

import (
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/psantana5/loopd/pkg/logging"
	"github.com/psantana5/loopd/pkg/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "List recorded runs, or the events of one run",
	Long: `Runs reads the event journal configured with journal.dsn (or --journal).
Without an argument it lists the most recent runs; with a run ID it prints
every event recorded for that run.`,
	Args: cobra.MaximumNArgs(1),
	RunE: listRuns,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "number of runs to list")
	runsCmd.Flags().String("journal", "", "SQLite file or postgres:// URL (default from config)")
}

func listRuns(cmd *cobra.Command, args []string) error {
	dsn := viper.GetString("journal.dsn")
	if flag := cmd.Flags().Lookup("journal"); flag.Changed {
		dsn = flag.Value.String()
	}
	if dsn == "" {
		return fmt.Errorf("no journal configured; set journal.dsn or pass --journal")
	}

	journal, err := store.Open(dsn, logging.Discard())
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer journal.Close()

	table := tablewriter.NewWriter(cmd.OutOrStdout())

	if len(args) == 1 {
		records, err := journal.Events(args[0])
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return fmt.Errorf("run %s not found", args[0])
		}
		table.Header("Time", "Event", "Iteration", "Duration (ms)", "Memory", "Error")
		for _, r := range records {
			table.Append(
				r.CreatedAt.Format("2006-01-02 15:04:05"),
				r.Event,
				strconv.Itoa(r.Iteration),
				fmt.Sprintf("%.1f", r.ExecutionMS),
				strconv.FormatUint(r.MemoryBytes, 10),
				r.Error,
			)
		}
		return table.Render()
	}

	runs, err := journal.Runs(runsLimit)
	if err != nil {
		return err
	}
	table.Header("Run ID", "Daemon", "Started", "Last Event", "Iterations", "Faults", "Events")
	for _, r := range runs {
		table.Append(
			r.RunID,
			r.Daemon,
			r.StartedAt.Format("2006-01-02 15:04:05"),
			r.LastSeenAt.Format("2006-01-02 15:04:05"),
			strconv.Itoa(r.Iterations),
			strconv.Itoa(r.Faults),
			strconv.Itoa(r.Events),
		)
	}
	return table.Render()
}
