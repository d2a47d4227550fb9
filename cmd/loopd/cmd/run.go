package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/psantana5/loopd/internal/api"
	"github.com/psantana5/loopd/internal/config"
	"github.com/psantana5/loopd/internal/observe"
	"github.com/psantana5/loopd/internal/report"
	"github.com/psantana5/loopd/internal/wrapper"
	"github.com/psantana5/loopd/pkg/daemon"
	"github.com/psantana5/loopd/pkg/logging"
	"github.com/psantana5/loopd/pkg/metrics"
	"github.com/psantana5/loopd/pkg/ratelimit"
	"github.com/psantana5/loopd/pkg/retry"
	"github.com/psantana5/loopd/pkg/shutdown"
	"github.com/psantana5/loopd/pkg/store"
	"github.com/psantana5/loopd/pkg/tracing"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	stopExitCode int
	showReport   bool
	dumpMetrics  bool
)

var runCmd = &cobra.Command{
	Use:   "run [flags] [-- <command> [args...]]",
	Short: "Run a command on every loop iteration",
	Long: `Run executes the configured command once per iteration until the loop
terminates. Without a command after "--" the command from the configuration
file is used.

A zero exit status is a successful iteration. The status given with
--stop-exit-code stops the loop and becomes the daemon exit status. Any other
status is a failed iteration; with --shutdown-on-exception it also stops the
loop and becomes the exit status.

Example:
  loopd run --run-max 100 --sleep 2s -- ./consume-batch.sh
  loopd run --run-once --show-exceptions -- php bin/console app:sync
  loopd run --memory-max 268435456 --stop-exit-code 75 -- ./drain-queue`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)

	flags := runCmd.Flags()
	daemon.RegisterFlags(flags)

	flags.String("name", "", "daemon name shown in logs and metrics")
	flags.Duration("sleep", 0, "pause between iterations")
	flags.Float64("max-rate", 0, "maximum iterations per second (0 = unlimited)")
	flags.Duration("timeout", 0, "per-iteration command timeout (0 = none)")
	flags.String("metrics-addr", "", "serve /health, /status and /metrics on this address")
	flags.String("journal", "", "record events to a SQLite file or postgres:// URL")
	flags.IntVar(&stopExitCode, "stop-exit-code", 0, "command exit status that stops the loop")
	flags.BoolVar(&showReport, "report", false, "print a run summary table on exit")
	flags.BoolVar(&dumpMetrics, "dump-metrics", false, "print the final metrics in Prometheus text format on exit")

	viper.BindPFlag("loop.name", flags.Lookup("name"))
	viper.BindPFlag("loop.sleep", flags.Lookup("sleep"))
	viper.BindPFlag("loop.max_rate", flags.Lookup("max-rate"))
	viper.BindPFlag("command.timeout", flags.Lookup("timeout"))
	viper.BindPFlag("metrics.addr", flags.Lookup("metrics-addr"))
	viper.BindPFlag("journal.dsn", flags.Lookup("journal"))
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	// Loop flags override the configuration file
	loopCfg, err := cfg.DaemonConfig()
	if err != nil {
		return err
	}
	loopCfg, err = daemon.ConfigFromOptions(loopCfg, daemon.FlagOptions(cmd.Flags()))
	if err != nil {
		return err
	}

	command, err := buildCommand(cfg, args, cmd.Flags().Changed("stop-exit-code"))
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}

	cleanup := shutdown.New(10*time.Second, logger)
	defer cleanup.Shutdown()
	cleanup.Register("logger", shutdown.CloseResource(logger))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	tally := report.NewTally(func(s *report.Summary) {
		s.LogSummary(logger)
	})
	subscribers := []daemon.Subscriber{
		observe.NewLogSubscriber(logger),
		metrics.NewCollector(reg, strings.ReplaceAll(cfg.Loop.Name, ":", "-")),
		tally,
	}

	var journal *store.Journal
	if cfg.Journal.DSN != "" {
		err = retry.Do(cmd.Context(), retry.DefaultConfig(), func() error {
			var openErr error
			journal, openErr = store.Open(cfg.Journal.DSN, logger)
			return openErr
		})
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		cleanup.Register("journal", shutdown.CloseResource(journal))
		subscribers = append(subscribers, journal)
	}

	if cfg.Tracing.Enabled {
		provider, err := tracing.InitTracer(tracing.Config{
			ServiceName:    cfg.Tracing.ServiceName,
			ServiceVersion: Version,
			Environment:    os.Getenv("LOOPD_ENV"),
			OTLPEndpoint:   cfg.Tracing.Endpoint,
			Enabled:        true,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		cleanup.Register("tracer", provider.Shutdown)
		subscribers = append(subscribers, tracing.NewSubscriber(provider))
	}

	ctrl, err := daemon.New(command.Work(), daemon.Options{
		Name:       cfg.Loop.Name,
		Config:     loopCfg,
		Setup:      rotateLogs(logger, cfg.Logging),
		Subscriber: daemon.Fanout(subscribers...),
		Pacer:      ratelimit.NewPacer(cfg.Loop.MaxRate, cfg.Loop.Burst),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	if cfg.Metrics.Addr != "" {
		if err := serveStatus(ctrl, cfg.Metrics.Addr, tally, reg, journal, cleanup, logger); err != nil {
			return err
		}
	}

	bridge := shutdown.NewBridge(ctrl)
	bridge.Start()
	defer bridge.Stop()

	code, err := ctrl.Run(cmd.Context())
	exitCode = code
	if err != nil {
		return err
	}

	if showReport {
		if summary, done := tally.Summary(); done {
			report.WriteTable(cmd.ErrOrStderr(), summary)
		}
	}
	if dumpMetrics {
		if err := metrics.WriteText(cmd.ErrOrStderr(), reg); err != nil {
			logger.Warn("failed to dump metrics", logging.Fields{"error": err.Error()})
		}
	}
	if journal != nil && journal.Failures() > 0 {
		logger.Warn("journal dropped events", logging.Fields{"failures": journal.Failures()})
	}
	return nil
}

func buildCommand(cfg *config.Config, args []string, stopCodeSet bool) (wrapper.Command, error) {
	command := wrapper.Command{
		Path:         cfg.Command.Path,
		Args:         cfg.Command.Args,
		Dir:          cfg.Command.Dir,
		Timeout:      cfg.CommandTimeout(),
		StopExitCode: cfg.Command.StopExitCode,
		Stdout:       os.Stdout,
		Stderr:       os.Stderr,
	}
	if len(args) > 0 {
		command.Path = args[0]
		command.Args = args[1:]
	}
	if stopCodeSet {
		code := stopExitCode
		command.StopExitCode = &code
	}
	if command.Path == "" {
		return command, errors.New("no command specified: pass one after -- or set command.path")
	}
	return command, nil
}

func newLogger(cfg config.LoggingConfig) (*logging.Logger, error) {
	level := logging.ParseLevel(cfg.Level)
	jsonFormat := strings.EqualFold(cfg.Format, "json")
	if cfg.File != "" {
		logger, err := logging.NewFileLogger(cfg.File, level, jsonFormat)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		return logger, nil
	}
	return logging.NewLogger(os.Stderr, level, jsonFormat), nil
}

// rotateLogs registers a periodic size check of the log file
func rotateLogs(logger *logging.Logger, cfg config.LoggingConfig) daemon.WorkFunc {
	return func(ctx context.Context, c *daemon.Controller) error {
		if cfg.File == "" || cfg.RotateEach <= 0 || cfg.MaxSizeMB <= 0 {
			return nil
		}
		maxSize := int64(cfg.MaxSizeMB) << 20
		return c.AddIntervalCallback(cfg.RotateEach, func(ctx context.Context, c *daemon.Controller) error {
			if err := logger.RotateIfNeeded(maxSize); err != nil {
				logger.Warn("log rotation failed", logging.Fields{"error": err.Error()})
			}
			return nil
		})
	}
}

func serveStatus(ctrl *daemon.Controller, addr string, tally *report.Tally, reg *prometheus.Registry,
	journal *store.Journal, cleanup *shutdown.Manager, logger *logging.Logger) error {
	handler := api.NewHandler(ctrl, tally, reg)
	if journal != nil {
		handler.SetRunLister(journal)
	}

	limiter := ratelimit.NewLimiter(10, 20)
	if err := ctrl.AddIntervalCallback(100, func(ctx context.Context, c *daemon.Controller) error {
		if n := limiter.CleanupOldLimiters(10 * time.Minute); n > 0 {
			logger.Debug("dropped idle rate limiters", logging.Fields{"count": n})
		}
		return nil
	}); err != nil {
		return err
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           api.NewRouter(handler, limiter),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("status server listening", logging.Fields{"addr": addr})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("status server failed", logging.Fields{"error": err.Error()})
		}
	}()
	cleanup.Register("status server", shutdown.StopHTTPServer(server))
	return nil
}
