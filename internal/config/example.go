package config

// ExampleConfig is printed by `loopd config example`
const ExampleConfig = `# loopd configuration
# Every key can be overridden with LOOPD_<SECTION>_<KEY>, e.g. LOOPD_LOOP_RUN_MAX=10

loop:
  # Name shown in logs and metrics
  name: "orders:consume"

  # Run a single iteration, then exit (wins over run_max)
  run_once: false

  # Stop after this many iterations (0 = run forever)
  run_max: 0

  # Gracefully stop once peak memory reaches this many bytes (0 = unlimited)
  memory_max: 536870912

  # Stop the loop on the first failing iteration; exit code comes from the failure
  shutdown_on_exception: false

  # Print failures on stderr
  show_exceptions: true

  # Pause between iterations
  sleep: "1s"

  # Upper bound on iterations per second (0 = unlimited)
  max_rate: 0
  burst: 1

# Events emitted every <count> iterations
iterations_events:
  - name: "orders.checkpoint"
    count: 100
  - name: "orders.report"
    count: 1000

# Command run on each iteration
command:
  path: "/usr/local/bin/consume-batch"
  args: ["--batch-size", "50"]
  timeout: "30s"
  # Exit status meaning "nothing left to do, stop the daemon"
  stop_exit_code: 75

# HTTP status server (/health, /status, /metrics); empty disables it
metrics:
  addr: "127.0.0.1:9464"

# Event journal: SQLite file or postgres:// URL; empty disables it
journal:
  dsn: "/var/lib/loopd/journal.db"

tracing:
  enabled: false
  endpoint: "localhost:4318"
  service_name: "loopd"

logging:
  level: "info"
  format: "text"
  file: ""
  max_size_mb: 100
  rotate_every: 1000
`
