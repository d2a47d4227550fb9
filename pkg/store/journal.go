package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/psantana5/loopd/pkg/daemon"
	"github.com/psantana5/loopd/pkg/logging"
)

// Record is one persisted lifecycle event
type Record struct {
	ID          int64
	RunID       string
	Daemon      string
	Event       string
	Iteration   int
	ExecutionMS float64
	MemoryBytes uint64
	Error       string
	CreatedAt   time.Time
}

// RunSummary aggregates the records of one run
type RunSummary struct {
	RunID      string
	Daemon     string
	Events     int
	Iterations int
	Faults     int
	StartedAt  time.Time
	LastSeenAt time.Time
}

// Journal persists every lifecycle event it is notified of. A DSN starting
// with postgres:// or postgresql:// selects PostgreSQL; anything else is a
// SQLite database path (":memory:" for an in-memory journal).
type Journal struct {
	db       *sql.DB
	driver   string
	logger   *logging.Logger
	mu       sync.Mutex
	failures int
}

// Open connects to the journal database and creates its schema
func Open(dsn string, logger *logging.Logger) (*Journal, error) {
	if dsn == "" {
		return nil, fmt.Errorf("journal DSN is required")
	}

	var (
		db     *sql.DB
		driver string
		err    error
	)
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		driver = "postgres"
		db, err = sql.Open(driver, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(5)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)
	} else {
		driver = "sqlite3"
		// WAL and busy timeout let readers (status commands) run alongside the loop
		db, err = sql.Open(driver, fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL", dsn))
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		// Single writer avoids SQLITE_BUSY and keeps one shared :memory: database
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	j := &Journal{db: db, driver: driver, logger: logger}
	if err := j.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return j, nil
}

func (j *Journal) initSchema() error {
	id := "INTEGER PRIMARY KEY AUTOINCREMENT"
	ts := "DATETIME"
	if j.driver == "postgres" {
		id = "BIGSERIAL PRIMARY KEY"
		ts = "TIMESTAMPTZ"
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS daemon_events (
			id ` + id + `,
			run_id TEXT NOT NULL,
			daemon TEXT NOT NULL,
			event TEXT NOT NULL,
			iteration INTEGER NOT NULL,
			execution_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
			memory_bytes BIGINT NOT NULL DEFAULT 0,
			error TEXT,
			created_at ` + ts + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_daemon_events_run ON daemon_events(run_id, id)`,
	}
	for _, stmt := range statements {
		if _, err := j.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind converts '?' placeholders to '$n' for PostgreSQL
func (j *Journal) rebind(query string) string {
	if j.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Notify implements daemon.Subscriber. Write failures are logged and counted
// but never interrupt the loop.
func (j *Journal) Notify(e daemon.Event) {
	if err := j.Append(e); err != nil {
		j.mu.Lock()
		j.failures++
		j.mu.Unlock()
		j.logger.Warn("failed to journal event", logging.Fields{"event": e.Name, "error": err.Error()})
	}
}

// Append persists a single event
func (j *Journal) Append(e daemon.Event) error {
	var errText sql.NullString
	if e.Err != nil {
		errText = sql.NullString{String: e.Err.Error(), Valid: true}
	}
	name := ""
	if ctrl := e.Controller(); ctrl != nil {
		name = ctrl.String()
	}
	at := e.Time
	if at.IsZero() {
		at = time.Now()
	}

	_, err := j.db.Exec(j.rebind(`
		INSERT INTO daemon_events
		(run_id, daemon, event, iteration, execution_ms, memory_bytes, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), e.RunID, name, e.Name, e.Iteration, e.Timing(), int64(e.Memory), errText, at.UTC())
	return err
}

// Failures returns how many events could not be written
func (j *Journal) Failures() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.failures
}

// Events returns the records of a run in insertion order
func (j *Journal) Events(runID string) ([]Record, error) {
	rows, err := j.db.Query(j.rebind(`
		SELECT id, run_id, daemon, event, iteration, execution_ms, memory_bytes, error, created_at
		FROM daemon_events WHERE run_id = ? ORDER BY id
	`), runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r      Record
			mem    int64
			errTxt sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.RunID, &r.Daemon, &r.Event, &r.Iteration, &r.ExecutionMS, &mem, &errTxt, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.MemoryBytes = uint64(mem)
		r.Error = errTxt.String
		records = append(records, r)
	}
	return records, rows.Err()
}

// Runs summarizes the most recent runs, newest first
func (j *Journal) Runs(limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.Query(j.rebind(`
		SELECT run_id, MAX(daemon), COUNT(*),
			SUM(CASE WHEN event = ? THEN 1 ELSE 0 END),
			SUM(CASE WHEN event = ? THEN 1 ELSE 0 END),
			MIN(created_at), MAX(created_at), MAX(id)
		FROM daemon_events
		GROUP BY run_id
		ORDER BY MAX(id) DESC
		LIMIT ?
	`), daemon.EventLoopIteration.String(), daemon.EventExceptionGeneral.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var (
			r      RunSummary
			lastID int64
		)
		var started, last timeValue
		if err := rows.Scan(&r.RunID, &r.Daemon, &r.Events, &r.Iterations, &r.Faults, &started, &last, &lastID); err != nil {
			return nil, err
		}
		r.StartedAt, r.LastSeenAt = started.Time, last.Time
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// timeValue scans aggregated timestamps, which SQLite returns as text
type timeValue struct {
	time.Time
}

func (t *timeValue) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = v
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
}

func (t *timeValue) parse(s string) error {
	s = strings.TrimSuffix(s, "Z")
	for _, layout := range sqlite3.SQLiteTimestampFormats {
		if parsed, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("cannot parse timestamp %q", s)
}

// Close closes the database
func (j *Journal) Close() error {
	return j.db.Close()
}
