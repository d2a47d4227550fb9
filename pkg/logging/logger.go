package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log level
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Fields are structured key/value pairs attached to a log entry
type Fields map[string]interface{}

// sink is the output shared by a logger and all of its children
type sink struct {
	mu      sync.Mutex
	output  io.Writer
	logFile *os.File
	mirror  io.Writer // copy of file output, stderr by default
}

// Logger provides structured logging with optional file output
type Logger struct {
	sink       *sink
	level      Level
	jsonFormat bool
	fields     Fields
	now        func() time.Time
}

// NewLogger creates a logger writing to w (stderr when nil)
func NewLogger(w io.Writer, level Level, jsonFormat bool) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return &Logger{
		sink:       &sink{output: w},
		level:      level,
		jsonFormat: jsonFormat,
		fields:     make(Fields),
		now:        time.Now,
	}
}

// NewFileLogger creates a logger that appends to path and mirrors to stderr.
// Parent directories are created as needed.
func NewFileLogger(path string, level Level, jsonFormat bool) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory for %s: %w", path, err)
	}

	logFile, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	logger := NewLogger(nil, level, jsonFormat)
	logger.sink.mirror = os.Stderr
	logger.sink.setFile(logFile)
	return logger, nil
}

// Discard returns a logger that drops every entry
func Discard() *Logger {
	return NewLogger(io.Discard, ERROR+1, false)
}

// Entry is the JSON shape of a log line
type Entry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Fields    Fields `json:"fields,omitempty"`
}

func (l *Logger) log(level Level, message string, fields Fields) {
	if l == nil || level < l.level {
		return
	}

	merged := make(Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	out := l.sink.output
	now := l.now()
	if l.jsonFormat {
		entry := Entry{
			Timestamp: now.Format(time.RFC3339Nano),
			Level:     level.String(),
			Message:   message,
			Fields:    merged,
		}
		data, err := json.Marshal(entry)
		if err != nil {
			fmt.Fprintf(out, "[%s] ERROR: failed to marshal log entry: %v\n", now.Format("2006-01-02 15:04:05"), err)
			return
		}
		fmt.Fprintln(out, string(data))
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: %s", now.Format("2006-01-02 15:04:05"), level.String(), message)
	if len(merged) > 0 {
		keys := make([]string, 0, len(merged))
		for k := range merged {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, merged[k])
		}
	}
	fmt.Fprintln(out, b.String())
}

// Debug logs a debug message
func (l *Logger) Debug(message string, fields ...Fields) {
	l.log(DEBUG, message, first(fields))
}

// Info logs an info message
func (l *Logger) Info(message string, fields ...Fields) {
	l.log(INFO, message, first(fields))
}

// Warn logs a warning message
func (l *Logger) Warn(message string, fields ...Fields) {
	l.log(WARN, message, first(fields))
}

// Error logs an error message
func (l *Logger) Error(message string, fields ...Fields) {
	l.log(ERROR, message, first(fields))
}

func first(fields []Fields) Fields {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}

// WithField returns a child logger carrying key=value on every entry.
// The child shares the parent's output.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	if l == nil {
		return nil
	}
	newFields := make(Fields, len(l.fields)+1)
	for k, v := range l.fields {
		newFields[k] = v
	}
	newFields[key] = value
	return &Logger{
		sink:       l.sink,
		level:      l.level,
		jsonFormat: l.jsonFormat,
		fields:     newFields,
		now:        l.now,
	}
}

// Enabled reports whether entries at level would be written
func (l *Logger) Enabled(level Level) bool {
	return l != nil && level >= l.level
}

// ParseLevel parses a log level string, defaulting to INFO
func ParseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// Close closes the log file if one was opened
func (l *Logger) Close() error {
	if l == nil || l.sink.logFile == nil {
		return nil
	}
	return l.sink.logFile.Close()
}

// RotateIfNeeded renames the log file with a timestamp suffix once it exceeds
// maxSize bytes and reopens a fresh file at the original path.
func (l *Logger) RotateIfNeeded(maxSize int64) error {
	if l == nil || l.sink.logFile == nil {
		return nil
	}

	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := s.logFile.Stat()
	if err != nil {
		return err
	}
	if info.Size() <= maxSize {
		return nil
	}

	// The open handle follows the rename, so on any failure below the
	// current file keeps receiving entries.
	oldPath := s.logFile.Name()
	backupPath := oldPath + "." + l.now().Format("20060102-150405")
	if err := os.Rename(oldPath, backupPath); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}

	newFile, err := os.OpenFile(oldPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		if rerr := os.Rename(backupPath, oldPath); rerr != nil {
			return fmt.Errorf("failed to reopen log file: %w (restore: %v)", err, rerr)
		}
		return fmt.Errorf("failed to reopen log file: %w", err)
	}

	old := s.logFile
	s.setFile(newFile)
	old.Close()
	return nil
}

func (s *sink) setFile(f *os.File) {
	s.logFile = f
	if s.mirror == nil {
		s.output = f
		return
	}
	s.output = io.MultiWriter(f, s.mirror)
}
