package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/psantana5/loopd/pkg/daemon"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. LOOPD_LOOP_RUN_MAX
const EnvPrefix = "LOOPD"

// Config is the complete loopd configuration
type Config struct {
	Loop             LoopConfig             `mapstructure:"loop" yaml:"loop"`
	IterationsEvents []daemon.PeriodicEvent `mapstructure:"iterations_events" yaml:"iterations_events"`
	Command          CommandConfig          `mapstructure:"command" yaml:"command"`
	Metrics          MetricsConfig          `mapstructure:"metrics" yaml:"metrics"`
	Journal          JournalConfig          `mapstructure:"journal" yaml:"journal"`
	Tracing          TracingConfig          `mapstructure:"tracing" yaml:"tracing"`
	Logging          LoggingConfig          `mapstructure:"logging" yaml:"logging"`
}

// LoopConfig holds the daemon loop options
type LoopConfig struct {
	Name                string  `mapstructure:"name" yaml:"name"`
	RunOnce             bool    `mapstructure:"run_once" yaml:"run_once"`
	RunMax              int     `mapstructure:"run_max" yaml:"run_max"`
	MemoryMax           uint64  `mapstructure:"memory_max" yaml:"memory_max"`
	ShutdownOnException bool    `mapstructure:"shutdown_on_exception" yaml:"shutdown_on_exception"`
	ShowExceptions      bool    `mapstructure:"show_exceptions" yaml:"show_exceptions"`
	Sleep               string  `mapstructure:"sleep" yaml:"sleep"` // e.g. "500ms", "1m"
	MaxRate             float64 `mapstructure:"max_rate" yaml:"max_rate"`
	Burst               int     `mapstructure:"burst" yaml:"burst"`
}

// CommandConfig is the external command run on each iteration
type CommandConfig struct {
	Path         string   `mapstructure:"path" yaml:"path"`
	Args         []string `mapstructure:"args" yaml:"args"`
	Dir          string   `mapstructure:"dir" yaml:"dir,omitempty"`
	Timeout      string   `mapstructure:"timeout" yaml:"timeout"`
	StopExitCode *int     `mapstructure:"stop_exit_code" yaml:"stop_exit_code,omitempty"`
}

// MetricsConfig controls the status HTTP server
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"` // empty disables the server
}

// JournalConfig controls event persistence
type JournalConfig struct {
	DSN string `mapstructure:"dsn" yaml:"dsn"` // SQLite path or postgres:// URL; empty disables
}

// TracingConfig controls OpenTelemetry export
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint    string `mapstructure:"endpoint" yaml:"endpoint"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
}

// LoggingConfig controls the logger
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"` // text or json
	File       string `mapstructure:"file" yaml:"file,omitempty"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	RotateEach int    `mapstructure:"rotate_every" yaml:"rotate_every"` // iterations between rotation checks
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Loop: LoopConfig{
			Name:  "loopd",
			Burst: 1,
		},
		Command: CommandConfig{
			Timeout: "0s",
		},
		Tracing: TracingConfig{
			Endpoint:    "localhost:4318",
			ServiceName: "loopd",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			RotateEach: 1000,
		},
	}
}

// SetDefaults registers every key on v so environment overrides apply even
// when the key is missing from the file
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("loop.name", d.Loop.Name)
	v.SetDefault("loop.run_once", d.Loop.RunOnce)
	v.SetDefault("loop.run_max", d.Loop.RunMax)
	v.SetDefault("loop.memory_max", d.Loop.MemoryMax)
	v.SetDefault("loop.shutdown_on_exception", d.Loop.ShutdownOnException)
	v.SetDefault("loop.show_exceptions", d.Loop.ShowExceptions)
	v.SetDefault("loop.sleep", d.Loop.Sleep)
	v.SetDefault("loop.max_rate", d.Loop.MaxRate)
	v.SetDefault("loop.burst", d.Loop.Burst)
	v.SetDefault("iterations_events", []map[string]interface{}{})
	v.SetDefault("command.path", d.Command.Path)
	v.SetDefault("command.args", []string{})
	v.SetDefault("command.dir", d.Command.Dir)
	v.SetDefault("command.timeout", d.Command.Timeout)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("journal.dsn", d.Journal.DSN)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	v.SetDefault("logging.rotate_every", d.Logging.RotateEach)
}

// BindEnv enables LOOPD_* environment overrides on v
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load decodes and validates the configuration held by v
func Load(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile reads a YAML file strictly: unknown keys are errors
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of the defaults and validates the result
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Marshal renders the configuration as YAML
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// Validate checks every section
func (c *Config) Validate() error {
	if _, err := c.DaemonConfig(); err != nil {
		return err
	}
	if c.Loop.MaxRate < 0 {
		return fmt.Errorf("loop.max_rate must be >= 0, got %v", c.Loop.MaxRate)
	}
	if _, err := parseDuration("command.timeout", c.Command.Timeout); err != nil {
		return err
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not a known level", c.Logging.Level)
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing.endpoint is required when tracing is enabled")
	}
	return nil
}

// DaemonConfig converts the loop section into the controller configuration
func (c *Config) DaemonConfig() (daemon.Config, error) {
	sleep, err := parseDuration("loop.sleep", c.Loop.Sleep)
	if err != nil {
		return daemon.Config{}, err
	}
	dc := daemon.Config{
		RunOnce:             c.Loop.RunOnce,
		MaxIterations:       c.Loop.RunMax,
		MemoryMax:           c.Loop.MemoryMax,
		ShutdownOnException: c.Loop.ShutdownOnException,
		ShowExceptions:      c.Loop.ShowExceptions,
		Sleep:               sleep,
		IterationEvents:     c.IterationsEvents,
	}
	if err := dc.Validate(); err != nil {
		return daemon.Config{}, err
	}
	return dc, nil
}

// CommandTimeout returns the parsed per-iteration command timeout
func (c *Config) CommandTimeout() time.Duration {
	d, _ := parseDuration("command.timeout", c.Command.Timeout)
	return d
}

func parseDuration(key, raw string) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s: must be >= 0", key)
	}
	return d, nil
}
