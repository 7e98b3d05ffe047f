// Package config loads the YAML configuration file a replica run is
// started from: the master address and handshake credentials, socket
// timeouts, the listening-port/capability/ack/batch/stream knobs, and
// the logging block.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root of the YAML configuration file.
type Config struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	ReplID     string `yaml:"repl_id"`
	ReplOffset int64  `yaml:"repl_offset"`

	ReadTimeout  Duration `yaml:"read_timeout"`
	WriteTimeout Duration `yaml:"write_timeout"`

	IsDiscardRDB bool `yaml:"is_discard_rdb"`
	IsAOF        bool `yaml:"is_aof"`

	ListeningPort        int      `yaml:"listening_port"`
	AnnounceCapabilities bool     `yaml:"announce_capabilities"`
	AckInterval          Duration `yaml:"ack_interval"`
	BatchSize            int      `yaml:"batch_size"`
	EnableStreams        bool     `yaml:"enable_streams"`

	Log LogConfig `yaml:"log"`

	// SinkAddr is set by the CLI (--sink-addr), not by the YAML file:
	// an optional Redis address to replay decoded commands into for
	// manual verification (internal/sink). Empty disables the sink.
	SinkAddr string `yaml:"-"`

	path string
}

// LogConfig is the logging block.
type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
	File    string `yaml:"file"`
}

// Duration unmarshals a YAML scalar like "5s" or "250ms" via
// time.ParseDuration.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

// ValidationError collects configuration issues.
type ValidationError struct {
	Path   string
	Errors []string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("invalid configuration")
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	for _, err := range e.Errors {
		b.WriteString("\n - ")
		b.WriteString(err)
	}
	return b.String()
}

// Load reads and validates the YAML configuration file at path.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	raw, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", absPath, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", absPath, err)
	}

	cfg.path = absPath
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills in "?"/-1 for a forced full sync and the
// remaining handshake/batch/log fields that are safe to default rather
// than require.
func (c *Config) ApplyDefaults() {
	if c.ReplID == "" {
		c.ReplID = "?"
	}
	if c.ReplOffset == 0 {
		c.ReplOffset = -1
	}
	if c.ListeningPort == 0 {
		c.ListeningPort = 6380
	}
	if c.AckInterval == 0 {
		c.AckInterval = Duration(time.Second)
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 64
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.File == "" {
		c.Log.File = "redisreplica"
	}
}

// Validate ensures cfg is usable.
func (c *Config) Validate() error {
	var errs []string

	if c.Addr == "" {
		errs = append(errs, "addr is required")
	}
	if c.ListeningPort <= 0 || c.ListeningPort > 65535 {
		errs = append(errs, "listening_port must be between 1 and 65535")
	}
	if c.BatchSize <= 0 {
		errs = append(errs, "batch_size must be > 0")
	}
	if c.AckInterval.Duration() <= 0 {
		errs = append(errs, "ack_interval must be > 0")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level %q is not one of debug/info/warn/error", c.Log.Level))
	}

	if len(errs) > 0 {
		return &ValidationError{Path: c.path, Errors: errs}
	}
	return nil
}

// ConfigDir returns the directory the config file was loaded from, so
// callers can resolve Log.File relative to it.
func (c *Config) ConfigDir() string { return filepath.Dir(c.path) }

// Summary returns a concise one-line overview for startup logging.
func (c *Config) Summary() string {
	return fmt.Sprintf("addr=%s repl_id=%s repl_offset=%d is_aof=%t listening_port=%d batch_size=%d",
		c.Addr, c.ReplID, c.ReplOffset, c.IsAOF, c.ListeningPort, c.BatchSize)
}
