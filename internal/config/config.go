// Package config manages the server configuration stored in gridb.yaml.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/maruel/gridb/internal/invalidation"
	"github.com/maruel/gridb/internal/pending"
	"github.com/maruel/gridb/internal/retry"
)

// FileName is the configuration file created in the data directory.
const FileName = "gridb.yaml"

// jsonFileName is accepted when present and FileName is not.
const jsonFileName = "gridb.json"

// Config stores all server-wide configuration.
// Loaded from gridb.yaml, created with defaults if missing.
type Config struct {
	Database Database `yaml:"database" json:"database"`

	// PageSize is the number of rows fetched per page. 0 selects the store
	// default.
	PageSize int `yaml:"page_size" json:"page_size"`

	Retry    Retry    `yaml:"retry" json:"retry"`
	Registry Registry `yaml:"registry" json:"registry"`

	// RefetchOnError reloads the affected table after every failed mutation.
	RefetchOnError bool `yaml:"refetch_on_error" json:"refetch_on_error"`

	RateLimits RateLimits `yaml:"rate_limits" json:"rate_limits"`

	// JournalMaxEntries bounds the mutation journal kept in the data
	// directory. 0 keeps every entry.
	JournalMaxEntries int `yaml:"journal_max_entries" json:"journal_max_entries"`

	// LogLevel is one of debug, info, warn or error. It is applied live when
	// the file changes.
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// Database selects the store backend.
type Database struct {
	// Driver is sqlite or postgres.
	Driver string `yaml:"driver" json:"driver"`
	// DSN is a file path for sqlite, relative to the data directory, or a
	// connection URL for postgres.
	DSN string `yaml:"dsn" json:"dsn"`
}

// Validate checks the driver and DSN.
func (d *Database) Validate() error {
	switch d.Driver {
	case "sqlite":
	case "postgres":
		if d.DSN == "" {
			return errors.New("dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unknown driver %q", d.Driver)
	}
	return nil
}

// Resolve returns the DSN to open, with sqlite paths anchored to dataDir.
func (d *Database) Resolve(dataDir string) string {
	if d.Driver != "sqlite" {
		return d.DSN
	}
	dsn := d.DSN
	if dsn == "" {
		dsn = "gridb.db"
	}
	path, _, _ := strings.Cut(dsn, "?")
	if filepath.IsAbs(path) {
		return dsn
	}
	return filepath.Join(dataDir, dsn)
}

// Retry configures the write retry loop.
type Retry struct {
	MaxAttempts int      `yaml:"max_attempts" json:"max_attempts"`
	BaseDelay   Duration `yaml:"base_delay" json:"base_delay"`
	Multiplier  float64  `yaml:"multiplier" json:"multiplier"`
}

// Validate checks the retry parameters.
func (r *Retry) Validate() error {
	p := r.Policy()
	return p.Validate()
}

// Policy returns the retry policy, retrying transient store errors.
func (r *Retry) Policy() retry.Policy {
	p := retry.Default()
	p.MaxAttempts = r.MaxAttempts
	p.BaseDelay = time.Duration(r.BaseDelay)
	p.Multiplier = r.Multiplier
	return p
}

// Registry configures the placeholder registry.
type Registry struct {
	// Timeout is how long a dependent mutation waits for a placeholder.
	Timeout Duration `yaml:"timeout" json:"timeout"`
	// Retention is how long resolved placeholders stay queryable.
	Retention Duration `yaml:"retention" json:"retention"`
}

// Validate checks that durations are usable.
func (r *Registry) Validate() error {
	if r.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if r.Retention < 0 {
		return errors.New("retention must be non-negative")
	}
	return nil
}

// Options returns the registry options.
func (r *Registry) Options() []pending.Option {
	return []pending.Option{
		pending.WithTimeout(time.Duration(r.Timeout)),
		pending.WithRetention(time.Duration(r.Retention)),
	}
}

// RateLimits defines rate limiting configuration (requests per minute).
type RateLimits struct {
	// WritePerMin limits mutations. 0 means unlimited.
	WritePerMin int `yaml:"write_per_min" json:"write_per_min"`
	// ReadPerMin limits reads. 0 means unlimited.
	ReadPerMin int `yaml:"read_per_min" json:"read_per_min"`
}

// Validate checks that rate limit values are non-negative.
func (r *RateLimits) Validate() error {
	if r.WritePerMin < 0 {
		return errors.New("write_per_min must be non-negative")
	}
	if r.ReadPerMin < 0 {
		return errors.New("read_per_min must be non-negative")
	}
	return nil
}

// Default returns the default configuration.
func Default() Config {
	p := retry.Default()
	return Config{
		Database: Database{Driver: "sqlite", DSN: "gridb.db"},
		PageSize: 100,
		Retry: Retry{
			MaxAttempts: p.MaxAttempts,
			BaseDelay:   Duration(p.BaseDelay),
			Multiplier:  p.Multiplier,
		},
		Registry: Registry{
			Timeout:   Duration(pending.DefaultTimeout),
			Retention: Duration(pending.DefaultRetention),
		},
		RefetchOnError: invalidation.Default().RefetchOnError,
		RateLimits: RateLimits{
			WritePerMin: 600,
			ReadPerMin:  6000,
		},
		JournalMaxEntries: 10000,
		LogLevel:          "info",
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if c.PageSize < 0 {
		return errors.New("page_size must be non-negative")
	}
	if c.JournalMaxEntries < 0 {
		return errors.New("journal_max_entries must be non-negative")
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	if err := c.Registry.Validate(); err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	if err := c.RateLimits.Validate(); err != nil {
		return fmt.Errorf("rate_limits: %w", err)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	return nil
}

// Planner returns the invalidation planner selected by the configuration.
func (c *Config) Planner() *invalidation.Planner {
	return &invalidation.Planner{RefetchOnError: c.RefetchOnError}
}

// Path returns the configuration file used for dataDir: gridb.yaml, or
// gridb.json when only that one exists.
func Path(dataDir string) string {
	p := filepath.Join(dataDir, FileName)
	if fileExists(p) {
		return p
	}
	if j := filepath.Join(dataDir, jsonFileName); fileExists(j) {
		return j
	}
	return p
}

// Load loads the configuration from dataDir.
// Creates gridb.yaml with defaults if no configuration file exists.
func Load(dataDir string) (*Config, error) {
	path := Path(dataDir)
	cfg, err := read(path)
	if errors.Is(err, os.ErrNotExist) {
		d := Default()
		if err := d.Save(path); err != nil {
			return nil, err
		}
		return &d, nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func read(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is constructed from the data dir
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	// A truncated file is seen mid-write while watching.
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%s is empty", filepath.Base(path))
	}
	cfg := Default()
	if filepath.Ext(path) == ".json" {
		err = json.Unmarshal(data, &cfg)
	} else {
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", filepath.Base(path), err)
	}
	return &cfg, nil
}

// Save writes the configuration to path, as JSON when path ends in .json.
func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	var data []byte
	var err error
	if filepath.Ext(path) == ".json" {
		if data, err = json.MarshalIndent(c, "", "  "); err == nil {
			data = append(data, '\n')
		}
	} else {
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// ParseLevel converts a log level name.
func ParseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level: %q", s)
	}
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
