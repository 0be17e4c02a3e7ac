// Package config holds the sigscan configuration file format.
//
// All fields are optional; see [Default] for the values used when a field is
// unset.
//
//	signatures: /var/lib/sigscan/signatures.db.zst
//	quarantine_dir: /var/lib/sigscan/Quarantine
//	history_log: /var/lib/sigscan/history.log
//	history_index: /var/lib/sigscan/history.db
//	quick_roots: [/srv/uploads]
//	poll_interval: 250ms
//	log_level: debug
//	metrics_addr: localhost:9464
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fosav/sigscan"
)

// Config is the sigscan configuration.
type Config struct {
	// Signatures is the signature database path.
	Signatures string `yaml:"signatures"`
	// QuarantineDir is where containers are stored.
	QuarantineDir string `yaml:"quarantine_dir"`
	// HistoryLog is the text history log.
	HistoryLog string `yaml:"history_log"`
	// HistoryIndex, if set, is a SQLite database mirroring the history log.
	HistoryIndex string `yaml:"history_index"`
	// QuickRoots replaces the default quick-scan directories.
	QuickRoots []string `yaml:"quick_roots"`
	// PollInterval is how often progress is refreshed while scanning.
	PollInterval time.Duration `yaml:"poll_interval"`
	// LogLevel is a [slog.Level] name.
	LogLevel string `yaml:"log_level"`
	// MetricsAddr, if set, is the listen address for Prometheus metrics.
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Signatures:    "signatures.db",
		QuarantineDir: "Quarantine",
		HistoryLog:    "history.log",
		PollInterval:  100 * time.Millisecond,
		LogLevel:      "info",
	}
}

// Load reads the configuration file at "path" over the defaults.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, &sigscan.Error{
			Op:      "config.Load",
			Kind:    sigscan.ErrIO,
			Message: "unable to open config",
			Inner:   err,
		}
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads a configuration document from "r" over the defaults. Unknown
// keys are an error. An empty document yields the defaults.
func Decode(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	switch err := dec.Decode(&cfg); {
	case err == nil:
	case errors.Is(err, io.EOF):
	default:
		return Config{}, &sigscan.Error{
			Op:      "config.Decode",
			Kind:    sigscan.ErrInvalid,
			Message: "malformed config",
			Inner:   err,
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports problems with the configuration.
func (c *Config) Validate() error {
	var errs []error
	if c.Signatures == "" {
		errs = append(errs, errors.New("signatures: must not be empty"))
	}
	if c.QuarantineDir == "" {
		errs = append(errs, errors.New("quarantine_dir: must not be empty"))
	}
	if c.HistoryLog == "" {
		errs = append(errs, errors.New("history_log: must not be empty"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval: must be positive, got %v", c.PollInterval))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return &sigscan.Error{
			Op:      "config.Validate",
			Kind:    sigscan.ErrInvalid,
			Message: "invalid config",
			Inner:   err,
		}
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	err := l.UnmarshalText([]byte(c.LogLevel))
	return l, err
}
