// Package config holds the persisted JSON configuration. A Config is loaded
// once, validated before any network activity, and passed explicitly into the
// engine; there is no ambient global state.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/halvar-l/grabbit/internal/engine"
)

const stageConfig = "config"

type Config struct {
	MaxConcurrentFragments int    `json:"max_concurrent_fragments"`
	ChunkSize              int    `json:"chunk_size"`
	Timeout                int    `json:"timeout"` // seconds, per-request stall
	RetryAttempts          int    `json:"retry_attempts"`
	OutputDirectory        string `json:"output_directory"`
	TempDirectory          string `json:"temp_directory"`
	VerifySSL              bool   `json:"verify_ssl"`
	ShowProgress           bool   `json:"show_progress"`
	ProgressStyle          string `json:"progress_style"` // inline, full_screen, simple
}

func Default() Config {
	return Config{
		MaxConcurrentFragments: 4,
		ChunkSize:              8192,
		Timeout:                30,
		RetryAttempts:          3,
		OutputDirectory:        "./downloads",
		TempDirectory:          "./temp",
		VerifySSL:              true,
		ShowProgress:           true,
		ProgressStyle:          "inline",
	}
}

// DefaultPath is where the configuration document lives unless overridden.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".grabbit.json"
	}
	return filepath.Join(home, ".grabbit.json")
}

// Load reads the JSON document at path. A missing file yields the defaults;
// fields absent from the document keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, engine.NewError(engine.KindConfig, stageConfig, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Default(), engine.NewError(engine.KindConfig, stageConfig,
			fmt.Errorf("parsing %s: %w", path, err))
	}
	if err := cfg.Validate(); err != nil {
		return Default(), err
	}
	return cfg, nil
}

// Save persists the configuration document. Unsaved changes apply only to the
// current run; this is the explicit save action.
func (c Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return engine.NewError(engine.KindConfig, stageConfig, err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return engine.NewError(engine.KindConfig, stageConfig, err)
	}
	return nil
}

func (c Config) Validate() error {
	fail := func(format string, args ...any) error {
		return engine.NewError(engine.KindConfig, stageConfig, fmt.Errorf(format, args...))
	}
	if c.MaxConcurrentFragments < 1 {
		return fail("max_concurrent_fragments must be at least 1, got %d", c.MaxConcurrentFragments)
	}
	if c.ChunkSize < 1 {
		return fail("chunk_size must be positive, got %d", c.ChunkSize)
	}
	if c.Timeout < 1 {
		return fail("timeout must be positive, got %d", c.Timeout)
	}
	if c.RetryAttempts < 1 {
		return fail("retry_attempts must be at least 1, got %d", c.RetryAttempts)
	}
	if c.OutputDirectory == "" {
		return fail("output_directory must not be empty")
	}
	if c.TempDirectory == "" {
		return fail("temp_directory must not be empty")
	}
	switch c.ProgressStyle {
	case "inline", "full_screen", "simple":
	default:
		return fail("progress_style must be inline, full_screen or simple, got %q", c.ProgressStyle)
	}
	return nil
}

// Set assigns a field by its JSON key from a string value, for `config set`.
func (c *Config) Set(key, value string) error {
	fail := func(err error) error {
		return engine.NewError(engine.KindConfig, stageConfig,
			fmt.Errorf("setting %s=%q: %w", key, value, err))
	}
	switch key {
	case "max_concurrent_fragments", "chunk_size", "timeout", "retry_attempts":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fail(err)
		}
		switch key {
		case "max_concurrent_fragments":
			c.MaxConcurrentFragments = n
		case "chunk_size":
			c.ChunkSize = n
		case "timeout":
			c.Timeout = n
		case "retry_attempts":
			c.RetryAttempts = n
		}
	case "output_directory":
		c.OutputDirectory = value
	case "temp_directory":
		c.TempDirectory = value
	case "verify_ssl", "show_progress":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fail(err)
		}
		if key == "verify_ssl" {
			c.VerifySSL = b
		} else {
			c.ShowProgress = b
		}
	case "progress_style":
		c.ProgressStyle = value
	default:
		return engine.NewError(engine.KindConfig, stageConfig,
			fmt.Errorf("unknown configuration key %q", key))
	}
	return c.Validate()
}
