package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration loaded from piiscan.yaml.
// It is built once at startup and passed by value or pointer into each
// component constructor; nothing mutates it afterwards.
type Config struct {
	OutputDir   string     `yaml:"output_dir"   json:"output_dir"`
	Extensions  []string   `yaml:"extensions"   json:"extensions"`
	SkipDirs    []string   `yaml:"skip_dirs"    json:"skip_dirs"`
	// ChunkSize fixes the chunk size in characters for every file; 0 lets the
	// strategy selector size chunks from available memory.
	ChunkSize   int        `yaml:"chunk_size"   json:"chunk_size"`
	Overlap     int        `yaml:"overlap"      json:"overlap"`
	PollSeconds int        `yaml:"poll_seconds" json:"poll_seconds"`
	HTTPAddr    string     `yaml:"http_addr"    json:"-"`
	LogLevel    string     `yaml:"log_level"    json:"-"`
	Workers     Workers    `yaml:"workers"      json:"workers"`
	Memory      Memory     `yaml:"memory"       json:"memory"`
	Checkpoint  Checkpoint `yaml:"checkpoint"   json:"checkpoint"`
	Detector    Detector   `yaml:"detector"     json:"detector"`
	// StoreDetails enables per-entity detail rows in the results store.
	StoreDetails bool `yaml:"store_details" json:"store_details"`
}

// Workers holds concurrency knobs for the scan pipeline.
type Workers struct {
	Walkers    int `yaml:"walkers"     json:"walkers"`
	MaxWorkers int `yaml:"max_workers" json:"max_workers"`
}

// Memory holds the memory monitor thresholds.
type Memory struct {
	ReclaimThreshold    float64 `yaml:"reclaim_threshold"     json:"reclaim_threshold"`
	FallbackAvailableMB float64 `yaml:"fallback_available_mb" json:"fallback_available_mb"`
	FallbackTotalMB     float64 `yaml:"fallback_total_mb"     json:"fallback_total_mb"`
}

// Checkpoint holds resume settings.
type Checkpoint struct {
	StaleAfter time.Duration `yaml:"stale_after" json:"stale_after"`
	// Every is the number of completed chunks between periodic checkpoints.
	Every int `yaml:"every" json:"every"`
}

// Detector holds confidence-validation thresholds.
type Detector struct {
	Validate             bool    `yaml:"validate"               json:"validate"`
	MinConfidence        float64 `yaml:"min_confidence"         json:"min_confidence"`
	ContextBoost         float64 `yaml:"context_boost"          json:"context_boost"`
	FalsePositivePenalty float64 `yaml:"false_positive_penalty" json:"false_positive_penalty"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{Detector: Detector{Validate: true}}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills zero/empty fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.OutputDir == "" {
		c.OutputDir = "./pii_results"
	}
	if len(c.Extensions) == 0 {
		c.Extensions = []string{".txt", ".csv", ".log", ".md", ".html", ".pdf"}
	}
	if c.SkipDirs == nil {
		c.SkipDirs = []string{
			".git", ".svn", ".hg", "node_modules", "vendor", "__pycache__",
			".venv", "venv", ".idea", ".vscode", ".cache", ".resume", ".piiscan",
		}
	}
	if c.Overlap == 0 {
		c.Overlap = 100
	}
	if c.PollSeconds == 0 {
		c.PollSeconds = 10
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Workers.Walkers == 0 {
		c.Workers.Walkers = 4
	}
	if c.Workers.MaxWorkers == 0 {
		c.Workers.MaxWorkers = 8
	}
	if c.Memory.ReclaimThreshold == 0 {
		c.Memory.ReclaimThreshold = 0.80
	}
	if c.Memory.FallbackAvailableMB == 0 {
		c.Memory.FallbackAvailableMB = 4096
	}
	if c.Memory.FallbackTotalMB == 0 {
		c.Memory.FallbackTotalMB = 8192
	}
	if c.Checkpoint.StaleAfter == 0 {
		c.Checkpoint.StaleAfter = 24 * time.Hour
	}
	if c.Checkpoint.Every == 0 {
		c.Checkpoint.Every = 50
	}
	if c.Detector.MinConfidence == 0 {
		c.Detector.MinConfidence = 0.5
	}
	if c.Detector.ContextBoost == 0 {
		c.Detector.ContextBoost = 0.2
	}
	if c.Detector.FalsePositivePenalty == 0 {
		c.Detector.FalsePositivePenalty = 0.3
	}
}

// Validate reports configuration values that cannot be used.
func (c *Config) Validate() error {
	var errs []error
	if c.ChunkSize < 0 {
		errs = append(errs, fmt.Errorf("chunk_size must be 0 or positive, got %d", c.ChunkSize))
	}
	if c.Overlap < 0 || (c.ChunkSize > 0 && c.Overlap >= c.ChunkSize) {
		errs = append(errs, fmt.Errorf("overlap must be in [0, chunk_size), got %d", c.Overlap))
	}
	if c.PollSeconds < 0 {
		errs = append(errs, fmt.Errorf("poll_seconds must be positive, got %d", c.PollSeconds))
	}
	if c.Memory.ReclaimThreshold <= 0 || c.Memory.ReclaimThreshold > 1 {
		errs = append(errs, fmt.Errorf("memory.reclaim_threshold must be in (0, 1], got %v", c.Memory.ReclaimThreshold))
	}
	if c.Detector.MinConfidence < 0 || c.Detector.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("detector.min_confidence must be in [0, 1], got %v", c.Detector.MinConfidence))
	}
	return errors.Join(errs...)
}

// Load reads and parses the YAML config file at path, then applies
// environment overrides (a .env file in the working directory is honoured).
// If the file does not exist, Load returns a default Config so the scanner
// can run without any config file.
func Load(path string) (*Config, error) {
	// A missing .env is the common case.
	_ = godotenv.Load()

	var cfg Config
	cfg.Detector.Validate = true

	f, err := os.Open(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("open config %q: %w", path, err)
	default:
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse config %q: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %q: %w", path, err)
	}
	return &cfg, nil
}

// applyEnv overlays PIISCAN_* environment variables on top of the file.
func (c *Config) applyEnv() error {
	if v := os.Getenv("PIISCAN_OUTPUT_DIR"); v != "" {
		c.OutputDir = v
	}
	if v := os.Getenv("PIISCAN_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("PIISCAN_HTTP_ADDR"); v != "" {
		c.HTTPAddr = v
	}
	if v := os.Getenv("PIISCAN_POLL_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PIISCAN_POLL_SECONDS: %w", err)
		}
		c.PollSeconds = n
	}
	return nil
}
