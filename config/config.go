package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the node configuration. Values omitted from the file keep their
// defaults; a few operational values can be overridden via the environment.
type Config struct {
	Listen     string           `yaml:"listen"`
	LogLevel   string           `yaml:"logLevel"`
	Database   DatabaseConfig   `yaml:"database"`
	Sequencer  SequencerConfig  `yaml:"sequencer"`
	Settlement SettlementConfig `yaml:"settlement"`
}

type DatabaseConfig struct {
	Backend string `yaml:"backend"` // leveldb | sqlite | memory
	Path    string `yaml:"path"`
}

type SequencerConfig struct {
	Interval        time.Duration `yaml:"interval"`
	MaxBatchSize    int           `yaml:"maxBatchSize"`
	QueueCapacity   int           `yaml:"queueCapacity"`
	MaxRetries      int           `yaml:"maxRetries"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	JournalPath     string        `yaml:"journalPath"`
}

type SettlementConfig struct {
	Endpoint         string `yaml:"endpoint"`
	AuthorityKeyPath string `yaml:"authorityKeyPath"`
}

// UnmarshalYAML accepts durations in the "2s"/"500ms" notation, which the
// yaml decoder does not handle for time.Duration on its own.
func (c *SequencerConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Interval        string `yaml:"interval"`
		MaxBatchSize    int    `yaml:"maxBatchSize"`
		QueueCapacity   int    `yaml:"queueCapacity"`
		MaxRetries      int    `yaml:"maxRetries"`
		ShutdownTimeout string `yaml:"shutdownTimeout"`
		JournalPath     string `yaml:"journalPath"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw.Interval != "" {
		interval, err := time.ParseDuration(raw.Interval)
		if err != nil {
			return fmt.Errorf("invalid sequencer interval: %w", err)
		}
		c.Interval = interval
	}
	if raw.ShutdownTimeout != "" {
		timeout, err := time.ParseDuration(raw.ShutdownTimeout)
		if err != nil {
			return fmt.Errorf("invalid sequencer shutdown timeout: %w", err)
		}
		c.ShutdownTimeout = timeout
	}
	c.MaxBatchSize = raw.MaxBatchSize
	c.QueueCapacity = raw.QueueCapacity
	c.MaxRetries = raw.MaxRetries
	c.JournalPath = raw.JournalPath
	return nil
}

func Default() Config {
	return Config{
		Listen:   "0.0.0.0:8899",
		LogLevel: "info",
		Database: DatabaseConfig{
			Backend: "leveldb",
			Path:    "./rollup_db",
		},
		Sequencer: SequencerConfig{
			Interval:        2 * time.Second,
			MaxBatchSize:    100,
			QueueCapacity:   10_000,
			MaxRetries:      5,
			ShutdownTimeout: 10 * time.Second,
			JournalPath:     "./rollup_journal.bin",
		},
	}
}

// Load reads the configuration file at the given path, merges it over the
// defaults, and applies environment overrides. An empty path yields the
// defaults plus overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		var parsed Config
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
		merge(&cfg, parsed)
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

func merge(dst *Config, src Config) {
	if src.Listen != "" {
		dst.Listen = src.Listen
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if src.Database.Backend != "" {
		dst.Database.Backend = src.Database.Backend
	}
	if src.Database.Path != "" {
		dst.Database.Path = src.Database.Path
	}
	if src.Sequencer.Interval != 0 {
		dst.Sequencer.Interval = src.Sequencer.Interval
	}
	if src.Sequencer.MaxBatchSize != 0 {
		dst.Sequencer.MaxBatchSize = src.Sequencer.MaxBatchSize
	}
	if src.Sequencer.QueueCapacity != 0 {
		dst.Sequencer.QueueCapacity = src.Sequencer.QueueCapacity
	}
	if src.Sequencer.MaxRetries != 0 {
		dst.Sequencer.MaxRetries = src.Sequencer.MaxRetries
	}
	if src.Sequencer.ShutdownTimeout != 0 {
		dst.Sequencer.ShutdownTimeout = src.Sequencer.ShutdownTimeout
	}
	if src.Sequencer.JournalPath != "" {
		dst.Sequencer.JournalPath = src.Sequencer.JournalPath
	}
	if src.Settlement.Endpoint != "" {
		dst.Settlement.Endpoint = src.Settlement.Endpoint
	}
	if src.Settlement.AuthorityKeyPath != "" {
		dst.Settlement.AuthorityKeyPath = src.Settlement.AuthorityKeyPath
	}
}

func applyEnvOverrides(cfg *Config) {
	if endpoint := os.Getenv("ROLLUP_SETTLEMENT_ENDPOINT"); endpoint != "" {
		cfg.Settlement.Endpoint = endpoint
	}
	if keyPath := os.Getenv("ROLLUP_AUTHORITY_KEY"); keyPath != "" {
		cfg.Settlement.AuthorityKeyPath = keyPath
	}
}
