package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config captures the runtime settings for the liquidation service daemon.
type Config struct {
	ListenAddress string    `yaml:"listen"`
	Environment   string    `yaml:"env"`
	ProtocolPath  string    `yaml:"protocol"`
	Log           LogConfig `yaml:"log"`
}

// LogConfig controls structured log output.
type LogConfig struct {
	Level      string `yaml:"level"`
	FilePath   string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddress: ":8443",
		Environment:   "dev",
	}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8443"
	}
	cfg.Environment = strings.TrimSpace(cfg.Environment)
	if cfg.Environment == "" {
		cfg.Environment = "dev"
	}
	cfg.ProtocolPath = strings.TrimSpace(cfg.ProtocolPath)
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Log.FilePath = strings.TrimSpace(cfg.Log.FilePath)
	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = 64
	}
	if cfg.Log.MaxBackups <= 0 {
		cfg.Log.MaxBackups = 4
	}
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if cfg.ProtocolPath == "" {
		return fmt.Errorf("protocol config path is required")
	}
	switch cfg.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log: unknown level %q", cfg.Log.Level)
	}
	return nil
}
