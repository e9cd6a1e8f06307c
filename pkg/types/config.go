package types

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the master's startup configuration. All fields are immutable
// once the process is serving.
type Config struct {
	Port        int      `yaml:"port"`
	Volumes     []string `yaml:"volumes"`
	Replicas    int      `yaml:"replicas"`
	Subvolumes  int      `yaml:"subvolumes"`
	Fallback    string   `yaml:"fallback"`
	Protect     bool     `yaml:"protect"` // require UNLINK before DELETE
	DataDir     string   `yaml:"data_dir"`
	MetricsAddr string   `yaml:"metrics_addr"`
}

// LoadConfig reads a YAML config file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for startup errors
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if len(c.Volumes) == 0 {
		return fmt.Errorf("at least one volume is required")
	}
	for _, v := range c.Volumes {
		if v == "" {
			return fmt.Errorf("empty volume in volume list")
		}
	}
	if c.Replicas < 1 {
		return fmt.Errorf("replicas must be at least 1")
	}
	if c.Subvolumes < 1 {
		return fmt.Errorf("subvolumes must be at least 1")
	}
	if len(c.Volumes) < c.Replicas {
		return fmt.Errorf("need at least as many volumes as replicas (%d < %d)", len(c.Volumes), c.Replicas)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data directory is required")
	}
	return nil
}
