package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults if necessary
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.StateDir == "" {
		cfg.StateDir = "state"
	}
	if cfg.Source.Name == "" {
		cfg.Source.Name = "source"
	}
	if cfg.Source.Timeout == 0 {
		cfg.Source.Timeout = 30 * time.Second
	}

	for i := range cfg.Tasks {
		if cfg.Tasks[i].MaxAttempts == 0 {
			cfg.Tasks[i].MaxAttempts = 3
		}
		if cfg.Tasks[i].CheckpointEvery == 0 {
			cfg.Tasks[i].CheckpointEvery = 10
		}
	}

	return &cfg, nil
}
