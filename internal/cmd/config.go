package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/curiohall/curio/internal/rounds"
)

// Config is the YAML application configuration. Connection settings come
// from the environment; game tuning lives here.
type Config struct {
	Game rounds.Config `yaml:"game"`
}

func loadConfig(path string) (*Config, error) {
	config := &Config{Game: rounds.DefaultConfig()}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
