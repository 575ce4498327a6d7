package main

import (
	"fmt"

	"github.com/jonathan/order-robot/internal/config"
)

// loadConfig reads the optional config file, applies flag overrides and the
// environment, fills defaults and validates the result.
// Flags win over the file, the file wins over the environment.
func loadConfig(path string, override func(*config.Config)) (config.Config, error) {
	var cfg config.Config
	if path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return config.Config{}, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = *loaded
	}

	if override != nil {
		override(&cfg)
	}
	cfg.ApplyEnv()
	cfg = cfg.MergeWithDefaults(config.Defaults())

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
