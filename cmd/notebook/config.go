// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds the server configuration. Flags override file values.
type Config struct {
	// Port the HTTP server listens on.
	Port int `yaml:"port" validate:"gte=1,lte=65535"`

	// DataDir is the directory for the notebook store.
	DataDir string `yaml:"data_dir" validate:"required"`

	// CellTimeout bounds a single cell execution.
	CellTimeout time.Duration `yaml:"cell_timeout" validate:"gt=0"`

	// PythonPath overrides interpreter discovery. Empty means look for
	// python3 (then python) on PATH.
	PythonPath string `yaml:"python_path"`

	// LogDir enables JSON file logging alongside stderr. Empty
	// disables file logging. Supports ~ expansion.
	LogDir string `yaml:"log_dir"`

	// Debug enables gin debug mode, request logging, and debug-level
	// log output.
	Debug bool `yaml:"debug"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Port:        8080,
		DataDir:     "./data",
		CellTimeout: 30 * time.Second,
	}
}

// LoadConfig reads a YAML config file over the defaults and validates
// the result. An empty path returns the defaults unchanged.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
