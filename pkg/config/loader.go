// SPDX-FileCopyrightText: Copyright 2026 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/stacklok/dvmcp/pkg/env"
)

// YAMLLoader loads bridge configuration from a YAML file and resolves
// environment variable references.
type YAMLLoader struct {
	path      string
	envReader env.Reader
}

// NewYAMLLoader creates a loader for the given file path using the OS
// environment.
func NewYAMLLoader(path string) *YAMLLoader {
	return NewYAMLLoaderWithEnv(path, &env.OSReader{})
}

// NewYAMLLoaderWithEnv creates a loader with a custom environment reader.
// This allows for dependency injection of environment variable access for
// testing.
func NewYAMLLoaderWithEnv(path string, envReader env.Reader) *YAMLLoader {
	return &YAMLLoader{path: path, envReader: envReader}
}

// Load reads, unmarshals, and defaults the configuration. Secret references
// (private_key_env) are resolved; the result is ready for validation.
func (l *YAMLLoader) Load() (*Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", l.path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", l.path, err)
	}

	ApplyDefaults(&cfg)

	if cfg.Nostr.PrivateKeyEnv != "" {
		cfg.Nostr.PrivateKey = l.envReader.Getenv(cfg.Nostr.PrivateKeyEnv)
	}

	return &cfg, nil
}
