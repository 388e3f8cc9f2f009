// TuneGraph - Interaction Graph Music Recommendation Engine
// Copyright 2026 TuneGraph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunegraph/tunegraph

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/tunegraph/config.yaml",
	"/etc/tunegraph/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "TUNEGRAPH_CONFIG"

// envPrefix namespaces TuneGraph environment variables.
const envPrefix = "TUNEGRAPH_"

// Load builds a Config from layered sources:
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. TUNEGRAPH_* environment variables (highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// TUNEGRAPH_GRAPH_DECAY_HALF_LIFE -> graph.decay_half_life
	// TUNEGRAPH_SERVER_PORT           -> server.port
	envProvider := env.Provider(envPrefix, ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// configSections maps the first env var token to a config section. Tokens
// after the section become a single snake_case key, so section names must
// be single tokens.
var configSections = map[string]string{
	"server":    "server",
	"event":     "event_log", // TUNEGRAPH_EVENT_LOG_* collapses here
	"graph":     "graph",
	"embedding": "embedding",
	"reward":    "reward",
	"rank":      "rank",
	"ingest":    "ingest",
	"scheduler": "scheduler",
	"logging":   "logging",
}

// envTransformFunc maps TUNEGRAPH_SECTION_KEY_NAME to section.key_name.
// Unknown sections are dropped so stray environment variables do not
// pollute the configuration.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	parts := strings.SplitN(key, "_", 2)
	if len(parts) != 2 {
		return ""
	}

	section, ok := configSections[parts[0]]
	if !ok {
		return ""
	}
	rest := parts[1]

	// event_log needs its second token swallowed into the section name
	if section == "event_log" {
		rest = strings.TrimPrefix(rest, "log_")
		if rest == "" {
			return ""
		}
	}

	// graph.action_weights.* is the only nested section
	if section == "graph" && strings.HasPrefix(rest, "action_weights_") {
		return "graph.action_weights." + strings.TrimPrefix(rest, "action_weights_")
	}

	return section + "." + rest
}
