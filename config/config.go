// Package config provides configuration types and utilities for the ChatSG
// orchestration core. This file contains the main unified configuration
// entry point and the YAML/env-driven loader.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads the complete configuration from a YAML file, expanding
// `${VAR}` / `${VAR:-default}` / `$VAR` references against the process
// environment (and any `.env`/`.env.local` files) before parsing.
func LoadConfig(filePath string) (*Config, error) {
	if err := LoadEnvFiles(); err != nil {
		return nil, fmt.Errorf("failed to load env files: %w", err)
	}

	raw, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filePath, err)
	}

	cfg, err := LoadConfigFromString(string(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", filePath, err)
	}
	return cfg, nil
}

// LoadConfigFromString loads configuration from a YAML string, after
// environment-variable expansion.
func LoadConfigFromString(yamlContent string) (*Config, error) {
	expanded := expandEnvVars(yamlContent)

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// ============================================================================
// HELPER METHODS
// ============================================================================

// GetAgent returns an agent configuration by name.
func (c *Config) GetAgent(name string) (*AgentConfig, bool) {
	agent, exists := c.Agents[name]
	return &agent, exists
}

// ListAgents returns a list of all agent names.
func (c *Config) ListAgents() []string {
	agents := make([]string, 0, len(c.Agents))
	for name := range c.Agents {
		agents = append(agents, name)
	}
	return agents
}
