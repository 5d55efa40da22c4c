// Package config provides configuration types and utilities for the ChatSG
// orchestration core. This file contains all configuration types in a
// unified structure, mirroring the options enumerated in the specification.
package config

import (
	"fmt"
	"time"
)

// FallbackStrategy selects how the orchestrator recovers from an agent
// execution failure (spec §4.9).
type FallbackStrategy string

const (
	FallbackSequential FallbackStrategy = "sequential"
	FallbackParallel   FallbackStrategy = "parallel"
	FallbackBestEffort FallbackStrategy = "best-effort"
)

// Config is the complete ChatSG configuration — the single entry point for
// everything the orchestrator, session store, memory adapter, and agent
// registry need at startup.
type Config struct {
	Version     string            `yaml:"version,omitempty"`
	Name        string            `yaml:"name,omitempty"`
	Metadata    map[string]string `yaml:"metadata,omitempty"`

	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Session      SessionConfig      `yaml:"session"`
	Memory       MemoryConfig       `yaml:"memory"`
	Cache        CacheConfig        `yaml:"cache"`
	LLMs         map[string]LLMProviderConfig `yaml:"llms,omitempty"`
	Agents       map[string]AgentConfig       `yaml:"agents,omitempty"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// Validate checks the entire configuration tree.
func (c *Config) Validate() error {
	if err := c.Orchestrator.Validate(); err != nil {
		return fmt.Errorf("orchestrator config: %w", err)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}
	if err := c.Memory.Validate(); err != nil {
		return fmt.Errorf("memory config: %w", err)
	}
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache config: %w", err)
	}
	for name, llm := range c.LLMs {
		if err := llm.Validate(); err != nil {
			return fmt.Errorf("llm '%s': %w", name, err)
		}
	}
	for name, agent := range c.Agents {
		if err := agent.Validate(); err != nil {
			return fmt.Errorf("agent '%s': %w", name, err)
		}
	}
	return nil
}

// SetDefaults fills in every option enumerated in spec.md §6 that the caller
// left zero-valued.
func (c *Config) SetDefaults() {
	c.Orchestrator.SetDefaults()
	c.Session.SetDefaults()
	c.Memory.SetDefaults()
	c.Cache.SetDefaults()
	c.Observability.SetDefaults()
	for name := range c.LLMs {
		llm := c.LLMs[name]
		llm.SetDefaults()
		c.LLMs[name] = llm
	}
	for name := range c.Agents {
		agent := c.Agents[name]
		agent.SetDefaults()
		c.Agents[name] = agent
	}
}

// ============================================================================
// ORCHESTRATOR
// ============================================================================

// OrchestratorConfig holds every option spec.md §6 enumerates for the
// request pipeline.
type OrchestratorConfig struct {
	MaxCachedAgents          int              `yaml:"max_cached_agents"`
	AgentIdleMinutes         int              `yaml:"agent_idle_minutes"`
	RequestTimeoutMs         int              `yaml:"request_timeout_ms"`
	MemoryRecallBudgetMs     int              `yaml:"memory_recall_budget_ms"`
	FallbackStrategy         FallbackStrategy `yaml:"fallback_strategy"`
	EnableStateSharing       bool             `yaml:"enable_state_sharing"`
	CrossSessionMemoryDefault bool            `yaml:"cross_session_memory_default"`
	AgentLockDefault         bool             `yaml:"agent_lock_default"`
	AgentHistoryCap          int              `yaml:"agent_history_cap"`
	RememberQueueCap         int              `yaml:"remember_queue_cap"`
	HandoffTimeoutMs         int              `yaml:"handoff_timeout_ms"`
	ToolTimeoutMs            int              `yaml:"tool_timeout_ms"`
	ShutdownGraceSeconds     int              `yaml:"shutdown_grace_seconds"`
}

func (c *OrchestratorConfig) Validate() error {
	if c.MaxCachedAgents <= 0 {
		return fmt.Errorf("max_cached_agents must be positive")
	}
	switch c.FallbackStrategy {
	case FallbackSequential, FallbackParallel, FallbackBestEffort:
	default:
		return fmt.Errorf("fallback_strategy must be one of sequential|parallel|best-effort, got %q", c.FallbackStrategy)
	}
	if c.AgentHistoryCap <= 0 {
		return fmt.Errorf("agent_history_cap must be positive")
	}
	return nil
}

func (c *OrchestratorConfig) SetDefaults() {
	if c.MaxCachedAgents == 0 {
		c.MaxCachedAgents = 3
	}
	if c.AgentIdleMinutes == 0 {
		c.AgentIdleMinutes = 30
	}
	if c.RequestTimeoutMs == 0 {
		c.RequestTimeoutMs = 30000
	}
	if c.MemoryRecallBudgetMs == 0 {
		c.MemoryRecallBudgetMs = 2000
	}
	if c.FallbackStrategy == "" {
		c.FallbackStrategy = FallbackSequential
	}
	if c.AgentHistoryCap == 0 {
		c.AgentHistoryCap = 50
	}
	if c.RememberQueueCap == 0 {
		c.RememberQueueCap = 256
	}
	if c.HandoffTimeoutMs == 0 {
		c.HandoffTimeoutMs = 5000
	}
	if c.ToolTimeoutMs == 0 {
		c.ToolTimeoutMs = 30000
	}
	if c.ShutdownGraceSeconds == 0 {
		c.ShutdownGraceSeconds = 10
	}
}

func (c OrchestratorConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

func (c OrchestratorConfig) MemoryRecallBudget() time.Duration {
	return time.Duration(c.MemoryRecallBudgetMs) * time.Millisecond
}

func (c OrchestratorConfig) HandoffTimeout() time.Duration {
	return time.Duration(c.HandoffTimeoutMs) * time.Millisecond
}

func (c OrchestratorConfig) ToolTimeout() time.Duration {
	return time.Duration(c.ToolTimeoutMs) * time.Millisecond
}

// ============================================================================
// SESSION STORE
// ============================================================================

// SessionConfig configures the SQL-backed session store (C3).
type SessionConfig struct {
	Driver string `yaml:"driver"` // sqlite, postgres, mysql
	DSN    string `yaml:"dsn"`
}

func (c *SessionConfig) Validate() error {
	switch c.Driver {
	case "sqlite", "sqlite3", "postgres", "mysql":
	default:
		return fmt.Errorf("unsupported session driver %q (supported: sqlite, postgres, mysql)", c.Driver)
	}
	if c.DSN == "" {
		return fmt.Errorf("dsn is required")
	}
	return nil
}

func (c *SessionConfig) SetDefaults() {
	if c.Driver == "" {
		c.Driver = "sqlite"
	}
	if c.DSN == "" && (c.Driver == "sqlite" || c.Driver == "sqlite3") {
		c.DSN = "chatsg.db"
	}
}

// ============================================================================
// MEMORY ADAPTER
// ============================================================================

// MemoryConfig configures the memory adapter backend (C4).
type MemoryConfig struct {
	Backend        string `yaml:"backend"` // chromem, qdrant, noop
	Path           string `yaml:"path"`    // chromem persistence directory
	QdrantAddr     string `yaml:"qdrant_addr"`
	Collection     string `yaml:"collection"`
	RecallTopK     int    `yaml:"recall_top_k"`
	TokenBudget    int    `yaml:"token_budget"`
}

func (c *MemoryConfig) Validate() error {
	switch c.Backend {
	case "chromem", "qdrant", "noop":
	default:
		return fmt.Errorf("unsupported memory backend %q", c.Backend)
	}
	if c.Backend == "qdrant" && c.QdrantAddr == "" {
		return fmt.Errorf("qdrant_addr is required for the qdrant backend")
	}
	return nil
}

func (c *MemoryConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "chromem"
	}
	if c.Path == "" {
		c.Path = "chatsg-memory"
	}
	if c.Collection == "" {
		c.Collection = "chatsg"
	}
	if c.RecallTopK == 0 {
		c.RecallTopK = 5
	}
	if c.TokenBudget == 0 {
		c.TokenBudget = 800
	}
}

// ============================================================================
// LAZY AGENT CACHE
// ============================================================================

// CacheConfig configures the lazy agent cache (C10); it mirrors
// OrchestratorConfig.MaxCachedAgents/AgentIdleMinutes but lives separately so
// the cache package does not depend on the orchestrator config type.
type CacheConfig struct {
	Capacity    int `yaml:"capacity"`
	IdleMinutes int `yaml:"idle_minutes"`
}

func (c *CacheConfig) Validate() error {
	if c.Capacity <= 0 {
		return fmt.Errorf("capacity must be positive")
	}
	return nil
}

func (c *CacheConfig) SetDefaults() {
	if c.Capacity == 0 {
		c.Capacity = 3
	}
	if c.IdleMinutes == 0 {
		c.IdleMinutes = 30
	}
}

func (c CacheConfig) IdleTTL() time.Duration {
	return time.Duration(c.IdleMinutes) * time.Minute
}

// ============================================================================
// LLM PROVIDERS
// ============================================================================

// LLMProviderConfig configures one external LLM adapter instance.
type LLMProviderConfig struct {
	Type        string  `yaml:"type"` // anthropic
	Model       string  `yaml:"model"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

func (c *LLMProviderConfig) Validate() error {
	if c.Type == "" {
		return fmt.Errorf("type is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	return nil
}

func (c *LLMProviderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "anthropic"
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 1024
	}
}

// ============================================================================
// AGENTS
// ============================================================================

// AgentConfig configures one specialized agent (C6).
type AgentConfig struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	LLM         string   `yaml:"llm"`
	Keywords    []string `yaml:"keywords"`
	Features    []string `yaml:"features"`
	SupportsTools        bool `yaml:"supports_tools"`
	SupportsStateSharing bool `yaml:"supports_state_sharing"`
}

func (c *AgentConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.LLM == "" {
		return fmt.Errorf("llm provider reference is required")
	}
	return nil
}

func (c *AgentConfig) SetDefaults() {
	if c.Description == "" {
		c.Description = fmt.Sprintf("%s agent", c.Name)
	}
}

// ============================================================================
// OBSERVABILITY
// ============================================================================

// ObservabilityConfig configures logging and tracing.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName string `yaml:"service_name"`
	MetricsAddr string `yaml:"metrics_addr"`
}

func (c *ObservabilityConfig) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "simple"
	}
	if c.ServiceName == "" {
		c.ServiceName = "chatsg"
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = ":9090"
	}
}
