package model

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ============================================================================
// PROVIDER CONFIGURATION
// ============================================================================

// RateLimitConfig defines proactive rate limiting settings for a provider.
// This throttles requests BEFORE they are sent to avoid hitting provider limits.
type RateLimitConfig struct {
	TPM int `yaml:"tpm"` // Tokens per minute limit (proactive throttling)
	RPM int `yaml:"rpm"` // Requests per minute limit (proactive throttling)
}

// RetryConfig defines reactive error handling settings for a provider.
type RetryConfig struct {
	// RetryOn429 enables automatic retry when receiving 429 (Too Many Requests) errors.
	// By default (false), 429 is treated as a regular error and fails immediately.
	RetryOn429 bool `yaml:"retry_on_429"`
	// MaxRetries is the maximum number of retry attempts for 429 errors. Default: 3
	MaxRetries int `yaml:"max_retries"`
}

type Provider struct {
	Name            string          `yaml:"name"`
	Type            ProviderType    `yaml:"type"`
	Token           string          `yaml:"token"`
	Secret          string          `yaml:"secret"`
	Model           string          `yaml:"model"`
	BaseURL         string          `yaml:"baseUrl"`
	Version         string          `yaml:"version"`          // Azure API version, e.g. 2025-01-01-preview
	ProjectID       string          `yaml:"project_id"`       // Vertex project
	Location        string          `yaml:"location"`         // Vertex/Bedrock region
	CredentialsPath string          `yaml:"credentials_path"` // Vertex credentials file
	AuthType        string          `yaml:"auth_type"`        // For AZURE: "api_key" (default) or "entra_id"
	RateLimits      RateLimitConfig `yaml:"rate_limits"`
	Retry           RetryConfig     `yaml:"retry"`
}

type ProviderType string

const (
	ProviderGroq            ProviderType = "GROQ"
	ProviderGoogle          ProviderType = "GOOGLE"
	ProviderVertex          ProviderType = "VERTEX"
	ProviderAnthropic       ProviderType = "ANTHROPIC"
	ProviderAmazonAnthropic ProviderType = "AMAZON-ANTHROPIC"
	ProviderOpenAI          ProviderType = "OPENAI"
	ProviderAzure           ProviderType = "AZURE"
)

// ============================================================================
// MCP SERVER CONFIGURATION
// ============================================================================

type Server struct {
	Name         string     `yaml:"name"`
	Type         ServerType `yaml:"type"`
	Command      string     `yaml:"command,omitempty"`
	URL          string     `yaml:"url,omitempty"`
	Headers      []string   `yaml:"headers"`
	ServerDelay  string     `yaml:"server_delay,omitempty"`
	ProcessDelay string     `yaml:"process_delay,omitempty"`
}

type ServerType string

const (
	Stdio ServerType = "stdio"
	SSE   ServerType = "sse"
	Http  ServerType = "http"
)

// ============================================================================
// AGENT / PERSONA / JUDGE CONFIGURATION
// ============================================================================

// AgentConfig describes the agent under test: its LLM provider, system
// prompt, and the MCP tool servers it may call.
type AgentConfig struct {
	Name          string        `yaml:"name"`
	Provider      string        `yaml:"provider"`
	Description   string        `yaml:"description,omitempty"` // shown to the judge
	SystemPrompt  string        `yaml:"system_prompt,omitempty"`
	Servers       []AgentServer `yaml:"servers,omitempty"`
	MaxIterations int           `yaml:"max_iterations,omitempty"`
}

type AgentServer struct {
	Name         string   `yaml:"name"`
	AllowedTools []string `yaml:"allowed_tools,omitempty"`
}

// PersonaConfig declares an AI-simulated user. Either the inline fields or a
// File pointing at a PERSONA.md document (YAML frontmatter + prompt body).
type PersonaConfig struct {
	Name         string `yaml:"name"`
	Description  string `yaml:"description,omitempty"`
	Goal         string `yaml:"goal,omitempty"`
	SystemPrompt string `yaml:"system_prompt,omitempty"`
	Provider     string `yaml:"provider,omitempty"` // defaults to judge provider
	File         string `yaml:"file,omitempty"`
}

// JudgeConfig selects the judge LLM and global grading defaults.
type JudgeConfig struct {
	Provider      string  `yaml:"provider"`
	PassThreshold float64 `yaml:"pass_threshold,omitempty"` // default 70
}

// ============================================================================
// EVAL FILE
// ============================================================================

type Settings struct {
	Verbose     bool   `yaml:"verbose"`
	Concurrency int    `yaml:"concurrency"` // max cases in flight, default 1
	CaseDelay   string `yaml:"case_delay,omitempty"`
	MaxTurns    int    `yaml:"max_turns,omitempty"` // default safety bound per case
}

// SuiteCriteria gates the process exit code on an overall pass rate.
type SuiteCriteria struct {
	SuccessRate string `yaml:"success_rate" json:"successRate"`
}

// EvalConfig is the top-level declarative eval file.
type EvalConfig struct {
	Providers []Provider        `yaml:"providers"`
	Servers   []Server          `yaml:"servers,omitempty"`
	Agents    []AgentConfig     `yaml:"agents"`
	Personas  []PersonaConfig   `yaml:"personas,omitempty"`
	Judge     JudgeConfig       `yaml:"judge"`
	Defaults  CaseDefaults      `yaml:"defaults,omitempty"`
	Cases     []Case            `yaml:"cases"`
	Settings  Settings          `yaml:"settings,omitempty"`
	Variables map[string]string `yaml:"variables,omitempty"`
	Criteria  SuiteCriteria     `yaml:"criteria,omitempty"`
}

// CaseDefaults are applied to every case before validation, unless the case
// sets its own value.
type CaseDefaults struct {
	Agent         string                 `yaml:"agent,omitempty"`
	MaxTurns      int                    `yaml:"max_turns,omitempty"`
	GradeScope    GradeScope             `yaml:"grade_scope,omitempty"`
	OnCondition   Outcome                `yaml:"on_condition_met,omitempty"`
	OnMaxTurns    Outcome                `yaml:"on_max_turns,omitempty"`
	EndWhen       []TerminationCondition `yaml:"end_when,omitempty"`
	Criteria      []Criterion            `yaml:"criteria,omitempty"`
	PassThreshold float64                `yaml:"pass_threshold,omitempty"`
}

// ParseEvalConfig reads and unmarshals an eval YAML file.
func ParseEvalConfig(filename string) (*EvalConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return ParseEvalConfigFromString(string(data))
}

// ParseEvalConfigFromString unmarshals an eval definition and applies
// defaults plus per-case validation, so every loaded case is ready to run.
func ParseEvalConfigFromString(definition string) (*EvalConfig, error) {
	var cfg EvalConfig
	if err := yaml.Unmarshal([]byte(definition), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	for i := range cfg.Cases {
		c := &cfg.Cases[i]
		applyCaseDefaults(c, cfg.Defaults)
		if err := c.Validate(); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

func applyCaseDefaults(c *Case, d CaseDefaults) {
	if c.Agent == "" {
		c.Agent = d.Agent
	}
	if c.MaxTurns == 0 {
		c.MaxTurns = d.MaxTurns
	}
	if c.GradeScope == "" {
		c.GradeScope = d.GradeScope
	}
	if c.OnCondition == "" {
		c.OnCondition = d.OnCondition
	}
	if c.OnMaxTurns == "" {
		c.OnMaxTurns = d.OnMaxTurns
	}
	if len(c.EndWhen) == 0 {
		c.EndWhen = cloneConditions(d.EndWhen)
	}
	if len(c.Criteria) == 0 {
		c.Criteria = cloneCriteria(d.Criteria)
	}
	if c.PassThreshold == 0 {
		c.PassThreshold = d.PassThreshold
	}
}

func cloneConditions(conds []TerminationCondition) []TerminationCondition {
	if conds == nil {
		return nil
	}
	out := make([]TerminationCondition, len(conds))
	copy(out, conds)
	return out
}

func cloneCriteria(criteria []Criterion) []Criterion {
	if criteria == nil {
		return nil
	}
	out := make([]Criterion, len(criteria))
	copy(out, criteria)
	return out
}
