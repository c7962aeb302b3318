package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the main triad configuration
type Config struct {
	// Main agent backend (worker, manager, QA)
	Backend BackendConfig `json:"backend" mapstructure:"backend"`

	// Auxiliary structured-decision backend
	Decision DecisionConfig `json:"decision" mapstructure:"decision"`

	// Session and step bounds
	Loop LoopConfig `json:"loop" mapstructure:"loop"`

	// Image retention
	History HistoryConfig `json:"history" mapstructure:"history"`

	// External knowledge source
	Knowledge KnowledgeConfig `json:"knowledge" mapstructure:"knowledge"`

	// Resume support
	Checkpoint CheckpointConfig `json:"checkpoint" mapstructure:"checkpoint"`

	// Local tools
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`

	// Browser/computer tool
	Browser BrowserConfig `json:"browser" mapstructure:"browser"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Metrics and tracing
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// Lifecycle scripts
	Hooks HooksConfig `json:"hooks" mapstructure:"hooks"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// BackendConfig holds the Anthropic backend settings
type BackendConfig struct {
	APIKey         string `json:"api_key" mapstructure:"api_key"`
	BaseURL        string `json:"base_url" mapstructure:"base_url"`
	Model          string `json:"model" mapstructure:"model"`
	MaxTokens      int    `json:"max_tokens" mapstructure:"max_tokens"`
	PlanMaxTokens  int    `json:"plan_max_tokens" mapstructure:"plan_max_tokens"`
	MaxRetries     int    `json:"max_retries" mapstructure:"max_retries"`
	RequestTimeout int    `json:"request_timeout" mapstructure:"request_timeout"` // seconds
}

// DecisionConfig holds the lightweight decision backend settings
type DecisionConfig struct {
	Provider  string `json:"provider" mapstructure:"provider"` // openai, anthropic
	APIKey    string `json:"api_key" mapstructure:"api_key"`
	BaseURL   string `json:"base_url" mapstructure:"base_url"`
	Model     string `json:"model" mapstructure:"model"`
	MaxTokens int    `json:"max_tokens" mapstructure:"max_tokens"`
}

// LoopConfig bounds the orchestration loop
type LoopConfig struct {
	MaxSessions        int    `json:"max_sessions" mapstructure:"max_sessions"`
	MaxSteps           int    `json:"max_steps" mapstructure:"max_steps"`                 // 0 picks a default from the tool set
	MalformedVerdict   string `json:"malformed_verdict" mapstructure:"malformed_verdict"` // abort, incomplete
	ReplanEverySession bool   `json:"replan_every_session" mapstructure:"replan_every_session"`
}

// HistoryConfig holds image retention settings
type HistoryConfig struct {
	ImagesToKeep int `json:"images_to_keep" mapstructure:"images_to_keep"` // -1 disables pruning
	ImageChunk   int `json:"image_chunk" mapstructure:"image_chunk"`       // 0 uses the default of 10
}

// KnowledgeConfig holds knowledge source settings
type KnowledgeConfig struct {
	Enabled        bool   `json:"enabled" mapstructure:"enabled"`
	URL            string `json:"url" mapstructure:"url"`
	Token          string `json:"token" mapstructure:"token"`
	FollowUpBudget int    `json:"follow_up_budget" mapstructure:"follow_up_budget"`
	ReplyTimeout   int    `json:"reply_timeout" mapstructure:"reply_timeout"` // seconds
	StorePath      string `json:"store_path" mapstructure:"store_path"`
}

// CheckpointConfig holds checkpoint settings
type CheckpointConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Path    string `json:"path" mapstructure:"path"`
}

// ToolsConfig holds local tool settings
type ToolsConfig struct {
	Bash    bool   `json:"bash" mapstructure:"bash"`
	Editor  bool   `json:"editor" mapstructure:"editor"`
	WorkDir string `json:"work_dir" mapstructure:"work_dir"`
	Timeout int    `json:"timeout" mapstructure:"timeout"` // seconds
}

// BrowserConfig holds browser tool settings
type BrowserConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Headless bool   `json:"headless" mapstructure:"headless"`
	BinPath  string `json:"bin_path" mapstructure:"bin_path"`
	Width    int    `json:"width" mapstructure:"width"`
	Height   int    `json:"height" mapstructure:"height"`
	StartURL string `json:"start_url" mapstructure:"start_url"`

	AllowLocalhost bool     `json:"allow_localhost" mapstructure:"allow_localhost"`
	AllowedDomains []string `json:"allowed_domains,omitempty" mapstructure:"allowed_domains"`
	BlockedDomains []string `json:"blocked_domains,omitempty" mapstructure:"blocked_domains"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	AuditFile string `json:"audit_file" mapstructure:"audit_file"` // JSON lines trail of agent actions
}

// MetricsConfig holds metrics and tracing configuration
type MetricsConfig struct {
	Addr    string `json:"addr" mapstructure:"addr"`
	Tracing bool   `json:"tracing" mapstructure:"tracing"`
}

// HooksConfig holds lifecycle script settings
type HooksConfig struct {
	Enabled bool         `json:"enabled" mapstructure:"enabled"`
	Scripts []HookConfig `json:"scripts,omitempty" mapstructure:"scripts"`
}

// HookConfig is a single lifecycle script
type HookConfig struct {
	ID      string `json:"id" mapstructure:"id"`
	Event   string `json:"event" mapstructure:"event"` // a run state or "report"
	Script  string `json:"script" mapstructure:"script"`
	Timeout int    `json:"timeout" mapstructure:"timeout"` // seconds
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
}

const (
	MalformedAbort      = "abort"
	MalformedIncomplete = "incomplete"
)

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			Model:          "claude-sonnet-4-20250514",
			MaxTokens:      4096,
			PlanMaxTokens:  1024,
			MaxRetries:     2,
			RequestTimeout: 300,
		},
		Decision: DecisionConfig{
			Provider:  "openai",
			Model:     "gpt-4o-mini",
			MaxTokens: 512,
		},
		Loop: LoopConfig{
			MaxSessions:      10,
			MaxSteps:         0,
			MalformedVerdict: MalformedAbort,
		},
		History: HistoryConfig{
			ImagesToKeep: 10,
			ImageChunk:   10,
		},
		Knowledge: KnowledgeConfig{
			FollowUpBudget: 3,
			ReplyTimeout:   60,
		},
		Checkpoint: CheckpointConfig{
			Enabled: true,
			Path:    "checkpoints/messages.json",
		},
		Tools: ToolsConfig{
			Bash:    true,
			Editor:  true,
			Timeout: 120,
		},
		Browser: BrowserConfig{
			Enabled:  false,
			Headless: true,
			Width:    1280,
			Height:   800,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Pretty:    true,
			Redaction: true,
		},
	}
}

// StepsPerSession returns the configured step bound, or the default for the
// enabled tool set when unset.
func (c *Config) StepsPerSession() int {
	if c.Loop.MaxSteps > 0 {
		return c.Loop.MaxSteps
	}
	if c.Browser.Enabled {
		return 8
	}
	return 5
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := *c
	masked.Backend.APIKey = mask(c.Backend.APIKey)
	masked.Decision.APIKey = mask(c.Decision.APIKey)
	masked.Knowledge.Token = mask(c.Knowledge.Token)
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "***"
}

// ConfigurationError reports an invalid configuration value.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Validate checks that the configuration can drive a run. It returns the
// first problem found as a *ConfigurationError.
func (c *Config) Validate() error {
	v := NewValidator()

	if err := v.ValidateAPIKey(c.Backend.APIKey, "anthropic"); err != nil {
		return invalid("backend.api_key", "%v", err)
	}
	if c.Backend.Model == "" {
		return invalid("backend.model", "model is required")
	}
	if err := v.ValidateMaxTokens(c.Backend.MaxTokens); err != nil {
		return invalid("backend.max_tokens", "%v", err)
	}
	if err := v.ValidateMaxTokens(c.Backend.PlanMaxTokens); err != nil {
		return invalid("backend.plan_max_tokens", "%v", err)
	}
	if c.Backend.MaxRetries < 0 {
		return invalid("backend.max_retries", "must be >= 0")
	}

	if c.Loop.MaxSessions <= 0 {
		return invalid("loop.max_sessions", "must be positive, got %d", c.Loop.MaxSessions)
	}
	if c.Loop.MaxSteps < 0 {
		return invalid("loop.max_steps", "must be >= 0, got %d", c.Loop.MaxSteps)
	}
	if c.Loop.MalformedVerdict != MalformedAbort && c.Loop.MalformedVerdict != MalformedIncomplete {
		return invalid("loop.malformed_verdict", "must be %q or %q, got %q", MalformedAbort, MalformedIncomplete, c.Loop.MalformedVerdict)
	}

	if c.History.ImagesToKeep < -1 {
		return invalid("history.images_to_keep", "must be >= -1, got %d", c.History.ImagesToKeep)
	}
	if c.History.ImageChunk < 0 {
		return invalid("history.image_chunk", "must be >= 0, got %d", c.History.ImageChunk)
	}

	if c.Knowledge.Enabled {
		if err := v.ValidateURL(c.Knowledge.URL, "ws", "wss", "http", "https"); err != nil {
			return invalid("knowledge.url", "%v", err)
		}
		if c.Knowledge.FollowUpBudget <= 0 {
			return invalid("knowledge.follow_up_budget", "must be positive, got %d", c.Knowledge.FollowUpBudget)
		}
		if err := v.ValidateProvider(c.Decision.Provider); err != nil {
			return invalid("decision.provider", "%v", err)
		}
		key := c.Decision.APIKey
		if c.Decision.Provider == "anthropic" && key == "" {
			key = c.Backend.APIKey
		}
		if err := v.ValidateAPIKey(key, c.Decision.Provider); err != nil {
			return invalid("decision.api_key", "%v", err)
		}
	}

	if c.Checkpoint.Enabled && c.Checkpoint.Path == "" {
		return invalid("checkpoint.path", "path is required when checkpoints are enabled")
	}

	if c.Browser.Enabled && (c.Browser.Width <= 0 || c.Browser.Height <= 0) {
		return invalid("browser", "viewport must be positive, got %dx%d", c.Browser.Width, c.Browser.Height)
	}

	if c.Hooks.Enabled {
		for i, h := range c.Hooks.Scripts {
			if h.Enabled && (h.Event == "" || h.Script == "") {
				return invalid(fmt.Sprintf("hooks.scripts[%d]", i), "event and script are required")
			}
		}
	}

	if err := v.ValidateLogLevel(c.Logging.Level); err != nil {
		return invalid("logging.level", "%v", err)
	}

	return nil
}
