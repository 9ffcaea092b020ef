// ABOUTME: Configuration loading and parsing for petchat-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/petchat-gateway/internal/ai"
	"github.com/2389/petchat-gateway/internal/protocol"
	"github.com/2389/petchat-gateway/internal/provider"
	"github.com/2389/petchat-gateway/internal/session"
	"github.com/2389/petchat-gateway/internal/trigger"
)

// EnvConfigPath names the environment variable consulted when no --config flag is given.
const EnvConfigPath = "PETCHAT_CONFIG"

// Config represents the complete petchat-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Triggers  TriggersConfig  `yaml:"triggers" toml:"triggers"`
	AI        AIConfig        `yaml:"ai" toml:"ai"`
	Provider  ProviderConfig  `yaml:"provider" toml:"provider"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds listener addresses and per-connection limits
type ServerConfig struct {
	ListenAddr    string `yaml:"listen_addr" toml:"listen_addr"`
	HTTPAddr      string `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr      string `yaml:"grpc_addr" toml:"grpc_addr"` // optional gRPC health endpoint
	MaxFrameSize  uint32 `yaml:"max_frame_size" toml:"max_frame_size"`
	OutboundQueue int    `yaml:"outbound_queue" toml:"outbound_queue"`

	WriteTimeout     time.Duration `yaml:"-" toml:"-"`
	HandshakeTimeout time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	WriteTimeoutRaw     string `yaml:"write_timeout" toml:"write_timeout"`
	HandshakeTimeoutRaw string `yaml:"handshake_timeout" toml:"handshake_timeout"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	Port      int    `yaml:"port" toml:"port"` // chat port on the tailnet
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// PolicyConfig is one trigger's cadence
type PolicyConfig struct {
	Threshold int `yaml:"threshold" toml:"threshold"`
	Window    int `yaml:"window" toml:"window"`
}

// SuggestionConfig extends the cadence with immediate-fire words
type SuggestionConfig struct {
	PolicyConfig `yaml:",inline"`
	Keywords     []string `yaml:"keywords" toml:"keywords"`
	Command      string   `yaml:"command" toml:"command"`
}

// TriggersConfig holds per-kind trigger cadences
type TriggersConfig struct {
	Emotion     PolicyConfig     `yaml:"emotion" toml:"emotion"`
	Memory      PolicyConfig     `yaml:"memory" toml:"memory"`
	Suggestion  SuggestionConfig `yaml:"suggestion" toml:"suggestion"`
	HistorySize int              `yaml:"history_size" toml:"history_size"`
}

// AIConfig holds worker pool, retry and dedupe settings
type AIConfig struct {
	Workers     int `yaml:"workers" toml:"workers"`
	QueueSize   int `yaml:"queue_size" toml:"queue_size"`
	MaxAttempts int `yaml:"max_attempts" toml:"max_attempts"`

	// EmotionLabels are the moods accepted from score-map emotion replies.
	EmotionLabels []string `yaml:"emotion_labels" toml:"emotion_labels"`

	BackoffBase     time.Duration `yaml:"-" toml:"-"`
	BackoffMax      time.Duration `yaml:"-" toml:"-"`
	TaskDeadline    time.Duration `yaml:"-" toml:"-"`
	MemoryDedupeTTL time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	BackoffBaseRaw     string `yaml:"backoff_base" toml:"backoff_base"`
	BackoffMaxRaw      string `yaml:"backoff_max" toml:"backoff_max"`
	TaskDeadlineRaw    string `yaml:"task_deadline" toml:"task_deadline"`
	MemoryDedupeTTLRaw string `yaml:"memory_dedupe_ttl" toml:"memory_dedupe_ttl"`
}

// ProviderConfig holds the model endpoint settings
type ProviderConfig struct {
	Model       string  `yaml:"model" toml:"model"`
	APIKey      string  `yaml:"api_key" toml:"api_key"`
	BaseURL     string  `yaml:"base_url" toml:"base_url"`
	// Zero keeps each task's own sampling settings.
	Temperature float64 `yaml:"temperature" toml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" toml:"max_tokens"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns a configuration with every field at its stock value.
func Default() *Config {
	tc := trigger.DefaultConfig()
	ac := ai.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			ListenAddr:       "0.0.0.0:8888",
			HTTPAddr:         "127.0.0.1:8080",
			MaxFrameSize:     protocol.DefaultMaxFrameSize,
			OutboundQueue:    session.DefaultQueueSize,
			WriteTimeout:     session.DefaultWriteTimeout,
			HandshakeTimeout: 10 * time.Second,
		},
		Tailscale: TailscaleConfig{
			Hostname: "petchat",
			Port:     8888,
		},
		Database: DatabaseConfig{Path: "./petchat.db"},
		Triggers: TriggersConfig{
			Emotion: PolicyConfig{Threshold: tc.Emotion.Threshold, Window: tc.Emotion.Window},
			Memory:  PolicyConfig{Threshold: tc.Memory.Threshold, Window: tc.Memory.Window},
			Suggestion: SuggestionConfig{
				PolicyConfig: PolicyConfig{Threshold: tc.Suggestion.Threshold, Window: tc.Suggestion.Window},
				Keywords:     tc.Keywords,
				Command:      tc.Command,
			},
			HistorySize: tc.HistorySize,
		},
		AI: AIConfig{
			Workers:         ac.Workers,
			QueueSize:       ac.QueueSize,
			MaxAttempts:     ac.MaxAttempts,
			EmotionLabels:   ac.EmotionLabels,
			BackoffBase:     ac.BackoffBase,
			BackoffMax:      ac.BackoffMax,
			TaskDeadline:    tc.TaskDeadline,
			MemoryDedupeTTL: 24 * time.Hour,
		},
		Provider: ProviderConfig{
			Model:   "gpt-4o-mini",
			Timeout: 60 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
// Fields absent from the file keep their Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// ResolvePath picks the config file: the explicit flag value, then
// $PETCHAT_CONFIG, then $XDG_CONFIG_HOME/petchat/gateway.yaml
// (~/.config when XDG_CONFIG_HOME is unset). Empty means no file was found.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return env
	}

	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		base = filepath.Join(home, ".config")
	}

	path := filepath.Join(base, "petchat", "gateway.yaml")
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// Validate checks that all required configuration fields are present and valid.
// Every failure is reported, joined into one error.
func (c *Config) Validate() error {
	var errs []error

	if !c.Tailscale.Enabled && c.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required (or enable tailscale)"))
	}
	if c.Tailscale.Enabled {
		if c.Tailscale.Hostname == "" {
			errs = append(errs, errors.New("tailscale.hostname is required when tailscale is enabled"))
		}
		if c.Tailscale.Port <= 0 || c.Tailscale.Port > 65535 {
			errs = append(errs, fmt.Errorf("tailscale.port %d out of range", c.Tailscale.Port))
		}
	}
	if c.Server.MaxFrameSize == 0 {
		errs = append(errs, errors.New("server.max_frame_size must be positive"))
	}
	if c.Server.OutboundQueue <= 0 {
		errs = append(errs, errors.New("server.outbound_queue must be positive"))
	}

	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}

	for name, p := range map[string]PolicyConfig{
		"emotion":    c.Triggers.Emotion,
		"memory":     c.Triggers.Memory,
		"suggestion": c.Triggers.Suggestion.PolicyConfig,
	} {
		if p.Threshold <= 0 {
			errs = append(errs, fmt.Errorf("triggers.%s.threshold must be positive", name))
		}
		if p.Window <= 0 {
			errs = append(errs, fmt.Errorf("triggers.%s.window must be positive", name))
		}
	}
	if h := c.Triggers.HistorySize; h < 0 {
		errs = append(errs, errors.New("triggers.history_size must not be negative"))
	} else if w := c.maxTriggerWindow(); h > 0 && h < w {
		errs = append(errs, fmt.Errorf("triggers.history_size %d is smaller than the largest window %d", h, w))
	}

	if c.AI.Workers <= 0 {
		errs = append(errs, errors.New("ai.workers must be positive"))
	}
	if c.AI.QueueSize <= 0 {
		errs = append(errs, errors.New("ai.queue_size must be positive"))
	}
	if c.AI.MaxAttempts <= 0 {
		errs = append(errs, errors.New("ai.max_attempts must be positive"))
	}
	if c.AI.BackoffMax < c.AI.BackoffBase {
		errs = append(errs, errors.New("ai.backoff_max must not be less than ai.backoff_base"))
	}

	if c.Provider.Model == "" {
		errs = append(errs, errors.New("provider.model is required"))
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q must be text or json", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.write_timeout", cfg.Server.WriteTimeoutRaw, &cfg.Server.WriteTimeout},
		{"server.handshake_timeout", cfg.Server.HandshakeTimeoutRaw, &cfg.Server.HandshakeTimeout},
		{"ai.backoff_base", cfg.AI.BackoffBaseRaw, &cfg.AI.BackoffBase},
		{"ai.backoff_max", cfg.AI.BackoffMaxRaw, &cfg.AI.BackoffMax},
		{"ai.task_deadline", cfg.AI.TaskDeadlineRaw, &cfg.AI.TaskDeadline},
		{"ai.memory_dedupe_ttl", cfg.AI.MemoryDedupeTTLRaw, &cfg.AI.MemoryDedupeTTL},
		{"provider.timeout", cfg.Provider.TimeoutRaw, &cfg.Provider.Timeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("parsing %s %q: negative duration", f.name, f.raw)
		}
		*f.dst = d
	}

	return nil
}

// TriggerConfig converts the triggers section for the scheduler.
func (c *Config) TriggerConfig() trigger.Config {
	return trigger.Config{
		Emotion:      trigger.Policy{Threshold: c.Triggers.Emotion.Threshold, Window: c.Triggers.Emotion.Window},
		Memory:       trigger.Policy{Threshold: c.Triggers.Memory.Threshold, Window: c.Triggers.Memory.Window},
		Suggestion:   trigger.Policy{Threshold: c.Triggers.Suggestion.Threshold, Window: c.Triggers.Suggestion.Window},
		Keywords:     c.Triggers.Suggestion.Keywords,
		Command:      c.Triggers.Suggestion.Command,
		HistorySize:  c.Triggers.HistorySize,
		TaskDeadline: c.AI.TaskDeadline,
	}
}

func (c *Config) maxTriggerWindow() int {
	return max(c.Triggers.Emotion.Window, c.Triggers.Memory.Window, c.Triggers.Suggestion.Window)
}

// OrchestratorConfig converts the ai section for the orchestrator.
func (c *Config) OrchestratorConfig() ai.Config {
	return ai.Config{
		Model:         c.Provider.Model,
		Workers:       c.AI.Workers,
		QueueSize:     c.AI.QueueSize,
		MaxAttempts:   c.AI.MaxAttempts,
		BackoffBase:   c.AI.BackoffBase,
		BackoffMax:    c.AI.BackoffMax,
		EmotionLabels: c.AI.EmotionLabels,
	}
}

// ProviderSettings converts the provider section for the adapter.
func (c *Config) ProviderSettings() provider.Config {
	return provider.Config{
		Model:       c.Provider.Model,
		APIKey:      c.Provider.APIKey,
		BaseURL:     c.Provider.BaseURL,
		Timeout:     c.Provider.Timeout,
		Temperature: c.Provider.Temperature,
		MaxTokens:   c.Provider.MaxTokens,
	}
}
