package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	internal "github.com/covall/todoist-ai-chat/taskchat"
	ports "github.com/covall/todoist-ai-chat/taskchat/harness/ports"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Gemini      GeminiConfig      `mapstructure:"gemini" yaml:"gemini"`
	ToolService ToolServiceConfig `mapstructure:"toolservice" yaml:"toolservice"`
	Harness     HarnessConfig     `mapstructure:"harness" yaml:"harness"`
	Journal     JournalConfig     `mapstructure:"journal" yaml:"journal"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
}

// GeminiConfig selects the language model.
type GeminiConfig struct {
	APIKey      string        `mapstructure:"api_key" yaml:"api_key"`
	Model       string        `mapstructure:"model" yaml:"model"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"` // per model call, 0 disables
}

// ToolServiceConfig stores the MCP tool service connection details.
type ToolServiceConfig struct {
	Endpoint       string        `mapstructure:"endpoint" yaml:"endpoint"`
	Token          string        `mapstructure:"token" yaml:"token"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	CallTimeout    time.Duration `mapstructure:"call_timeout" yaml:"call_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts" yaml:"max_attempts"`   // per tool call, including the first
	RetryBackoff   time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"` // pause between attempts
}

// HarnessConfig stores orchestration settings.
type HarnessConfig struct {
	// Prompt construction: "session" or "turn"
	PromptPolicy  string `mapstructure:"prompt_policy" yaml:"prompt_policy"`
	MaxToolRounds int    `mapstructure:"max_tool_rounds" yaml:"max_tool_rounds"` // tool round trips per user turn

	// Rate limiting of model calls
	RateLimitEnabled    bool          `mapstructure:"rate_limit_enabled" yaml:"rate_limit_enabled"`
	RateLimitCapacity   int           `mapstructure:"rate_limit_capacity" yaml:"rate_limit_capacity"`
	RateLimitRefillRate time.Duration `mapstructure:"rate_limit_refill_rate" yaml:"rate_limit_refill_rate"`

	// Safety and validation
	EnableGuardrails  bool     `mapstructure:"enable_guardrails" yaml:"enable_guardrails"`
	ValidateArguments bool     `mapstructure:"validate_arguments" yaml:"validate_arguments"` // check args against the tool schema
	AllowedTools      []string `mapstructure:"allowed_tools" yaml:"allowed_tools"`           // empty allows every catalog tool

	// Telemetry
	EnableTracing bool `mapstructure:"enable_tracing" yaml:"enable_tracing"`
}

// JournalConfig controls the on-disk tool-call journal.
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// LogConfig controls zerolog output.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // "console" or "json"
}

// Loader owns a viper instance so reloads and tests do not share global state.
type Loader struct {
	v *viper.Viper
}

// NewLoader prepares a loader for the file at configPath, or for the default
// search paths when configPath is empty.
func NewLoader(configPath string) *Loader {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(internal.DefaultConfigPath)
		v.AddConfigPath(filepath.Join("/etc", internal.DefaultAppName))
		v.SetConfigName(internal.DefaultConfigName)
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.AutomaticEnv()
	// Replace dots with underscores in env var names e.g. toolservice.endpoint becomes TOOLSERVICE_ENDPOINT
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	// The credentials keep the names users already export.
	_ = v.BindEnv("gemini.api_key", internal.EnvGeminiAPIKey)
	_ = v.BindEnv("toolservice.token", internal.EnvTodoistToken)

	return &Loader{v: v}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gemini.model", internal.DefaultModel)
	v.SetDefault("gemini.temperature", 0.2)
	v.SetDefault("gemini.timeout", "60s")

	v.SetDefault("toolservice.endpoint", internal.DefaultToolEndpoint)
	v.SetDefault("toolservice.connect_timeout", "30s")
	v.SetDefault("toolservice.call_timeout", "60s")
	v.SetDefault("toolservice.max_attempts", 3)
	v.SetDefault("toolservice.retry_backoff", "250ms")

	v.SetDefault("harness.prompt_policy", "session")
	v.SetDefault("harness.max_tool_rounds", 1)
	v.SetDefault("harness.rate_limit_enabled", true)
	v.SetDefault("harness.rate_limit_capacity", 10)
	v.SetDefault("harness.rate_limit_refill_rate", "6s")
	v.SetDefault("harness.enable_guardrails", true)
	v.SetDefault("harness.validate_arguments", true)
	v.SetDefault("harness.allowed_tools", []string{}) // Empty means allow all by default
	v.SetDefault("harness.enable_tracing", false)

	v.SetDefault("journal.enabled", false)
	v.SetDefault("journal.path", internal.DefaultJournalPath)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Load reads the config file (if any) and decodes the effective settings.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file; defaults and environment apply.
	}
	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	return &cfg, nil
}

// ConfigFileUsed returns the path of the loaded file, or "".
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Watch calls onChange with the re-decoded config whenever the config file
// changes. Decode failures are passed as err with a nil config.
func (l *Loader) Watch(onChange func(cfg *Config, err error)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		onChange(l.decode())
	})
	l.v.WatchConfig()
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}

// Validate reports missing credentials and out-of-range settings.
func (c *Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Gemini.APIKey) == "" {
		missing = append(missing, internal.EnvGeminiAPIKey)
	}
	if strings.TrimSpace(c.ToolService.Token) == "" {
		missing = append(missing, internal.EnvTodoistToken)
	}
	if len(missing) > 0 {
		return &ports.ConfigurationError{Missing: missing}
	}

	switch strings.ToLower(c.Harness.PromptPolicy) {
	case "", "session", "turn":
	default:
		return &ports.ConfigurationError{Err: fmt.Errorf("harness.prompt_policy must be \"session\" or \"turn\", got %q", c.Harness.PromptPolicy)}
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "console", "json":
	default:
		return &ports.ConfigurationError{Err: fmt.Errorf("log.format must be \"console\" or \"json\", got %q", c.Log.Format)}
	}
	return nil
}

// Remediation explains how to fix a configuration error.
func Remediation(err error) string {
	var cfgErr *ports.ConfigurationError
	if !errors.As(err, &cfgErr) || len(cfgErr.Missing) == 0 {
		return "Check the configuration file and flags."
	}
	var b strings.Builder
	b.WriteString("Set the following environment variables (or the matching config keys):\n")
	for _, name := range cfgErr.Missing {
		switch name {
		case internal.EnvGeminiAPIKey:
			b.WriteString("  export GEMINI_API_KEY=...     # https://aistudio.google.com/app/apikey\n")
		case internal.EnvTodoistToken:
			b.WriteString("  export TODOIST_API_TOKEN=...  # Todoist Settings > Integrations > Developer\n")
		default:
			fmt.Fprintf(&b, "  %s\n", name)
		}
	}
	return b.String()
}

// Redacted returns a copy with secrets masked, for display.
func (c Config) Redacted() Config {
	c.Gemini.APIKey = mask(c.Gemini.APIKey)
	c.ToolService.Token = mask(c.ToolService.Token)
	c.Harness.AllowedTools = append([]string(nil), c.Harness.AllowedTools...)
	return c
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}
