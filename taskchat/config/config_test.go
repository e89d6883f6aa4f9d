package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	internal "github.com/covall/todoist-ai-chat/taskchat"
	ports "github.com/covall/todoist-ai-chat/taskchat/harness/ports"
)

// ConfigTestSuite tests the config package functionality
type ConfigTestSuite struct {
	suite.Suite
	tempDir string
	origDir string
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (suite *ConfigTestSuite) SetupTest() {
	var err error
	suite.origDir, err = os.Getwd()
	require.NoError(suite.T(), err)

	suite.tempDir = suite.T().TempDir()
	require.NoError(suite.T(), os.Chdir(suite.tempDir))

	// Keep the developer's real credentials out of the assertions.
	suite.T().Setenv(internal.EnvGeminiAPIKey, "")
	suite.T().Setenv(internal.EnvTodoistToken, "")
}

func (suite *ConfigTestSuite) TearDownTest() {
	if suite.origDir != "" {
		_ = os.Chdir(suite.origDir)
	}
}

func (suite *ConfigTestSuite) TestLoadConfigWithDefaults() {
	cfg, err := LoadConfig("")

	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), cfg)

	assert.Equal(suite.T(), internal.DefaultModel, cfg.Gemini.Model)
	assert.Equal(suite.T(), 60*time.Second, cfg.Gemini.Timeout)
	assert.Equal(suite.T(), internal.DefaultToolEndpoint, cfg.ToolService.Endpoint)
	assert.Equal(suite.T(), 3, cfg.ToolService.MaxAttempts)
	assert.Equal(suite.T(), 250*time.Millisecond, cfg.ToolService.RetryBackoff)
	assert.Equal(suite.T(), "session", cfg.Harness.PromptPolicy)
	assert.Equal(suite.T(), 1, cfg.Harness.MaxToolRounds)
	assert.Equal(suite.T(), 6*time.Second, cfg.Harness.RateLimitRefillRate)
	assert.True(suite.T(), cfg.Harness.EnableGuardrails)
	assert.Empty(suite.T(), cfg.Harness.AllowedTools)
	assert.False(suite.T(), cfg.Journal.Enabled)
	assert.Equal(suite.T(), internal.DefaultJournalPath, cfg.Journal.Path)
	assert.Equal(suite.T(), "info", cfg.Log.Level)
}

func (suite *ConfigTestSuite) TestLoadConfigWithFile() {
	configContent := `
gemini:
  model: "gemini-2.5-pro"
  temperature: 0.7
toolservice:
  endpoint: "https://mcp.example.test/mcp"
  max_attempts: 5
  retry_backoff: "1s"
harness:
  prompt_policy: "turn"
  max_tool_rounds: 3
  allowed_tools: ["find-tasks", "add-tasks"]
journal:
  enabled: true
  path: "./journal.db"
log:
  level: "debug"
  format: "json"
`
	configFile := filepath.Join(suite.tempDir, "config.yaml")
	require.NoError(suite.T(), os.WriteFile(configFile, []byte(configContent), 0o644))

	cfg, err := LoadConfig(configFile)
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), "gemini-2.5-pro", cfg.Gemini.Model)
	assert.InDelta(suite.T(), 0.7, cfg.Gemini.Temperature, 1e-6)
	assert.Equal(suite.T(), "https://mcp.example.test/mcp", cfg.ToolService.Endpoint)
	assert.Equal(suite.T(), 5, cfg.ToolService.MaxAttempts)
	assert.Equal(suite.T(), time.Second, cfg.ToolService.RetryBackoff)
	assert.Equal(suite.T(), "turn", cfg.Harness.PromptPolicy)
	assert.Equal(suite.T(), 3, cfg.Harness.MaxToolRounds)
	assert.Equal(suite.T(), []string{"find-tasks", "add-tasks"}, cfg.Harness.AllowedTools)
	assert.True(suite.T(), cfg.Journal.Enabled)
	assert.Equal(suite.T(), "json", cfg.Log.Format)

	// Defaults still fill keys the file leaves out.
	assert.Equal(suite.T(), 30*time.Second, cfg.ToolService.ConnectTimeout)
}

func (suite *ConfigTestSuite) TestLoadConfigFromSearchPath() {
	require.NoError(suite.T(), os.WriteFile(filepath.Join(suite.tempDir, "config.yaml"), []byte("gemini:\n  model: from-cwd\n"), 0o644))

	loader := NewLoader("")
	cfg, err := loader.Load()
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), "from-cwd", cfg.Gemini.Model)
	assert.NotEmpty(suite.T(), loader.ConfigFileUsed())
}

func (suite *ConfigTestSuite) TestLoadConfigMissingExplicitFile() {
	_, err := LoadConfig(filepath.Join(suite.tempDir, "missing.yaml"))
	assert.Error(suite.T(), err)
}

func (suite *ConfigTestSuite) TestEnvironmentCredentials() {
	suite.T().Setenv(internal.EnvGeminiAPIKey, "gemini-key")
	suite.T().Setenv(internal.EnvTodoistToken, "todoist-token")
	suite.T().Setenv("HARNESS_MAX_TOOL_ROUNDS", "4")

	cfg, err := LoadConfig("")
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), "gemini-key", cfg.Gemini.APIKey)
	assert.Equal(suite.T(), "todoist-token", cfg.ToolService.Token)
	assert.Equal(suite.T(), 4, cfg.Harness.MaxToolRounds)
	assert.NoError(suite.T(), cfg.Validate())
}

func (suite *ConfigTestSuite) TestValidateMissingCredentials() {
	cfg, err := LoadConfig("")
	require.NoError(suite.T(), err)

	err = cfg.Validate()

	var cfgErr *ports.ConfigurationError
	require.ErrorAs(suite.T(), err, &cfgErr)
	assert.Equal(suite.T(), []string{internal.EnvGeminiAPIKey, internal.EnvTodoistToken}, cfgErr.Missing)

	remedy := Remediation(err)
	assert.Contains(suite.T(), remedy, "GEMINI_API_KEY")
	assert.Contains(suite.T(), remedy, "TODOIST_API_TOKEN")
}

func (suite *ConfigTestSuite) TestValidateRejectsUnknownPromptPolicy() {
	cfg := &Config{
		Gemini:      GeminiConfig{APIKey: "k"},
		ToolService: ToolServiceConfig{Token: "t"},
		Harness:     HarnessConfig{PromptPolicy: "sometimes"},
	}
	assert.Error(suite.T(), cfg.Validate())
}

func (suite *ConfigTestSuite) TestRedacted() {
	cfg := Config{
		Gemini:      GeminiConfig{APIKey: "secret-key"},
		ToolService: ToolServiceConfig{Token: "secret-token"},
	}
	red := cfg.Redacted()

	assert.Equal(suite.T(), "[REDACTED]", red.Gemini.APIKey)
	assert.Equal(suite.T(), "[REDACTED]", red.ToolService.Token)
	assert.Equal(suite.T(), "secret-key", cfg.Gemini.APIKey)
}

func (suite *ConfigTestSuite) TestWatchReportsChanges() {
	configFile := filepath.Join(suite.tempDir, "config.yaml")
	require.NoError(suite.T(), os.WriteFile(configFile, []byte("log:\n  level: info\n"), 0o644))

	loader := NewLoader(configFile)
	_, err := loader.Load()
	require.NoError(suite.T(), err)

	changes := make(chan *Config, 4)
	loader.Watch(func(cfg *Config, err error) {
		if err == nil {
			changes <- cfg
		}
	})

	require.NoError(suite.T(), os.WriteFile(configFile, []byte("log:\n  level: debug\n"), 0o644))

	select {
	case cfg := <-changes:
		assert.Equal(suite.T(), "debug", cfg.Log.Level)
	case <-time.After(5 * time.Second):
		suite.T().Fatal("config change not observed")
	}
}
