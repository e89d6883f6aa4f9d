// Package taskchat holds process-wide defaults shared by the taskchat packages.
package taskchat

import (
	"os"
	"path/filepath"
)

const (
	DefaultAppName       = "taskchat"
	DefaultClientVersion = "0.3.0"

	// DefaultToolEndpoint is the hosted MCP endpoint of the task backend.
	DefaultToolEndpoint = "https://ai.todoist.net/mcp"
	DefaultModel        = "gemini-2.0-flash"

	EnvGeminiAPIKey   = "GEMINI_API_KEY"
	EnvTodoistToken   = "TODOIST_API_TOKEN"
	DefaultConfigName = "config"
)

var (
	DefaultConfigPath  = filepath.Join(userDir(os.UserConfigDir), DefaultAppName)
	DefaultDataDir     = filepath.Join(userDir(os.UserCacheDir), DefaultAppName)
	DefaultJournalPath = filepath.Join(DefaultDataDir, "journal.db")
)

func userDir(lookup func() (string, error)) string {
	dir, err := lookup()
	if err != nil || dir == "" {
		return os.TempDir()
	}
	return dir
}
