package harnessports

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/covall/todoist-ai-chat/taskchat/harness/schema"
)

func TestErrorsUnwrap(t *testing.T) {
	conn := &ConnectionError{Op: "connect", Endpoint: "https://example.test/mcp", Err: io.EOF}
	assert.ErrorIs(t, conn, io.EOF)
	assert.Equal(t, "connect https://example.test/mcp: EOF", conn.Error())

	inv := &ToolInvocationError{Tool: "find-tasks", Attempts: 3, Err: conn}
	assert.Equal(t, `tool "find-tasks" failed after 3 attempts: connect https://example.test/mcp: EOF`, inv.Error())
	var target *ConnectionError
	assert.True(t, errors.As(inv, &target))

	model := &ModelCommunicationError{Op: "send", Err: errors.New("quota")}
	assert.Equal(t, "model send: quota", model.Error())

	cfg := &ConfigurationError{Missing: []string{"GEMINI_API_KEY", "TODOIST_API_TOKEN"}}
	assert.Contains(t, cfg.Error(), "GEMINI_API_KEY, TODOIST_API_TOKEN")
}

func TestToolResultResponse(t *testing.T) {
	ok := ToolResult{Name: "find-tasks", Content: schema.Map(schema.F("tasks", schema.List(schema.String("a"))))}
	assert.Equal(t, map[string]any{"result": map[string]any{"tasks": []any{"a"}}}, ok.Response())

	failed := ToolResult{Name: "find-tasks", Err: errors.New("boom")}
	assert.Equal(t, map[string]any{"error": "boom"}, failed.Response())
}
