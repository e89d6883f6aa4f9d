package toolservice

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	ports "github.com/covall/todoist-ai-chat/taskchat/harness/ports"
	"github.com/covall/todoist-ai-chat/taskchat/harness/schema"
)

// decodeResult turns a tools/call result into a structured value. Text items
// holding JSON are decoded; a single item is unwrapped. A result flagged as an
// error becomes a ToolInvocationError.
func decodeResult(tool string, res *mcp.CallToolResult) (schema.Value, error) {
	if res == nil {
		return schema.Null(), nil
	}

	if res.IsError {
		msg := strings.TrimSpace(joinText(res.Content))
		if msg == "" {
			msg = "tool reported an error"
		}
		return schema.Null(), &ports.ToolInvocationError{Tool: tool, Attempts: 1, Err: errors.New(msg)}
	}

	if res.StructuredContent != nil {
		v, err := schema.FromAny(res.StructuredContent)
		if err != nil {
			return schema.Null(), fmt.Errorf("decode structured content of %q: %w", tool, err)
		}
		return v, nil
	}

	items := make([]schema.Value, 0, len(res.Content))
	for _, c := range res.Content {
		item, err := decodeContent(c)
		if err != nil {
			return schema.Null(), fmt.Errorf("decode content of %q: %w", tool, err)
		}
		items = append(items, item)
	}

	switch len(items) {
	case 0:
		return schema.Null(), nil
	case 1:
		return items[0], nil
	default:
		return schema.List(items...), nil
	}
}

func decodeContent(c mcp.Content) (schema.Value, error) {
	if text, ok := c.(*mcp.TextContent); ok {
		trimmed := strings.TrimSpace(text.Text)
		if json.Valid([]byte(trimmed)) && trimmed != "" {
			if v, err := schema.Parse([]byte(trimmed)); err == nil {
				return v, nil
			}
		}
		return schema.String(text.Text), nil
	}
	// Non-text content keeps its wire form.
	return schema.FromAny(c)
}

func joinText(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		if text, ok := c.(*mcp.TextContent); ok && text.Text != "" {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n")
}
