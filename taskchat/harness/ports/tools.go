package harnessports

import (
	"context"

	"github.com/covall/todoist-ai-chat/taskchat/harness/schema"
)

// ToolDescriptor describes a callable tool advertised by the tool service.
type ToolDescriptor struct {
	Name        string       // unique logical name
	Description string       // concise doc for model selection
	InputSchema schema.Value // JSON schema for args, as advertised
}

// ToolCall represents a model-invoked function with structured arguments.
type ToolCall struct {
	ID   string // provider call id, may be empty
	Name string
	Args schema.Value
}

// ToolResult is the outcome of one tool call, relayed back to the model.
type ToolResult struct {
	CallID  string
	Name    string
	Content schema.Value
	Err     error
}

// Response renders the result as the object relayed to the model.
func (r ToolResult) Response() map[string]any {
	if r.Err != nil {
		return map[string]any{"error": r.Err.Error()}
	}
	return map[string]any{"result": r.Content.Any()}
}

// ToolCaller executes tool calls against the tool service.
type ToolCaller interface {
	CallWithRetry(ctx context.Context, name string, args schema.Value) (schema.Value, error)
}

// ToolCatalog exposes the tools of the current connection.
type ToolCatalog interface {
	Tools() []ToolDescriptor
}

// CatalogConnector is implemented by catalogs that can restore their
// connection. Connect is a no-op when already connected.
type CatalogConnector interface {
	Connect(ctx context.Context) error
}
