package harnessports

import (
	"context"

	"github.com/covall/todoist-ai-chat/taskchat/harness/schema"
)

// FunctionDeclaration is a tool as presented to the model.
type FunctionDeclaration struct {
	Name        string
	Description string
	Parameters  schema.Value // cleaned input schema
}

// SessionConfig seeds a model chat session.
type SessionConfig struct {
	System      string                // system instruction
	Tools       []FunctionDeclaration // function declarations available to the model
	History     []Turn                // prior completed turns, oldest first
	Temperature *float32
}

// Message is one outbound message within a session: either user text or the
// results of the tool calls the model requested last.
type Message struct {
	Text        string
	ToolResults []ToolResult
}

// Usage captures token accounting for telemetry.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Completion is the model's response to one message.
type Completion struct {
	Text      string
	ToolCalls []ToolCall
	Usage     *Usage // optional usage information
}

// Session is a stateful chat with the model. Sessions keep their own history.
type Session interface {
	Send(ctx context.Context, msg Message) (Completion, error)
}

// Provider is the abstraction for model backends.
type Provider interface {
	StartSession(ctx context.Context, cfg SessionConfig) (Session, error)
}
