package gemini

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	ports "github.com/covall/todoist-ai-chat/taskchat/harness/ports"
	"github.com/covall/todoist-ai-chat/taskchat/harness/schema"
)

func parse(t *testing.T, raw string) schema.Value {
	t.Helper()
	v, err := schema.Parse([]byte(raw))
	require.NoError(t, err)
	return v
}

func TestToSchemaConvertsNestedObject(t *testing.T) {
	in := parse(t, `{
		"type": "object",
		"required": ["content"],
		"properties": {
			"content": {"type": "string", "description": "Task title", "minLength": 1},
			"priority": {"type": "integer", "enum": [1, 2, 3, 4], "minimum": 1, "maximum": 4},
			"dueDate": {"type": ["string", "null"], "format": "date"},
			"labels": {"type": "array", "items": {"type": "string"}, "maxItems": 10}
		}
	}`)

	got := toSchema(in)

	require.NotNil(t, got)
	assert.Equal(t, genai.TypeObject, got.Type)
	assert.Equal(t, []string{"content"}, got.Required)
	assert.Equal(t, []string{"content", "priority", "dueDate", "labels"}, got.PropertyOrdering)

	content := got.Properties["content"]
	assert.Equal(t, genai.TypeString, content.Type)
	assert.Equal(t, "Task title", content.Description)
	assert.Equal(t, int64(1), *content.MinLength)

	priority := got.Properties["priority"]
	assert.Equal(t, genai.TypeInteger, priority.Type)
	assert.Equal(t, []string{"1", "2", "3", "4"}, priority.Enum)
	assert.Equal(t, 1.0, *priority.Minimum)
	assert.Equal(t, 4.0, *priority.Maximum)

	due := got.Properties["dueDate"]
	assert.Equal(t, genai.TypeString, due.Type)
	assert.Equal(t, "date", due.Format)
	require.NotNil(t, due.Nullable)
	assert.True(t, *due.Nullable)

	labels := got.Properties["labels"]
	assert.Equal(t, genai.TypeArray, labels.Type)
	require.NotNil(t, labels.Items)
	assert.Equal(t, genai.TypeString, labels.Items.Type)
	assert.Equal(t, int64(10), *labels.MaxItems)
}

func TestToToolsOmitsEmptyParameters(t *testing.T) {
	tools := toTools([]ports.FunctionDeclaration{
		{Name: "get-overview", Description: "Account overview", Parameters: parse(t, `{"type":"object"}`)},
		{Name: "find-tasks", Description: "Search", Parameters: parse(t, `{"type":"object","properties":{"q":{"type":"string"}}}`)},
	})

	require.Len(t, tools, 1)
	decls := tools[0].FunctionDeclarations
	require.Len(t, decls, 2)
	assert.Nil(t, decls[0].Parameters)
	require.NotNil(t, decls[1].Parameters)
	assert.Contains(t, decls[1].Parameters.Properties, "q")

	assert.Nil(t, toTools(nil))
}

func TestToPartsForToolResults(t *testing.T) {
	parts := toParts(ports.Message{ToolResults: []ports.ToolResult{
		{CallID: "c1", Name: "find-tasks", Content: schema.Map(schema.F("count", schema.Int(2)))},
		{CallID: "c2", Name: "add-tasks", Err: errors.New("boom")},
	}})

	require.Len(t, parts, 2)
	assert.Equal(t, "find-tasks", parts[0].FunctionResponse.Name)
	assert.Equal(t, "c1", parts[0].FunctionResponse.ID)
	assert.Equal(t, map[string]any{"result": map[string]any{"count": int64(2)}}, parts[0].FunctionResponse.Response)
	assert.Equal(t, map[string]any{"error": "boom"}, parts[1].FunctionResponse.Response)

	text := toParts(ports.Message{Text: "hello"})
	require.Len(t, text, 1)
	assert.Equal(t, "hello", text[0].Text)
}

func TestFromResponse(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: "model", Parts: []*genai.Part{
				{Text: "thinking...", Thought: true},
				{Text: "Let me check. "},
				{FunctionCall: &genai.FunctionCall{ID: "call-1", Name: "find-tasks-by-date", Args: map[string]any{"startDate": "today"}}},
				{FunctionCall: &genai.FunctionCall{Name: "get-overview"}},
			}},
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{PromptTokenCount: 10, CandidatesTokenCount: 4, TotalTokenCount: 14},
	}

	got, err := fromResponse(resp)
	require.NoError(t, err)

	assert.Equal(t, "Let me check. ", got.Text)
	require.Len(t, got.ToolCalls, 2)
	assert.Equal(t, "call-1", got.ToolCalls[0].ID)
	date, _ := got.ToolCalls[0].Args.GetString("startDate")
	assert.Equal(t, "today", date)
	assert.Equal(t, schema.KindMap, got.ToolCalls[1].Args.Kind())
	assert.Equal(t, &ports.Usage{PromptTokens: 10, CompletionTokens: 4, TotalTokens: 14}, got.Usage)
}

func TestFromResponseBlockedPrompt(t *testing.T) {
	_, err := fromResponse(&genai.GenerateContentResponse{
		PromptFeedback: &genai.GenerateContentResponsePromptFeedback{BlockReason: genai.BlockedReasonSafety},
	})
	assert.Error(t, err)

	empty, err := fromResponse(&genai.GenerateContentResponse{})
	require.NoError(t, err)
	assert.Empty(t, empty.Text)
}

type fakeChat struct {
	sent  [][]genai.Part
	reply *genai.GenerateContentResponse
	err   error
}

func (f *fakeChat) SendMessage(_ context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	f.sent = append(f.sent, parts)
	return f.reply, f.err
}

func TestProviderStartSessionSeedsChat(t *testing.T) {
	fc := &fakeChat{reply: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []*genai.Part{{Text: "You have 2 tasks today."}}},
	}}}}

	var (
		gotModel   string
		gotConfig  *genai.GenerateContentConfig
		gotHistory []*genai.Content
	)
	factory := func(_ context.Context, model string, cfg *genai.GenerateContentConfig, history []*genai.Content) (chat, error) {
		gotModel, gotConfig, gotHistory = model, cfg, history
		return fc, nil
	}
	p := newProvider(Config{Model: "gemini-test", Temperature: genai.Ptr[float32](0.2)}, factory, zerolog.Nop())

	sess, err := p.StartSession(context.Background(), ports.SessionConfig{
		System: "You are a task assistant.",
		Tools:  []ports.FunctionDeclaration{{Name: "find-tasks", Parameters: parse(t, `{"type":"object","properties":{"q":{"type":"string"}}}`)}},
		History: []ports.Turn{
			{Role: ports.RoleUser, Content: "hi"},
			{Role: ports.RoleModel, Content: "hello"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "gemini-test", gotModel)
	assert.Equal(t, "You are a task assistant.", gotConfig.SystemInstruction.Parts[0].Text)
	assert.Equal(t, float32(0.2), *gotConfig.Temperature)
	require.Len(t, gotConfig.Tools, 1)
	require.Len(t, gotHistory, 2)
	assert.Equal(t, "user", gotHistory[0].Role)
	assert.Equal(t, "model", gotHistory[1].Role)

	out, err := sess.Send(context.Background(), ports.Message{Text: "what is due today?"})
	require.NoError(t, err)
	assert.Equal(t, "You have 2 tasks today.", out.Text)
	require.Len(t, fc.sent, 1)
	assert.Equal(t, "what is due today?", fc.sent[0][0].Text)
}

func TestProviderSendPropagatesError(t *testing.T) {
	fc := &fakeChat{err: errors.New("quota exceeded")}
	p := newProvider(Config{}, func(context.Context, string, *genai.GenerateContentConfig, []*genai.Content) (chat, error) {
		return fc, nil
	}, zerolog.Nop())

	sess, err := p.StartSession(context.Background(), ports.SessionConfig{})
	require.NoError(t, err)

	_, err = sess.Send(context.Background(), ports.Message{Text: "hi"})
	assert.EqualError(t, err, "quota exceeded")
}

func TestNewProviderRequiresAPIKey(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{}, zerolog.Nop())
	var cfgErr *ports.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}
