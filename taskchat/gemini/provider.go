// Package gemini implements the harness Provider port on Google's Gemini API.
package gemini

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/covall/todoist-ai-chat/taskchat"
	ports "github.com/covall/todoist-ai-chat/taskchat/harness/ports"
)

// Config selects the model and credentials.
type Config struct {
	APIKey      string
	Model       string
	Temperature *float32
}

// chat is the subset of *genai.Chat the provider uses.
type chat interface {
	SendMessage(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

type chatFactory func(ctx context.Context, model string, cfg *genai.GenerateContentConfig, history []*genai.Content) (chat, error)

// Provider starts Gemini chat sessions.
type Provider struct {
	model       string
	temperature *float32
	newChat     chatFactory
	logger      zerolog.Logger
}

// NewProvider creates a Gemini API client.
func NewProvider(ctx context.Context, cfg Config, logger zerolog.Logger) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, &ports.ConfigurationError{Missing: []string{taskchat.EnvGeminiAPIKey}}
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	factory := func(ctx context.Context, model string, gc *genai.GenerateContentConfig, history []*genai.Content) (chat, error) {
		return client.Chats.Create(ctx, model, gc, history)
	}
	return newProvider(cfg, factory, logger), nil
}

func newProvider(cfg Config, factory chatFactory, logger zerolog.Logger) *Provider {
	model := cfg.Model
	if model == "" {
		model = taskchat.DefaultModel
	}
	return &Provider{
		model:       model,
		temperature: cfg.Temperature,
		newChat:     factory,
		logger:      logger.With().Str("component", "gemini").Str("model", model).Logger(),
	}
}

// StartSession opens a chat seeded with the system instruction, tools and history.
func (p *Provider) StartSession(ctx context.Context, cfg ports.SessionConfig) (ports.Session, error) {
	gc := &genai.GenerateContentConfig{
		Tools:       toTools(cfg.Tools),
		Temperature: p.temperature,
	}
	if cfg.Temperature != nil {
		gc.Temperature = cfg.Temperature
	}
	if cfg.System != "" {
		gc.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: cfg.System}}}
	}

	c, err := p.newChat(ctx, p.model, gc, toHistory(cfg.History))
	if err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	p.logger.Debug().
		Int("tool_count", len(cfg.Tools)).
		Int("history_turns", len(cfg.History)).
		Msg("Started model session")
	return &session{chat: c, logger: p.logger}, nil
}

type session struct {
	chat   chat
	logger zerolog.Logger
}

// Send delivers one message and parses the reply.
func (s *session) Send(ctx context.Context, msg ports.Message) (ports.Completion, error) {
	resp, err := s.chat.SendMessage(ctx, toParts(msg)...)
	if err != nil {
		return ports.Completion{}, err
	}
	out, err := fromResponse(resp)
	if err != nil {
		return ports.Completion{}, err
	}
	if out.Usage != nil {
		s.logger.Debug().
			Int("prompt_tokens", out.Usage.PromptTokens).
			Int("completion_tokens", out.Usage.CompletionTokens).
			Int("tool_calls", len(out.ToolCalls)).
			Msg("Model responded")
	}
	return out, nil
}

// Ensure Provider implements the Provider port.
var _ ports.Provider = (*Provider)(nil)
