package harness

import (
	"context"
	"database/sql"
	"io"

	"github.com/rs/zerolog"

	"github.com/covall/todoist-ai-chat/taskchat/config"
	"github.com/covall/todoist-ai-chat/taskchat/harness/adapters"
	ports "github.com/covall/todoist-ai-chat/taskchat/harness/ports"
)

// Factory creates and wires harness components from configuration.
type Factory struct {
	harnessConfig *config.HarnessConfig
	geminiConfig  *config.GeminiConfig
	db            *sql.DB // Optional, for the tool journal
	logger        zerolog.Logger
}

// NewFactory creates a new harness factory.
func NewFactory(cfg *config.Config, db *sql.DB, logger zerolog.Logger) *Factory {
	return &Factory{
		harnessConfig: &cfg.Harness,
		geminiConfig:  &cfg.Gemini,
		db:            db,
		logger:        logger,
	}
}

// CreateOrchestrator creates a fully wired Orchestrator from config.
func (f *Factory) CreateOrchestrator(provider ports.Provider, catalog ports.ToolCatalog, tools ports.ToolCaller, out io.Writer) (*Orchestrator, error) {
	policy, err := f.CreatePolicy()
	if err != nil {
		return nil, err
	}

	return NewOrchestrator(provider, catalog, tools, NewConversation(), f.logger,
		WithPolicy(policy),
		WithGuardrails(f.CreateGuardrails()),
		WithRateLimiter(f.createRateLimiter()),
		WithTracer(f.createTracer()),
		WithJournal(f.createJournal()),
		WithOutput(out),
	), nil
}

// createRateLimiter creates a rate limiter adapter from config.
func (f *Factory) createRateLimiter() ports.RateLimiter {
	if !f.harnessConfig.RateLimitEnabled {
		return &noOpRateLimiter{}
	}

	return adapters.NewTokenBucket(f.harnessConfig.RateLimitCapacity, f.harnessConfig.RateLimitRefillRate)
}

// createTracer creates a tracer adapter from config.
func (f *Factory) createTracer() ports.Tracer {
	if !f.harnessConfig.EnableTracing {
		return &noOpTracer{}
	}

	return adapters.NewZerologTracer(f.logger)
}

// createJournal creates a tool journal adapter when a database was opened.
func (f *Factory) createJournal() ports.ToolJournal {
	if f.db == nil {
		return &noOpJournal{}
	}

	return adapters.NewLibSQLToolJournal(f.db)
}

// CreateGuardrails creates guardrails from config.
func (f *Factory) CreateGuardrails() *Guardrails {
	guardrails := NewGuardrails(f.logger)

	if f.harnessConfig.EnableGuardrails {
		for _, toolName := range f.harnessConfig.AllowedTools {
			guardrails.AddAllowedTool(toolName)
		}
	}
	if !f.harnessConfig.EnableGuardrails || !f.harnessConfig.ValidateArguments {
		guardrails.DisableArgumentValidation()
	}

	return guardrails
}

// CreatePolicy creates a policy from config with validation.
func (f *Factory) CreatePolicy() (Policy, error) {
	promptPolicy, err := ParsePromptPolicy(f.harnessConfig.PromptPolicy)
	if err != nil {
		return Policy{}, &ports.ConfigurationError{Err: err}
	}

	policy := Policy{
		PromptPolicy:  promptPolicy,
		MaxToolRounds: f.harnessConfig.MaxToolRounds,
		ModelTimeout:  f.geminiConfig.Timeout,
	}

	// Validate and clamp policy values
	if policy.MaxToolRounds < 1 {
		policy.MaxToolRounds = 1
		f.logger.Warn().Int("max_tool_rounds", f.harnessConfig.MaxToolRounds).Msg("MaxToolRounds clamped to minimum of 1")
	}
	if policy.MaxToolRounds > 10 {
		policy.MaxToolRounds = 10
		f.logger.Warn().Int("max_tool_rounds", f.harnessConfig.MaxToolRounds).Msg("MaxToolRounds clamped to maximum of 10")
	}
	if policy.ModelTimeout < 0 {
		policy.ModelTimeout = 0
	}

	return policy, nil
}

// noOpRateLimiter implements RateLimiter interface with no-op behavior.
type noOpRateLimiter struct{}

func (r *noOpRateLimiter) Acquire(ctx context.Context, key string) (release func(), err error) {
	return func() {}, nil
}

// noOpTracer implements Tracer interface with no-op behavior.
type noOpTracer struct{}

func (t *noOpTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	return ctx, func(err error) {}
}

func (t *noOpTracer) Event(ctx context.Context, name string, attrs map[string]any) {}

// noOpJournal implements ToolJournal interface with no-op behavior.
type noOpJournal struct{}

func (j *noOpJournal) Record(ctx context.Context, entry ports.JournalEntry) error { return nil }
func (j *noOpJournal) Close() error                                               { return nil }

// Ensure all no-op types implement their interfaces.
var (
	_ ports.RateLimiter = (*noOpRateLimiter)(nil)
	_ ports.Tracer      = (*noOpTracer)(nil)
	_ ports.ToolJournal = (*noOpJournal)(nil)
)
