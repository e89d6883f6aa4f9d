package harness

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"

	ports "github.com/covall/todoist-ai-chat/taskchat/harness/ports"
	"github.com/covall/todoist-ai-chat/taskchat/harness/schema"
)

// EmptyResponseNotice is shown when the model answers with no text.
const EmptyResponseNotice = "[no response] The assistant returned an empty reply. Try rephrasing your request."

// Policy controls orchestration behavior.
type Policy struct {
	PromptPolicy  PromptPolicy  // how often the system instruction is rebuilt
	MaxToolRounds int           // tool round trips per user turn
	ModelTimeout  time.Duration // per model call, 0 disables
}

// DefaultPolicy returns sensible defaults.
func DefaultPolicy() Policy {
	return Policy{
		PromptPolicy:  PromptPerSession,
		MaxToolRounds: 1,
		ModelTimeout:  60 * time.Second,
	}
}

// Orchestrator runs one user turn at a time through the model and the tool
// service, and owns the conversation state and the cached model session.
type Orchestrator struct {
	provider ports.Provider
	catalog  ports.ToolCatalog
	tools    ports.ToolCaller
	conv     *Conversation

	builder *PromptBuilder
	guard   *Guardrails
	limiter ports.RateLimiter
	tracer  ports.Tracer
	journal ports.ToolJournal
	policy  Policy
	out     io.Writer
	logger  zerolog.Logger

	busy atomic.Bool

	// Guarded by busy.
	session            ports.Session
	sessionFingerprint string
	conversationID     string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithPolicy(p Policy) Option                 { return func(o *Orchestrator) { o.policy = p } }
func WithPromptBuilder(b *PromptBuilder) Option  { return func(o *Orchestrator) { o.builder = b } }
func WithGuardrails(g *Guardrails) Option        { return func(o *Orchestrator) { o.guard = g } }
func WithRateLimiter(l ports.RateLimiter) Option { return func(o *Orchestrator) { o.limiter = l } }
func WithTracer(t ports.Tracer) Option           { return func(o *Orchestrator) { o.tracer = t } }
func WithJournal(j ports.ToolJournal) Option     { return func(o *Orchestrator) { o.journal = j } }
func WithOutput(w io.Writer) Option              { return func(o *Orchestrator) { o.out = w } }

// NewOrchestrator creates an orchestrator with dependencies.
func NewOrchestrator(
	provider ports.Provider,
	catalog ports.ToolCatalog,
	tools ports.ToolCaller,
	conv *Conversation,
	logger zerolog.Logger,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		provider:       provider,
		catalog:        catalog,
		tools:          tools,
		conv:           conv,
		builder:        NewPromptBuilder(),
		guard:          NewGuardrails(logger),
		limiter:        &noOpRateLimiter{},
		tracer:         &noOpTracer{},
		journal:        &noOpJournal{},
		policy:         DefaultPolicy(),
		out:            os.Stdout,
		logger:         logger.With().Str("component", "orchestrator").Logger(),
		conversationID: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.conv == nil {
		o.conv = NewConversation()
	}
	if o.policy.MaxToolRounds < 1 {
		o.policy.MaxToolRounds = 1
	}
	if o.policy.PromptPolicy == "" {
		o.policy.PromptPolicy = PromptPerSession
	}
	return o
}

// HandleUserTurn processes one line of user input to completion, writing the
// reply (or an error notice) to the output. It returns ErrBusy if another turn
// is in flight; every other failure is contained, logged and reported.
func (o *Orchestrator) HandleUserTurn(ctx context.Context, text string) error {
	if !o.busy.CompareAndSwap(false, true) {
		return ports.ErrBusy
	}
	defer o.busy.Store(false)

	turnID := uuid.NewString()
	logger := o.logger.With().Str("turn_id", turnID).Str("conversation_id", o.conversationID).Logger()
	ctx, finish := o.tracer.StartSpan(ctx, "turn", map[string]any{
		"turn_id":         turnID,
		"conversation_id": o.conversationID,
	})

	var (
		reply string
		err   error
		pc    panics.Catcher
	)
	pc.Try(func() { reply, err = o.runTurn(ctx, text, logger) })
	if r := pc.Recovered(); r != nil {
		o.dropSession()
		err = &ports.ModelCommunicationError{Op: "turn", Err: r.AsError()}
	}
	finish(err)

	if err != nil {
		logger.Error().Err(err).Msg("Turn failed")
		fmt.Fprintf(o.out, "Error: %v\n", err)
		return nil
	}

	if strings.TrimSpace(reply) == "" {
		// No answer: keep history and model context consistent by not recording the exchange.
		logger.Warn().Msg("Model returned an empty response")
		o.dropSession()
		fmt.Fprintln(o.out, EmptyResponseNotice)
		return nil
	}

	now := time.Now()
	o.conv.Append(ports.Turn{Role: ports.RoleUser, Content: text, CreatedAt: now})
	o.conv.Append(ports.Turn{Role: ports.RoleModel, Content: reply, CreatedAt: now})
	fmt.Fprintln(o.out, reply)
	return nil
}

// runTurn sends the user text and drives tool rounds until the model answers.
func (o *Orchestrator) runTurn(ctx context.Context, text string, logger zerolog.Logger) (string, error) {
	if conn, ok := o.catalog.(ports.CatalogConnector); ok {
		if err := conn.Connect(ctx); err != nil {
			logger.Warn().Err(err).Msg("Tool service unavailable, continuing without tools")
		}
	}
	tools := o.catalog.Tools()

	sess, err := o.ensureSession(ctx, tools, logger)
	if err != nil {
		return "", err
	}

	completion, err := o.send(ctx, sess, ports.Message{Text: text}, 0)
	if err != nil {
		o.dropSession()
		return "", err
	}

	for round := 1; len(completion.ToolCalls) > 0; round++ {
		if round > o.policy.MaxToolRounds {
			logger.Warn().
				Int("max_tool_rounds", o.policy.MaxToolRounds).
				Int("pending_tool_calls", len(completion.ToolCalls)).
				Msg("Tool round limit reached, using last response text")
			// The session now ends on unanswered calls; start clean next turn.
			o.dropSession()
			return completion.Text, nil
		}

		results := o.runTools(ctx, completion.ToolCalls, logger)

		completion, err = o.send(ctx, sess, ports.Message{ToolResults: results}, round)
		if err != nil {
			o.dropSession()
			return "", err
		}
	}

	return completion.Text, nil
}

// ensureSession returns the cached model session, or starts one seeded with
// the completed turns. A catalog change or the per-turn policy forces a new one.
func (o *Orchestrator) ensureSession(ctx context.Context, tools []ports.ToolDescriptor, logger zerolog.Logger) (ports.Session, error) {
	fingerprint := catalogFingerprint(tools)
	if o.session != nil && o.policy.PromptPolicy == PromptPerSession && fingerprint == o.sessionFingerprint {
		return o.session, nil
	}
	if o.session != nil && fingerprint != o.sessionFingerprint {
		logger.Info().Int("tool_count", len(tools)).Msg("Tool catalog changed, starting a new model session")
	}

	cfg := ports.SessionConfig{
		System:  o.builder.Build(tools),
		Tools:   BuildDeclarations(tools),
		History: o.conv.Snapshot(),
	}
	sess, err := o.provider.StartSession(ctx, cfg)
	if err != nil {
		return nil, &ports.ModelCommunicationError{Op: "start session", Err: err}
	}

	o.session = sess
	o.sessionFingerprint = fingerprint
	logger.Debug().
		Str("prompt_policy", string(o.policy.PromptPolicy)).
		Int("history_turns", len(cfg.History)).
		Msg("Model session started")
	return sess, nil
}

func (o *Orchestrator) send(ctx context.Context, sess ports.Session, msg ports.Message, round int) (ports.Completion, error) {
	release, err := o.limiter.Acquire(ctx, "model")
	if err != nil {
		return ports.Completion{}, &ports.ModelCommunicationError{Op: "rate limit", Err: err}
	}
	defer release()

	ctx, finish := o.tracer.StartSpan(ctx, "model_call", map[string]any{
		"round":        round,
		"tool_results": len(msg.ToolResults),
	})
	if o.policy.ModelTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.policy.ModelTimeout)
		defer cancel()
	}

	completion, err := sess.Send(ctx, msg)
	finish(err)
	if err != nil {
		return ports.Completion{}, &ports.ModelCommunicationError{Op: "send", Err: err}
	}
	if completion.Usage != nil {
		o.tracer.Event(ctx, "model_usage", map[string]any{
			"prompt_tokens":     completion.Usage.PromptTokens,
			"completion_tokens": completion.Usage.CompletionTokens,
			"total_tokens":      completion.Usage.TotalTokens,
		})
	}
	return completion, nil
}

// runTools executes the calls in order. A failed call yields an error result
// and never stops its siblings.
func (o *Orchestrator) runTools(ctx context.Context, calls []ports.ToolCall, logger zerolog.Logger) []ports.ToolResult {
	results := make([]ports.ToolResult, 0, len(calls))
	for _, call := range calls {
		results = append(results, o.runTool(ctx, call, logger))
	}
	return results
}

func (o *Orchestrator) runTool(ctx context.Context, call ports.ToolCall, logger zerolog.Logger) ports.ToolResult {
	ctx, finish := o.tracer.StartSpan(ctx, "tool_call", map[string]any{"tool": call.Name})
	start := time.Now()

	content := schema.Null()
	err := o.guard.ValidateToolCall(call, o.catalog.Tools())
	if err != nil {
		err = &ports.ToolInvocationError{Tool: call.Name, Err: err}
	} else {
		content, err = o.tools.CallWithRetry(ctx, call.Name, call.Args)
	}
	finish(err)

	elapsed := time.Since(start)
	if err != nil {
		logger.Warn().Err(err).Str("tool", call.Name).Dur("duration", elapsed).Msg("Tool call failed")
	} else {
		logger.Debug().Str("tool", call.Name).Dur("duration", elapsed).Msg("Tool call succeeded")
	}

	o.record(ctx, call, content, err, elapsed, logger)
	return ports.ToolResult{CallID: call.ID, Name: call.Name, Content: content, Err: err}
}

func (o *Orchestrator) record(ctx context.Context, call ports.ToolCall, content schema.Value, callErr error, elapsed time.Duration, logger zerolog.Logger) {
	entry := ports.JournalEntry{
		ConversationID: o.conversationID,
		Tool:           call.Name,
		Args:           call.Args.String(),
		Duration:       elapsed,
		CreatedAt:      time.Now(),
	}
	if callErr != nil {
		entry.Error = callErr.Error()
	} else {
		entry.Result = content.String()
	}
	if err := o.journal.Record(ctx, entry); err != nil {
		logger.Warn().Err(err).Str("tool", call.Name).Msg("Failed to journal tool call")
	}
}

// Clear resets the conversation and drops the model session with it.
func (o *Orchestrator) Clear() error {
	if !o.busy.CompareAndSwap(false, true) {
		return ports.ErrBusy
	}
	defer o.busy.Store(false)

	o.conv.Clear()
	o.dropSession()
	o.conversationID = uuid.NewString()
	o.logger.Info().Msg("Conversation cleared")
	return nil
}

// History returns the completed turns, oldest first.
func (o *Orchestrator) History() []ports.Turn {
	return o.conv.Snapshot()
}

func (o *Orchestrator) dropSession() {
	o.session = nil
	o.sessionFingerprint = ""
}
