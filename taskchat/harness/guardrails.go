package harness

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	ports "github.com/covall/todoist-ai-chat/taskchat/harness/ports"
	"github.com/covall/todoist-ai-chat/taskchat/harness/schema"
)

// Guardrails vets model-requested tool calls before they reach the tool service.
type Guardrails struct {
	allowlist     map[string]bool // allowed tool names, empty allows all
	jsonValidator *JSONValidator  // nil disables argument validation
	logger        zerolog.Logger
}

// NewGuardrails creates guardrails that allow every catalog tool and validate arguments.
func NewGuardrails(logger zerolog.Logger) *Guardrails {
	return &Guardrails{
		allowlist:     make(map[string]bool),
		jsonValidator: NewJSONValidator(),
		logger:        logger,
	}
}

// AddAllowedTool adds a tool to the allowlist.
func (g *Guardrails) AddAllowedTool(name string) {
	g.allowlist[name] = true
}

// DisableArgumentValidation skips schema checks of tool arguments.
func (g *Guardrails) DisableArgumentValidation() {
	g.jsonValidator = nil
}

// ValidateToolCall checks that the call names a tool of the current catalog,
// passes the allowlist, and carries arguments matching the tool's schema.
func (g *Guardrails) ValidateToolCall(call ports.ToolCall, catalog []ports.ToolDescriptor) error {
	if call.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}

	var tool *ports.ToolDescriptor
	for i := range catalog {
		if catalog[i].Name == call.Name {
			tool = &catalog[i]
			break
		}
	}
	if tool == nil {
		return fmt.Errorf("unknown tool: %s", call.Name)
	}

	if len(g.allowlist) > 0 && !g.allowlist[call.Name] {
		return fmt.Errorf("tool %s is not in allowlist", call.Name)
	}

	if call.Args.Kind() != schema.KindMap && !call.Args.IsNull() {
		return fmt.Errorf("tool arguments must be an object, got %s", call.Args.Kind())
	}

	if g.jsonValidator == nil || tool.InputSchema.Kind() != schema.KindMap {
		return nil
	}
	args := call.Args
	if args.IsNull() {
		args = schema.Map()
	}
	err := g.jsonValidator.Validate(tool.Name, schema.Clean(tool.InputSchema), args)
	if err != nil {
		var compileErr *schemaCompileError
		if errors.As(err, &compileErr) {
			// An unusable advertised schema is the service's problem; let the call through.
			g.logger.Warn().Err(err).Str("tool", tool.Name).Msg("Skipping argument validation")
			return nil
		}
		return err
	}
	return nil
}

// JSONValidator handles JSON schema validation with compiled-schema reuse.
type JSONValidator struct {
	mu       sync.Mutex
	compiled map[string]*gojsonschema.Schema // keyed by tool name + schema text
}

// NewJSONValidator creates a new JSON validator.
func NewJSONValidator() *JSONValidator {
	return &JSONValidator{compiled: make(map[string]*gojsonschema.Schema)}
}

type schemaCompileError struct {
	err error
}

func (e *schemaCompileError) Error() string { return "invalid tool schema: " + e.err.Error() }
func (e *schemaCompileError) Unwrap() error { return e.err }

// Validate checks data against the schema.
func (v *JSONValidator) Validate(name string, sch, data schema.Value) error {
	compiled, err := v.compile(name, sch)
	if err != nil {
		return &schemaCompileError{err: err}
	}

	raw, err := data.MarshalJSON()
	if err != nil {
		return fmt.Errorf("tool arguments are not valid JSON: %w", err)
	}

	result, err := compiled.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		var errs []string
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return fmt.Errorf("schema validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (v *JSONValidator) compile(name string, sch schema.Value) (*gojsonschema.Schema, error) {
	text := sch.String()
	key := name + "\x00" + text

	v.mu.Lock()
	defer v.mu.Unlock()
	if s, ok := v.compiled[key]; ok {
		return s, nil
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(text))
	if err != nil {
		return nil, err
	}
	v.compiled[key] = s
	return s, nil
}
