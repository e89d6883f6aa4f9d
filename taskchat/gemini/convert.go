package gemini

import (
	"fmt"
	"strings"

	"google.golang.org/genai"

	ports "github.com/covall/todoist-ai-chat/taskchat/harness/ports"
	"github.com/covall/todoist-ai-chat/taskchat/harness/schema"
)

// toTools wraps the declarations in a single genai tool.
func toTools(decls []ports.FunctionDeclaration) []*genai.Tool {
	if len(decls) == 0 {
		return nil
	}
	out := make([]*genai.FunctionDeclaration, 0, len(decls))
	for _, d := range decls {
		out = append(out, &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  toParameters(d.Parameters),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: out}}
}

// toParameters converts a tool's input schema. Tools without arguments get no
// parameters, since the API rejects an OBJECT without properties.
func toParameters(v schema.Value) *genai.Schema {
	if v.Kind() != schema.KindMap {
		return nil
	}
	props, ok := v.Get("properties")
	if !ok || props.Len() == 0 {
		return nil
	}
	return toSchema(v)
}

// toSchema maps the JSON-Schema subset the model understands onto genai.Schema.
// Unknown keywords are dropped.
func toSchema(v schema.Value) *genai.Schema {
	if v.Kind() != schema.KindMap {
		return nil
	}
	s := &genai.Schema{}

	if t, ok := v.Get("type"); ok {
		switch t.Kind() {
		case schema.KindString:
			name, _ := t.AsString()
			applyType(s, name)
		case schema.KindList:
			for _, item := range t.Items() {
				name, _ := item.AsString()
				applyType(s, name)
			}
		}
	}

	if d, ok := v.GetString("description"); ok {
		s.Description = d
	}
	if f, ok := v.GetString("format"); ok {
		s.Format = f
	}
	if title, ok := v.GetString("title"); ok {
		s.Title = title
	}
	if p, ok := v.GetString("pattern"); ok {
		s.Pattern = p
	}
	if n, ok := v.Get("nullable"); ok {
		if b, isBool := n.AsBool(); isBool {
			s.Nullable = genai.Ptr(b)
		}
	}

	if enum, ok := v.Get("enum"); ok {
		for _, item := range enum.Items() {
			s.Enum = append(s.Enum, scalarString(item))
		}
	}
	if c, ok := v.Get("const"); ok && s.Enum == nil {
		s.Enum = []string{scalarString(c)}
	}

	if req, ok := v.Get("required"); ok {
		for _, item := range req.Items() {
			if name, isString := item.AsString(); isString {
				s.Required = append(s.Required, name)
			}
		}
	}

	if props, ok := v.Get("properties"); ok && props.Kind() == schema.KindMap {
		s.Properties = make(map[string]*genai.Schema, props.Len())
		for _, name := range props.Keys() {
			child, _ := props.Get(name)
			if cs := toSchema(child); cs != nil {
				s.Properties[name] = cs
				s.PropertyOrdering = append(s.PropertyOrdering, name)
			}
		}
	}

	if items, ok := v.Get("items"); ok {
		switch items.Kind() {
		case schema.KindMap:
			s.Items = toSchema(items)
		case schema.KindList:
			// Tuple form: the model only takes one item schema.
			if list := items.Items(); len(list) > 0 {
				s.Items = toSchema(list[0])
			}
		}
	}

	if anyOf, ok := v.Get("anyOf"); ok {
		for _, item := range anyOf.Items() {
			if cs := toSchema(item); cs != nil {
				s.AnyOf = append(s.AnyOf, cs)
			}
		}
	}

	if d, ok := v.Get("default"); ok {
		s.Default = d.Any()
	}

	s.Minimum = floatField(v, "minimum")
	s.Maximum = floatField(v, "maximum")
	s.MinItems = intField(v, "minItems")
	s.MaxItems = intField(v, "maxItems")
	s.MinLength = intField(v, "minLength")
	s.MaxLength = intField(v, "maxLength")

	return s
}

func applyType(s *genai.Schema, name string) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "":
	case "null":
		s.Nullable = genai.Ptr(true)
	default:
		if s.Type == "" {
			s.Type = genai.Type(strings.ToUpper(name))
		}
	}
}

func scalarString(v schema.Value) string {
	if s, ok := v.AsString(); ok {
		return s
	}
	return v.String()
}

func floatField(v schema.Value, key string) *float64 {
	n, ok := v.Get(key)
	if !ok {
		return nil
	}
	num, ok := n.AsNumber()
	if !ok {
		return nil
	}
	f, err := num.Float64()
	if err != nil {
		return nil
	}
	return genai.Ptr(f)
}

func intField(v schema.Value, key string) *int64 {
	n, ok := v.Get(key)
	if !ok {
		return nil
	}
	num, ok := n.AsNumber()
	if !ok {
		return nil
	}
	i, err := num.Int64()
	if err != nil {
		return nil
	}
	return genai.Ptr(i)
}

// toHistory converts completed turns into chat history.
func toHistory(turns []ports.Turn) []*genai.Content {
	out := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		role := string(genai.RoleUser)
		if t.Role == ports.RoleModel {
			role = string(genai.RoleModel)
		}
		out = append(out, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: t.Content}},
		})
	}
	return out
}

// toParts converts an outbound message into request parts.
func toParts(msg ports.Message) []genai.Part {
	if len(msg.ToolResults) == 0 {
		return []genai.Part{{Text: msg.Text}}
	}
	parts := make([]genai.Part, 0, len(msg.ToolResults))
	for _, r := range msg.ToolResults {
		parts = append(parts, genai.Part{
			FunctionResponse: &genai.FunctionResponse{
				ID:       r.CallID,
				Name:     r.Name,
				Response: r.Response(),
			},
		})
	}
	return parts
}

// fromResponse extracts text and function calls from the first candidate.
// Thought parts are skipped.
func fromResponse(resp *genai.GenerateContentResponse) (ports.Completion, error) {
	var out ports.Completion
	if resp == nil {
		return out, nil
	}

	if u := resp.UsageMetadata; u != nil {
		out.Usage = &ports.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}

	if len(resp.Candidates) == 0 {
		if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
			return out, fmt.Errorf("prompt blocked: %s", fb.BlockReason)
		}
		return out, nil
	}

	cand := resp.Candidates[0]
	if cand.Content == nil {
		return out, nil
	}

	var text strings.Builder
	for _, part := range cand.Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		if part.FunctionCall != nil {
			args, err := schema.FromAny(part.FunctionCall.Args)
			if err != nil {
				return out, fmt.Errorf("decode arguments of %q: %w", part.FunctionCall.Name, err)
			}
			if args.IsNull() {
				args = schema.Map()
			}
			out.ToolCalls = append(out.ToolCalls, ports.ToolCall{
				ID:   part.FunctionCall.ID,
				Name: part.FunctionCall.Name,
				Args: args,
			})
			continue
		}
		text.WriteString(part.Text)
	}
	out.Text = text.String()
	return out, nil
}
