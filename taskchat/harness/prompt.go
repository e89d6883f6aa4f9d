package harness

import (
	"fmt"
	"strings"
	"time"

	ports "github.com/covall/todoist-ai-chat/taskchat/harness/ports"
)

// PromptPolicy decides how often the system instruction is rebuilt.
type PromptPolicy string

const (
	// PromptPerSession builds the instruction once per model session.
	PromptPerSession PromptPolicy = "session"
	// PromptPerTurn rebuilds it every turn, on a fresh session seeded with the history.
	PromptPerTurn PromptPolicy = "turn"
)

func ParsePromptPolicy(s string) (PromptPolicy, error) {
	switch PromptPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PromptPerSession:
		return PromptPerSession, nil
	case PromptPerTurn:
		return PromptPerTurn, nil
	default:
		return "", fmt.Errorf("unknown prompt policy %q", s)
	}
}

const dateLayout = "2006-01-02"

// PromptBuilder assembles the date-aware system instruction.
type PromptBuilder struct {
	now func() time.Time
}

func NewPromptBuilder() *PromptBuilder { return &PromptBuilder{now: time.Now} }

// WithClock replaces the time source.
func (b *PromptBuilder) WithClock(now func() time.Time) *PromptBuilder {
	if now != nil {
		b.now = now
	}
	return b
}

// Build renders the system instruction for the given catalog.
func (b *PromptBuilder) Build(tools []ports.ToolDescriptor) string {
	// Normalize newlines and trim whitespace so identical inputs give identical prompts
	norm := func(s string) string { return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n")) }

	today := b.now()
	day := func(offset int) string { return today.AddDate(0, 0, offset).Format(dateLayout) }

	var sb strings.Builder
	sb.WriteString("You are a helpful assistant that manages the user's Todoist tasks and projects through the tools below.\n\n")

	sb.WriteString("Available tools:\n")
	if len(tools) == 0 {
		sb.WriteString("- (no tools are currently available; answer from the conversation only)\n")
	}
	for _, t := range tools {
		desc := norm(t.Description)
		if desc == "" {
			fmt.Fprintf(&sb, "- %s\n", t.Name)
			continue
		}
		// Keep one line per tool.
		desc = strings.Join(strings.Fields(desc), " ")
		fmt.Fprintf(&sb, "- %s: %s\n", t.Name, desc)
	}

	sb.WriteString("\nDates:\n")
	fmt.Fprintf(&sb, "- Today is %s (%s).\n", day(0), today.Weekday())
	fmt.Fprintf(&sb, "- Tomorrow is %s.\n", day(1))
	fmt.Fprintf(&sb, "- Next week starts %s.\n", day(7))
	fmt.Fprintf(&sb, "- Yesterday was %s.\n", day(-1))

	sb.WriteString("\nRules for date arguments:\n")
	sb.WriteString("- Date-valued tool arguments accept only the literals \"today\", \"tomorrow\" and \"overdue\", or an explicit date in YYYY-MM-DD format.\n")
	sb.WriteString("- Resolve any other relative date (\"next week\", \"yesterday\", weekday names) to YYYY-MM-DD using the dates above before calling a tool.\n")
	sb.WriteString("- Never invent task or project IDs; look them up with a tool first.\n")

	sb.WriteString("\nStyle:\n")
	sb.WriteString("- Be concise and conversational. Answer in plain text without markdown tables.\n")
	sb.WriteString("- Summarize tool results in natural language instead of echoing raw data.\n")
	sb.WriteString("- If a tool fails, say so briefly and suggest what the user can try next.\n")

	return norm(sb.String())
}
