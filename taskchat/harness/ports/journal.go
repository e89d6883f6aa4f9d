package harnessports

import (
	"context"
	"time"
)

// JournalEntry is one recorded tool invocation.
type JournalEntry struct {
	ConversationID string
	Tool           string
	Args           string // JSON
	Result         string // JSON, empty on error
	Error          string
	Duration       time.Duration
	CreatedAt      time.Time
}

// ToolJournal records tool invocations for diagnostics. Entries are write-only
// from the harness point of view.
type ToolJournal interface {
	Record(ctx context.Context, entry JournalEntry) error
	Close() error
}
