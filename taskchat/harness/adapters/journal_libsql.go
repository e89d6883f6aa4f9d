package adapters

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	ports "github.com/covall/todoist-ai-chat/taskchat/harness/ports"
)

// LibSQLToolJournal implements ToolJournal on a libsql database migrated by
// taskchat/db.
type LibSQLToolJournal struct {
	db *sql.DB
}

// NewLibSQLToolJournal takes ownership of db; Close closes it.
func NewLibSQLToolJournal(db *sql.DB) *LibSQLToolJournal {
	return &LibSQLToolJournal{
		db: db,
	}
}

// Record appends one tool invocation.
func (j *LibSQLToolJournal) Record(ctx context.Context, entry ports.JournalEntry) error {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	args := entry.Args
	if args == "" {
		args = "{}"
	}

	query := `
		INSERT INTO tool_journal (conversation_id, tool, args, result, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := j.db.ExecContext(ctx, query,
		entry.ConversationID,
		entry.Tool,
		args,
		entry.Result,
		entry.Error,
		entry.Duration.Milliseconds(),
		createdAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record tool call: %w", err)
	}
	return nil
}

func (j *LibSQLToolJournal) Close() error {
	return j.db.Close()
}

// Ensure LibSQLToolJournal implements the ToolJournal interface.
var _ ports.ToolJournal = (*LibSQLToolJournal)(nil)
