package adapters

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covall/todoist-ai-chat/taskchat/db"
	ports "github.com/covall/todoist-ai-chat/taskchat/harness/ports"
)

func TestZerologTracerNestsSpans(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewZerologTracer(zerolog.New(&buf).Level(zerolog.DebugLevel))

	ctx, endTurn := tracer.StartSpan(context.Background(), "turn", map[string]any{"turn_id": "t1"})
	toolCtx, endTool := tracer.StartSpan(ctx, "tool_call", map[string]any{"tool": "find-tasks"})
	tracer.Event(toolCtx, "tool_result", map[string]any{"ok": true})
	endTool(errors.New("boom"))
	endTurn(nil)

	out := buf.String()
	assert.Contains(t, out, `"span":"tool_call"`)
	assert.Contains(t, out, `"turn_id":"t1"`)
	assert.Contains(t, out, `"event":"tool_result"`)
	assert.Contains(t, out, `"error":"boom"`)
	assert.Contains(t, out, `"event":"span_end"`)
}

func TestZerologTracerEventWithoutSpan(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewZerologTracer(zerolog.New(&buf))

	tracer.Event(context.Background(), "model_usage", map[string]any{"total_tokens": 42})

	out := buf.String()
	assert.Contains(t, out, `"event":"model_usage"`)
	assert.Contains(t, out, `"total_tokens":42`)
	assert.NotContains(t, out, `"span"`)
}

func TestTokenBucketBlocksUntilRefill(t *testing.T) {
	tb := NewTokenBucket(1, 20*time.Millisecond)
	ctx := context.Background()

	release, err := tb.Acquire(ctx, "gemini")
	require.NoError(t, err)
	release()

	start := time.Now()
	_, err = tb.Acquire(ctx, "gemini")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)

	// Other keys have their own bucket.
	_, err = tb.Acquire(ctx, "other")
	require.NoError(t, err)
}

func TestTokenBucketHonoursContext(t *testing.T) {
	tb := NewTokenBucket(1, time.Hour)
	_, err := tb.Acquire(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = tb.Acquire(ctx, "k")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLibSQLToolJournalRecords(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Connect(ctx, filepath.Join(t.TempDir(), "journal.db"), zerolog.Nop())
	require.NoError(t, err)

	journal := NewLibSQLToolJournal(conn)

	err = journal.Record(ctx, ports.JournalEntry{
		ConversationID: "c1",
		Tool:           "find-tasks-by-date",
		Args:           `{"startDate":"today"}`,
		Result:         `{"tasks":[]}`,
		Duration:       42 * time.Millisecond,
	})
	require.NoError(t, err)
	err = journal.Record(ctx, ports.JournalEntry{ConversationID: "c1", Tool: "add-tasks", Error: "boom"})
	require.NoError(t, err)

	rows, err := conn.QueryContext(ctx, "SELECT tool, args, error, duration_ms FROM tool_journal ORDER BY id")
	require.NoError(t, err)
	defer rows.Close()

	type row struct {
		tool, args, errMsg string
		ms                 int64
	}
	var got []row
	for rows.Next() {
		var r row
		require.NoError(t, rows.Scan(&r.tool, &r.args, &r.errMsg, &r.ms))
		got = append(got, r)
	}
	require.NoError(t, rows.Err())

	assert.Equal(t, []row{
		{tool: "find-tasks-by-date", args: `{"startDate":"today"}`, ms: 42},
		{tool: "add-tasks", args: "{}", errMsg: "boom"},
	}, got)

	require.NoError(t, journal.Close())
}
