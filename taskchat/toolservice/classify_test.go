package toolservice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	ports "github.com/covall/todoist-ai-chat/taskchat/harness/ports"
)

func TestIsConnectionClass(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"not connected", ports.ErrNotConnected, true},
		{"connection error", &ports.ConnectionError{Op: "connect", Err: errors.New("x")}, true},
		{"eof", fmt.Errorf("read: %w", io.EOF), true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"net op error", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}, true},
		{"session not found", errors.New("Session not found"), true},
		{"invalid session", errors.New("Bad Request: Invalid session ID"), true},
		{"missing session", errors.New("missing session id header"), true},
		{"no session", errors.New("no session"), true},
		{"http 404", errors.New("broken session: 404 Not Found"), true},
		{"connection reset", errors.New("read: Connection reset by peer"), true},
		{"tool failure", &ports.ToolInvocationError{Tool: "t", Err: errors.New("connection")}, false},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), false},
		{"validation", errors.New("invalid params: dueDate must be YYYY-MM-DD"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsConnectionClass(tc.err))
		})
	}
}
