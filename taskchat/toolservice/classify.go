package toolservice

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	ports "github.com/covall/todoist-ai-chat/taskchat/harness/ports"
)

// connectionMarkers are lowercase message fragments the hosted tool service
// and the HTTP transport use when a session is gone or unreachable.
var connectionMarkers = []string{
	"session not found",
	"invalid session",
	"missing session",
	"no session",
	"404",
	"connection",
}

// IsConnectionClass reports whether err means the session is unusable and a
// reconnect may help. Tool-level failures and cancellation are never
// connection class.
func IsConnectionClass(err error) bool {
	if err == nil {
		return false
	}

	var toolErr *ports.ToolInvocationError
	if errors.As(err, &toolErr) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var connErr *ports.ConnectionError
	switch {
	case errors.Is(err, ports.ErrNotConnected),
		errors.As(err, &connErr),
		errors.Is(err, mcp.ErrConnectionClosed),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, net.ErrClosed):
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range connectionMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
