package harnessports

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBusy rejects a user turn while another one is in flight.
	ErrBusy = errors.New("a request is already in progress")
	// ErrNotConnected is returned when no live tool-service session exists.
	ErrNotConnected = errors.New("tool service not connected")
)

// ConfigurationError reports missing or invalid startup settings.
type ConfigurationError struct {
	Missing []string // config keys or env vars
	Err     error
}

func (e *ConfigurationError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("configuration: missing %s", strings.Join(e.Missing, ", "))
	}
	if e.Err != nil {
		return fmt.Sprintf("configuration: %v", e.Err)
	}
	return "configuration error"
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ConnectionError reports a failure to reach or talk to the tool service.
type ConnectionError struct {
	Op       string // "connect", "list tools", "call tool"
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Endpoint, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ToolInvocationError is a terminal tool-call failure.
type ToolInvocationError struct {
	Tool     string
	Attempts int
	Err      error
}

func (e *ToolInvocationError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("tool %q failed after %d attempts: %v", e.Tool, e.Attempts, e.Err)
	}
	return fmt.Sprintf("tool %q failed: %v", e.Tool, e.Err)
}

func (e *ToolInvocationError) Unwrap() error { return e.Err }

// ModelCommunicationError reports a failed exchange with the model.
type ModelCommunicationError struct {
	Op  string
	Err error
}

func (e *ModelCommunicationError) Error() string {
	return fmt.Sprintf("model %s: %v", e.Op, e.Err)
}

func (e *ModelCommunicationError) Unwrap() error { return e.Err }
