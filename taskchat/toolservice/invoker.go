package toolservice

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	ports "github.com/covall/todoist-ai-chat/taskchat/harness/ports"
	"github.com/covall/todoist-ai-chat/taskchat/harness/schema"
)

const (
	DefaultMaxAttempts = 3
	DefaultBackoff     = 250 * time.Millisecond
)

// Connection is the part of Manager the invoker drives.
type Connection interface {
	Invoke(ctx context.Context, name string, args schema.Value) (schema.Value, error)
	Reconnect(ctx context.Context) error
}

// Invoker dispatches tool calls, reconnecting between attempts when the
// failure means the session is gone.
type Invoker struct {
	conn        Connection
	logger      zerolog.Logger
	maxAttempts int
	backoff     time.Duration
}

// InvokerOption configures an Invoker.
type InvokerOption func(*Invoker)

// WithMaxAttempts sets the total number of attempts per call (minimum 1).
func WithMaxAttempts(n int) InvokerOption {
	return func(i *Invoker) {
		if n >= 1 {
			i.maxAttempts = n
		}
	}
}

// WithBackoff sets the constant pause between attempts.
func WithBackoff(d time.Duration) InvokerOption {
	return func(i *Invoker) {
		if d > 0 {
			i.backoff = d
		}
	}
}

// NewInvoker creates an invoker over conn.
func NewInvoker(conn Connection, logger zerolog.Logger, opts ...InvokerOption) *Invoker {
	i := &Invoker{
		conn:        conn,
		logger:      logger.With().Str("component", "tool_invoker").Logger(),
		maxAttempts: DefaultMaxAttempts,
		backoff:     DefaultBackoff,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// CallWithRetry invokes a tool. Connection-class failures trigger a reconnect
// and another attempt, up to the attempt limit; anything else fails at once.
// Every failure is returned as a *ToolInvocationError.
func (i *Invoker) CallWithRetry(ctx context.Context, name string, args schema.Value) (schema.Value, error) {
	var (
		attempts int
		result   schema.Value
	)

	backoff := retry.WithMaxRetries(uint64(i.maxAttempts-1), retry.NewConstant(i.backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		out, err := i.conn.Invoke(ctx, name, args)
		if err == nil {
			result = out
			return nil
		}

		logger := i.logger.With().
			Str("tool", name).
			Int("attempt", attempts).
			Int("max_attempts", i.maxAttempts).
			Err(err).
			Logger()

		if !IsConnectionClass(err) {
			logger.Debug().Msg("Tool call failed")
			return err
		}
		if attempts >= i.maxAttempts {
			logger.Warn().Msg("Tool call failed on final attempt")
			return err
		}

		logger.Warn().Msg("Tool call lost its connection, reconnecting")
		if rerr := i.conn.Reconnect(ctx); rerr != nil {
			logger.Error().AnErr("reconnect_error", rerr).Msg("Reconnect failed")
		}
		return retry.RetryableError(err)
	})
	if err == nil {
		if attempts > 1 {
			i.logger.Info().Str("tool", name).Int("attempts", attempts).Msg("Tool call succeeded after retry")
		}
		return result, nil
	}

	var toolErr *ports.ToolInvocationError
	if errors.As(err, &toolErr) {
		return schema.Null(), err
	}
	return schema.Null(), &ports.ToolInvocationError{Tool: name, Attempts: attempts, Err: err}
}

// Ensure Invoker implements the ToolCaller port.
var _ ports.ToolCaller = (*Invoker)(nil)
