// Package console runs the line-oriented chat loop on top of the orchestrator.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	ports "github.com/covall/todoist-ai-chat/taskchat/harness/ports"
)

const (
	// Prompt is printed before every line read.
	Prompt = "> "

	BusyNotice  = "A request is still being processed, please wait."
	EmptyNotice = "(no messages yet)"

	maxLineBytes = 1 << 20
)

// HelpText lists the reserved commands.
const HelpText = `Commands:
  history    show the conversation so far
  clear      forget the conversation and start over
  help       show this help
  exit, quit leave the chat
Anything else is sent to the assistant.`

// Turner is the part of the orchestrator the console drives.
type Turner interface {
	HandleUserTurn(ctx context.Context, text string) error
	Clear() error
	History() []ports.Turn
}

// Console reads user lines and routes them to commands or the orchestrator.
type Console struct {
	turner Turner
	in     io.Reader
	out    io.Writer
	logger zerolog.Logger
}

func New(turner Turner, in io.Reader, out io.Writer, logger zerolog.Logger) *Console {
	return &Console{
		turner: turner,
		in:     in,
		out:    out,
		logger: logger.With().Str("component", "console").Logger(),
	}
}

// Run processes lines until exit/quit, end of input, or ctx is done. Lines
// are read on a separate goroutine so a cancelled ctx returns promptly even
// while a terminal read is pending.
func (c *Console) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	lines, readErr := c.readLines(done)

	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(c.out, Prompt)

		var (
			line string
			ok   bool
		)
		select {
		case <-ctx.Done():
			fmt.Fprintln(c.out)
			return nil
		case line, ok = <-lines:
		}
		if !ok {
			fmt.Fprintln(c.out)
			if err := <-readErr; err != nil && ctx.Err() == nil {
				return fmt.Errorf("read console input: %w", err)
			}
			return nil
		}
		// Input typed while shutting down is dropped.
		if ctx.Err() != nil {
			return nil
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if stop := c.dispatch(ctx, line); stop {
			return nil
		}
	}
}

// readLines scans input until EOF or until done is closed. The scan error,
// possibly nil, is delivered before lines is closed.
func (c *Console) readLines(done <-chan struct{}) (<-chan string, <-chan error) {
	lines := make(chan string)
	readErr := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				readErr <- nil
				return
			}
		}
		readErr <- scanner.Err()
	}()
	return lines, readErr
}

// RunOnce handles a single line as Run would, for non-interactive use.
func (c *Console) RunOnce(ctx context.Context, line string) {
	line = strings.TrimSpace(line)
	if line != "" {
		c.dispatch(ctx, line)
	}
}

// dispatch handles one line and reports whether the loop should stop.
func (c *Console) dispatch(ctx context.Context, line string) bool {
	switch strings.ToLower(line) {
	case "exit", "quit":
		c.logger.Debug().Msg("Exit requested")
		return true
	case "help":
		fmt.Fprintln(c.out, HelpText)
	case "history":
		c.printHistory()
	case "clear":
		if err := c.turner.Clear(); err != nil {
			c.report(err)
			return false
		}
		fmt.Fprintln(c.out, "Conversation cleared.")
	default:
		if err := c.turner.HandleUserTurn(ctx, line); err != nil {
			c.report(err)
		}
	}
	return false
}

func (c *Console) printHistory() {
	turns := c.turner.History()
	if len(turns) == 0 {
		fmt.Fprintln(c.out, EmptyNotice)
		return
	}
	for _, t := range turns {
		fmt.Fprintf(c.out, "[%s] %s\n", t.Role, t.Content)
	}
}

func (c *Console) report(err error) {
	if errors.Is(err, ports.ErrBusy) {
		fmt.Fprintln(c.out, BusyNotice)
		return
	}
	c.logger.Error().Err(err).Msg("Command failed")
	fmt.Fprintf(c.out, "Error: %v\n", err)
}
