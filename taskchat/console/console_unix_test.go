//go:build unix

package console

import (
	"bytes"
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// A terminal stdin is a blocking descriptor that Close does not interrupt.
func TestRunReturnsOnCancelWithBlockingInput(t *testing.T) {
	var fds [2]int
	require.NoError(t, syscall.Pipe(fds[:]))
	in := os.NewFile(uintptr(fds[0]), "stdin-pipe")
	w := os.NewFile(uintptr(fds[1]), "stdin-pipe-writer")
	t.Cleanup(func() {
		// Closing the writer ends the pending read with EOF.
		_ = w.Close()
		_ = in.Close()
	})

	turner := &mockTurner{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- New(turner, in, &bytes.Buffer{}, zerolog.Nop()).Run(ctx)
	}()

	// Let Run block in the read.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run still blocked after cancel")
	}

	// A line typed after shutdown is not sent.
	_, _ = w.Write([]byte("late line\n"))
	turner.AssertNotCalled(t, "HandleUserTurn", mock.Anything, mock.Anything)
}
