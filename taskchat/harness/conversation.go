package harness

import (
	"sync"

	ports "github.com/covall/todoist-ai-chat/taskchat/harness/ports"
)

// Conversation is the ordered, in-memory log of completed turns. Turns are
// only appended; the log is reset as a whole.
type Conversation struct {
	mu    sync.RWMutex
	turns []ports.Turn
}

func NewConversation() *Conversation {
	return &Conversation{}
}

func (c *Conversation) Append(turn ports.Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, turn)
}

// Snapshot returns a copy of the turns, oldest first.
func (c *Conversation) Snapshot() []ports.Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ports.Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = nil
}

func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.turns)
}
