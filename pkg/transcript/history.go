package transcript

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Entry is one line of the visible conversation.
type Entry struct {
	ID        string
	Text      string
	Role      Role
	Timestamp time.Time
}

// History is the append-only conversation log. Entries are appended when a
// result completes, so their order is the completion order regardless of
// which component initiated the turn.
type History struct {
	mu       sync.Mutex
	entries  []Entry
	listener func(Entry)
}

func NewHistory() *History {
	return &History{}
}

// SetListener registers a callback invoked after each append. Intended for
// UI sinks; the callback runs on the appender's goroutine.
func (h *History) SetListener(fn func(Entry)) {
	h.mu.Lock()
	h.listener = fn
	h.mu.Unlock()
}

// Append records a completed turn line and returns the stored entry.
func (h *History) Append(role Role, text string) Entry {
	e := Entry{
		ID:        uuid.NewString(),
		Text:      text,
		Role:      role,
		Timestamp: time.Now(),
	}
	h.mu.Lock()
	h.entries = append(h.entries, e)
	fn := h.listener
	h.mu.Unlock()
	if fn != nil {
		fn(e)
	}
	return e
}

// Entries returns a snapshot of the history in append order.
func (h *History) Entries() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Entry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Len returns the number of entries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}
