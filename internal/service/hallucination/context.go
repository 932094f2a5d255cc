package hallucination

import (
	"sync"

	"ai-lecture-transcriber/internal/service/textutil"
)

// DefaultContextSize is the number of recent transcripts kept per session.
const DefaultContextSize = 10

// Context is a bounded ring of a session's recent transcripts.
type Context struct {
	mu    sync.Mutex
	items []string
	next  int
	full  bool
}

// NewContext creates a context holding up to size transcripts.
func NewContext(size int) *Context {
	if size <= 0 {
		size = DefaultContextSize
	}
	return &Context{items: make([]string, size)}
}

// Add records a transcript. Blank transcripts are ignored.
func (c *Context) Add(text string) {
	norm := textutil.Normalize(text)
	if norm == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[c.next] = norm
	c.next = (c.next + 1) % len(c.items)
	if c.next == 0 {
		c.full = true
	}
}

// Contains reports whether an equivalent transcript was seen recently.
func (c *Context) Contains(text string) bool {
	norm := textutil.Normalize(text)
	if norm == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := 0; i < c.lenLocked(); i++ {
		if c.items[i] == norm {
			return true
		}
	}
	return false
}

// Len returns the number of stored transcripts.
func (c *Context) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lenLocked()
}

func (c *Context) lenLocked() int {
	if c.full {
		return len(c.items)
	}
	return c.next
}

// Reset forgets all transcripts.
func (c *Context) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.items)
	c.next = 0
	c.full = false
}
