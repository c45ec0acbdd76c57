package ui

import (
	"sync"

	"github.com/zanz1n/stunning-waffle/common"
)

// history keeps the most recent events for charting clients.
type history struct {
	mu     sync.Mutex
	events []common.Event
	next   int
	full   bool
}

func newHistory(size int) *history {
	return &history{events: make([]common.Event, size)}
}

func (h *history) add(ev common.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.events) == 0 {
		return
	}
	h.events[h.next] = ev
	h.next = (h.next + 1) % len(h.events)
	if h.next == 0 {
		h.full = true
	}
}

// last returns up to n events, oldest first. n <= 0 means all of them.
func (h *history) last(n int) []common.Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []common.Event
	if h.full {
		out = append(out, h.events[h.next:]...)
	}
	out = append(out, h.events[:h.next]...)
	if n > 0 && n < len(out) {
		out = out[len(out)-n:]
	}
	if out == nil {
		out = []common.Event{}
	}
	return out
}
