package engine

import "sync"

// history is a bounded ring of recent runs, oldest first.
type history struct {
	mu    sync.Mutex
	buf   []HistoryItem
	limit int
}

func (h *history) resize(limit int) {
	if limit <= 0 {
		limit = 200
	}
	h.mu.Lock()
	h.limit = limit
	if len(h.buf) > limit {
		h.buf = append([]HistoryItem(nil), h.buf[len(h.buf)-limit:]...)
	}
	h.mu.Unlock()
}

func (h *history) add(it HistoryItem) {
	h.mu.Lock()
	h.buf = append(h.buf, it)
	if h.limit > 0 && len(h.buf) > h.limit {
		h.buf = h.buf[len(h.buf)-h.limit:]
	}
	h.mu.Unlock()
}

func (h *history) items() []HistoryItem {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]HistoryItem, len(h.buf))
	copy(out, h.buf)
	return out
}
