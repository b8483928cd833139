package session

import (
	"context"
	"sync"
	"time"
)

type handle struct {
	timer  *time.Timer
	cancel context.CancelFunc
}

// handles tracks the pending start timer and the running sequence of each session.
type handles struct {
	mu sync.Mutex
	m  map[string]*handle
}

func newHandles() *handles {
	return &handles{m: make(map[string]*handle)}
}

func (h *handles) get(id string) *handle {
	hd, ok := h.m[id]
	if !ok {
		hd = &handle{}
		h.m[id] = hd
	}
	return hd
}

func (h *handles) prune(id string) {
	if hd, ok := h.m[id]; ok && hd.timer == nil && hd.cancel == nil {
		delete(h.m, id)
	}
}

// setTimer replaces any pending start timer for id.
func (h *handles) setTimer(id string, t *time.Timer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	hd := h.get(id)
	if hd.timer != nil {
		hd.timer.Stop()
	}
	hd.timer = t
}

// clearTimer stops and forgets the start timer; it reports whether one was pending.
func (h *handles) clearTimer(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	hd, ok := h.m[id]
	if !ok || hd.timer == nil {
		return false
	}
	hd.timer.Stop()
	hd.timer = nil
	h.prune(id)
	return true
}

// begin registers a running sequence. It returns false when one is already running.
func (h *handles) begin(id string, cancel context.CancelFunc) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	hd := h.get(id)
	if hd.cancel != nil {
		return false
	}
	hd.cancel = cancel
	return true
}

func (h *handles) end(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if hd, ok := h.m[id]; ok {
		hd.cancel = nil
		h.prune(id)
	}
}

// abort stops the start timer and cancels the running sequence for id.
func (h *handles) abort(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	hd, ok := h.m[id]
	if !ok {
		return
	}
	if hd.timer != nil {
		hd.timer.Stop()
		hd.timer = nil
	}
	if hd.cancel != nil {
		hd.cancel()
	}
	h.prune(id)
}

func (h *handles) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.m)
}
