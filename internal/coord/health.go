package coord

import (
	"sync"
	"time"
)

// Health is the one-shot shutdown signal shared by all workers.
//
// It starts healthy. The first Fail call clears it and records the reason;
// later calls are no-ops. There is no way to become healthy again: a fresh
// process is the only recovery.
type Health struct {
	once   sync.Once
	mu     sync.RWMutex
	reason string
	failed bool
	done   chan struct{}
}

// NewHealth returns a healthy signal.
func NewHealth() *Health {
	return &Health{done: make(chan struct{})}
}

// Healthy reports whether no worker has failed yet.
func (h *Health) Healthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return !h.failed
}

// Fail clears the signal. Returns true only for the call that cleared it.
func (h *Health) Fail(reason string) bool {
	cleared := false
	h.once.Do(func() {
		h.mu.Lock()
		h.failed = true
		h.reason = reason
		h.mu.Unlock()
		close(h.done)
		cleared = true
	})
	return cleared
}

// Reason returns the reason passed to the first Fail, or "" while healthy.
func (h *Health) Reason() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.reason
}

// Done is closed when the signal is cleared.
func (h *Health) Done() <-chan struct{} {
	return h.done
}

// Sleep waits for d or until the signal is cleared, whichever comes first.
// Returns false when the caller should stop.
func (h *Health) Sleep(d time.Duration) bool {
	if d <= 0 {
		return h.Healthy()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return h.Healthy()
	case <-h.done:
		return false
	}
}
