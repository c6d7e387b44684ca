package coord

import (
	"sync"
	"sync/atomic"
)

// Mailbox is a single-slot channel with overwrite semantics.
//
// Semantics:
//   - Offer is non-blocking and always succeeds
//   - If the slot is occupied, the old item is discarded and counted as a drop
//   - Poll is non-blocking and removes the item it returns
//
// The zero value is ready to use.
type Mailbox[T any] struct {
	mu   sync.Mutex
	item T
	full bool

	offered uint64
	polled  uint64
	dropped uint64
}

// MailboxStats is a point-in-time copy of the mailbox counters.
type MailboxStats struct {
	Offered uint64
	Polled  uint64
	Dropped uint64
}

// NewMailbox returns an empty mailbox.
func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{}
}

// Offer stores v, evicting any unconsumed item.
func (m *Mailbox[T]) Offer(v T) {
	m.mu.Lock()

	// Previous item never polled (consumer slower than producer)
	if m.full {
		atomic.AddUint64(&m.dropped, 1)
	}

	m.item = v
	m.full = true
	atomic.AddUint64(&m.offered, 1)

	m.mu.Unlock()
}

// Poll removes and returns the stored item. ok is false when empty.
func (m *Mailbox[T]) Poll() (v T, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.full {
		return v, false
	}

	v = m.item
	var zero T
	m.item = zero // release frame buffer for GC
	m.full = false
	atomic.AddUint64(&m.polled, 1)

	return v, true
}

// Len reports 1 when an item is waiting, 0 otherwise.
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.full {
		return 1
	}
	return 0
}

// Stats returns the mailbox counters. Safe to call without coordination.
func (m *Mailbox[T]) Stats() MailboxStats {
	return MailboxStats{
		Offered: atomic.LoadUint64(&m.offered),
		Polled:  atomic.LoadUint64(&m.polled),
		Dropped: atomic.LoadUint64(&m.dropped),
	}
}
