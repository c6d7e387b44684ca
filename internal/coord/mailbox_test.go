package coord_test

import (
	"sync"
	"testing"
	"time"

	"github.com/e7canasta/coop-sensor/internal/coord"
)

// --- Offer/Poll basics ---

func TestPollEmpty(t *testing.T) {
	m := coord.NewMailbox[int]()

	if _, ok := m.Poll(); ok {
		t.Fatalf("Poll() on empty mailbox returned ok=true")
	}
	if m.Len() != 0 {
		t.Errorf("Len() = %d, want 0", m.Len())
	}
}

func TestPollAfterOfferReturnsItemOnce(t *testing.T) {
	m := coord.NewMailbox[string]()

	m.Offer("a")
	v, ok := m.Poll()
	if !ok || v != "a" {
		t.Fatalf("Poll() = (%q, %v), want (\"a\", true)", v, ok)
	}

	if _, ok := m.Poll(); ok {
		t.Errorf("second Poll() returned ok=true, item must be consumed at most once")
	}
}

// TestOfferEvictsOldest validates drop-oldest semantics:
// offer(a), offer(b), poll() -> b, and exactly one drop counted.
func TestOfferEvictsOldest(t *testing.T) {
	m := coord.NewMailbox[string]()

	m.Offer("a")
	m.Offer("b")

	if m.Len() != 1 {
		t.Fatalf("Len() = %d after two offers, want 1", m.Len())
	}

	v, ok := m.Poll()
	if !ok || v != "b" {
		t.Fatalf("Poll() = (%q, %v), want (\"b\", true)", v, ok)
	}

	stats := m.Stats()
	if stats.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", stats.Dropped)
	}
	if stats.Offered != 2 || stats.Polled != 1 {
		t.Errorf("Offered/Polled = %d/%d, want 2/1", stats.Offered, stats.Polled)
	}
}

// TestOfferNonBlocking validates Offer returns immediately with nobody polling.
func TestOfferNonBlocking(t *testing.T) {
	m := coord.NewMailbox[[]byte]()
	buf := make([]byte, 640*480*3)

	start := time.Now()
	for i := 0; i < 1000; i++ {
		m.Offer(buf)
	}
	elapsed := time.Since(start)

	if elapsed > 100*time.Millisecond {
		t.Errorf("Offer() blocked: 1000 offers took %v", elapsed)
	}
	if got := m.Stats().Dropped; got != 999 {
		t.Errorf("Dropped = %d, want 999", got)
	}
}

// TestConcurrentOfferPoll checks the slot never holds more than one item and
// every offered item is either polled or dropped.
func TestConcurrentOfferPoll(t *testing.T) {
	m := coord.NewMailbox[int]()
	const n = 10000

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			m.Offer(i)
		}
	}()

	var received []int
	go func() {
		defer wg.Done()
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if v, ok := m.Poll(); ok {
				received = append(received, v)
				if v == n-1 {
					return
				}
			}
			if m.Len() > 1 {
				t.Errorf("Len() > 1")
				return
			}
		}
	}()

	wg.Wait()

	for i := 1; i < len(received); i++ {
		if received[i] <= received[i-1] {
			t.Fatalf("items out of order: %d after %d", received[i], received[i-1])
		}
	}

	stats := m.Stats()
	if stats.Polled+stats.Dropped+uint64(m.Len()) != n {
		t.Errorf("polled(%d) + dropped(%d) + pending(%d) != offered(%d)",
			stats.Polled, stats.Dropped, m.Len(), n)
	}
	t.Logf("received %d of %d items, dropped %d", len(received), n, stats.Dropped)
}
