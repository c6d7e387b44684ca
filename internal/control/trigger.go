package control

import "time"

// Edge turns a level (button held) into a single rising-edge event.
type Edge struct {
	prev bool
}

// Rising returns true only on the first sample where pressed goes true.
func (e *Edge) Rising(pressed bool) bool {
	fire := pressed && !e.prev
	e.prev = pressed
	return fire
}

// AppTrigger consumes app button timestamps. Each distinct press fires at
// most once, and only while it is fresh: a press left over from before the
// device booted is consumed silently.
type AppTrigger struct {
	consumed time.Time
}

// Fire reports whether pressedAt is a new press within freshness of now.
func (a *AppTrigger) Fire(pressedAt, now time.Time, freshness time.Duration) bool {
	if pressedAt.IsZero() || !pressedAt.After(a.consumed) {
		return false
	}
	a.consumed = pressedAt

	age := now.Sub(pressedAt)
	if age < 0 {
		age = -age // app clock ahead of device clock
	}
	return age <= freshness
}
