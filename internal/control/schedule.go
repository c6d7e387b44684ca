package control

import (
	"time"

	"github.com/e7canasta/coop-sensor/internal/sink"
)

// ScheduleTracker remembers when each schedule last fired so that a
// schedule triggers at most once per scheduled minute.
type ScheduleTracker struct {
	last map[string]time.Time
}

// NewScheduleTracker returns an empty tracker.
func NewScheduleTracker() *ScheduleTracker {
	return &ScheduleTracker{last: make(map[string]time.Time)}
}

// Due returns the schedules that fire at now and records them.
//
// A schedule fires when it is enabled, runs on now's weekday, its HH:MM
// equals now's HH:MM, and it has not fired within cooldown. Entries are
// dropped once the clock leaves the scheduled minute, so the same schedule
// fires again the next matching day. Schedules with an unparseable time
// never fire.
func (t *ScheduleTracker) Due(now time.Time, schedules []sink.Schedule, cooldown time.Duration) []sink.Schedule {
	var due []sink.Schedule
	seen := make(map[string]bool, len(schedules))

	for _, s := range schedules {
		seen[s.ID] = true

		hour, minute, err := s.Clock()
		if err != nil {
			delete(t.last, s.ID)
			continue
		}
		inMinute := now.Hour() == hour && now.Minute() == minute

		if !inMinute {
			delete(t.last, s.ID)
			continue
		}
		if !s.Enabled || !s.OnDay(now.Weekday()) {
			continue
		}
		if last, ok := t.last[s.ID]; ok && now.Sub(last) < cooldown {
			continue
		}

		t.last[s.ID] = now
		due = append(due, s)
	}

	// Schedules deleted remotely
	for id := range t.last {
		if !seen[id] {
			delete(t.last, id)
		}
	}
	return due
}

// Len returns the number of tracked schedules.
func (t *ScheduleTracker) Len() int { return len(t.last) }
