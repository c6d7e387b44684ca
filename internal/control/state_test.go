package control

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/e7canasta/coop-sensor/internal/sink"
)

func TestLevelPercent(t *testing.T) {
	tests := []struct {
		name     string
		distance float64
		want     float64
	}{
		{"at full", 10, 100},
		{"above full", 2, 100},
		{"at empty", 300, 0},
		{"beyond empty", 420, 0},
		{"midpoint", 155, 50},
		{"rounded", 100, 68.97},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, LevelPercent(tt.distance, 10, 300))
		})
	}
}

func TestDispenserWindow(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	var d Dispenser

	require.True(t, d.Trigger(t0, 5*time.Second))
	require.True(t, d.Active())

	// Re-trigger while counting does not extend the window
	require.False(t, d.Trigger(t0.Add(3*time.Second), 5*time.Second))
	require.Equal(t, 2*time.Second, d.Remaining(t0.Add(3*time.Second)))

	require.False(t, d.Update(t0.Add(4999*time.Millisecond)))
	require.True(t, d.Active())

	require.True(t, d.Update(t0.Add(5*time.Second)))
	require.False(t, d.Active())
	require.Zero(t, d.Remaining(t0.Add(6*time.Second)))

	require.True(t, d.Trigger(t0.Add(6*time.Second), time.Second))
}

func TestDispenserIgnoresZeroDuration(t *testing.T) {
	var d Dispenser
	require.False(t, d.Trigger(time.Now(), 0))
	require.False(t, d.Active())
}

func TestDispenseDuration(t *testing.T) {
	require.Equal(t, 5*time.Second, DispenseDuration(5*time.Second, 100))
	require.Equal(t, 2500*time.Millisecond, DispenseDuration(5*time.Second, 50))
	require.Equal(t, 5*time.Second, DispenseDuration(5*time.Second, 0))
}

func TestRefillerHysteresis(t *testing.T) {
	var r Refiller
	in := RefillInput{AutoEnabled: true, AutoThreshold: 30, StopLevel: 95}

	in.Level = 40
	started, stopped := r.Update(in)
	require.False(t, started)
	require.False(t, stopped)

	in.Level = 30
	started, _ = r.Update(in)
	require.True(t, started)
	require.True(t, r.Active())

	// Keeps running between the thresholds
	in.Level = 60
	started, stopped = r.Update(in)
	require.False(t, started)
	require.False(t, stopped)
	require.True(t, r.Active())

	in.Level = 95
	_, stopped = r.Update(in)
	require.True(t, stopped)
	require.False(t, r.Active())

	// Does not restart above the low threshold
	in.Level = 80
	started, _ = r.Update(in)
	require.False(t, started)
}

func TestRefillerManual(t *testing.T) {
	var r Refiller

	started, _ := r.Update(RefillInput{Level: 95, StopLevel: 95, Manual: true})
	require.False(t, started, "manual refill ignored when already full")

	started, _ = r.Update(RefillInput{Level: 70, StopLevel: 95, Manual: true})
	require.True(t, started)

	started, _ = r.Update(RefillInput{Level: 10, AutoEnabled: false, StopLevel: 95})
	require.False(t, started)
	require.True(t, r.Active())
}

func TestScheduleFiresOncePerMinute(t *testing.T) {
	tracker := NewScheduleTracker()
	// 2026-03-02 is a Monday
	at := time.Date(2026, 3, 2, 7, 30, 0, 0, time.UTC)
	schedules := []sink.Schedule{
		{ID: "morning", Enabled: true, Time: "07:30", Days: []int{1}, VolumePercent: 50},
		{ID: "weekend", Enabled: true, Time: "07:30", Days: []int{0, 6}},
		{ID: "off", Enabled: false, Time: "07:30", Days: []int{1}},
	}

	due := tracker.Due(at, schedules, time.Minute)
	require.Len(t, due, 1)
	require.Equal(t, "morning", due[0].ID)

	require.Empty(t, tracker.Due(at.Add(20*time.Second), schedules, time.Minute))
	require.Empty(t, tracker.Due(at.Add(59*time.Second), schedules, time.Minute))

	// Leaving the minute forgets the entry
	require.Empty(t, tracker.Due(at.Add(time.Minute), schedules, time.Minute))
	require.Zero(t, tracker.Len())

	// Next Monday it fires again
	due = tracker.Due(at.AddDate(0, 0, 7), schedules, time.Minute)
	require.Len(t, due, 1)
}

func TestScheduleFiresOnceAcrossTicksAndNextDay(t *testing.T) {
	tracker := NewScheduleTracker()
	schedules := []sink.Schedule{
		{ID: "daily", Enabled: true, Time: "08:00", Days: []int{0, 1, 2, 3, 4, 5, 6}},
	}
	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	fired := 0
	for i := 0; i < 600; i++ {
		fired += len(tracker.Due(at.Add(time.Duration(i)*100*time.Millisecond), schedules, time.Minute))
	}
	require.Equal(t, 1, fired)

	require.Empty(t, tracker.Due(at.Add(time.Minute), schedules, time.Minute))
	require.Len(t, tracker.Due(at.Add(24*time.Hour), schedules, time.Minute), 1)
}

func TestScheduleTrackerPrunesDeleted(t *testing.T) {
	tracker := NewScheduleTracker()
	at := time.Date(2026, 3, 2, 7, 30, 0, 0, time.UTC)
	schedules := []sink.Schedule{{ID: "a", Enabled: true, Time: "07:30", Days: []int{1}}}

	require.Len(t, tracker.Due(at, schedules, time.Minute), 1)
	require.Equal(t, 1, tracker.Len())

	require.Empty(t, tracker.Due(at.Add(time.Second), nil, time.Minute))
	require.Zero(t, tracker.Len())
}

func TestScheduleInvalidTimeNeverFires(t *testing.T) {
	tracker := NewScheduleTracker()
	at := time.Date(2026, 3, 2, 7, 30, 0, 0, time.UTC)
	schedules := []sink.Schedule{{ID: "bad", Enabled: true, Time: "7h30", Days: []int{1}}}
	require.Empty(t, tracker.Due(at, schedules, time.Minute))
}

func TestEdgeRising(t *testing.T) {
	var e Edge
	samples := []bool{false, true, true, true, false, true}
	want := []bool{false, true, false, false, false, true}
	for i, s := range samples {
		require.Equal(t, want[i], e.Rising(s), "sample %d", i)
	}
}

func TestAppTrigger(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	var a AppTrigger

	require.False(t, a.Fire(time.Time{}, now, time.Minute))

	// Stale press from before boot is consumed silently
	stale := now.Add(-10 * time.Minute)
	require.False(t, a.Fire(stale, now, time.Minute))
	require.False(t, a.Fire(stale, now, time.Minute))

	fresh := now.Add(-5 * time.Second)
	require.True(t, a.Fire(fresh, now, time.Minute))
	require.False(t, a.Fire(fresh, now.Add(time.Second), time.Minute))

	// App clock slightly ahead
	ahead := now.Add(10 * time.Second)
	require.True(t, a.Fire(ahead, now, time.Minute))
}
