package sink

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/e7canasta/coop-sensor/internal/types"
)

func newTestDevice(t *testing.T) (*Device, *Memory) {
	t.Helper()
	m := NewMemory()
	return NewDevice(m, "u1", "d1", time.UTC), m
}

func TestReadSchedulesSortedWithIDs(t *testing.T) {
	ctx := context.Background()
	d, m := newTestDevice(t)

	require.NoError(t, m.Set(ctx, "schedules/u1/b", Schedule{Enabled: true, Time: "07:30", Days: []int{1}}))
	require.NoError(t, m.Set(ctx, "schedules/u1/a", Schedule{Enabled: false, Time: "18:00", Days: []int{0, 6}}))

	got, err := d.ReadSchedules(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "a", got[0].ID)
	require.Equal(t, "b", got[1].ID)

	h, minute, err := got[1].Clock()
	require.NoError(t, err)
	require.Equal(t, 7, h)
	require.Equal(t, 30, minute)
	require.True(t, got[0].OnDay(time.Saturday))
	require.False(t, got[0].OnDay(time.Monday))
}

func TestReadSchedulesAbsent(t *testing.T) {
	d, _ := newTestDevice(t)
	got, err := d.ReadSchedules(context.Background())
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestReadButtons(t *testing.T) {
	ctx := context.Background()
	d, m := newTestDevice(t)

	require.NoError(t, m.Set(ctx, "buttons/u1/d1/feedButton", ButtonDoc{LastUpdateAt: "03/14/2025 08:15:30"}))
	require.NoError(t, m.Set(ctx, "buttons/u1/d1/waterButton", ButtonDoc{LastUpdateAt: "garbage"}))

	b, err := d.ReadButtons(ctx)
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, 3, 14, 8, 15, 30, 0, time.UTC), b.Feed)
	require.True(t, b.Water.IsZero())
}

func TestReadLiveStreamDefaultsOff(t *testing.T) {
	d, _ := newTestDevice(t)
	ls, err := d.ReadLiveStream(context.Background())
	require.NoError(t, err)
	require.False(t, ls.LiveStreamButton)
	require.False(t, ls.Annotated)
}

func TestPublishFrameAndCounts(t *testing.T) {
	ctx := context.Background()
	d, m := newTestDevice(t)
	at := time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC)

	require.NoError(t, m.Set(ctx, "liveStream/u1/d1/liveStreamButton", true))
	require.NoError(t, d.PublishFrame(ctx, "Zm9v", at))
	require.NoError(t, d.PublishCounts(ctx, types.DetectionCounts{Chickens: 3, Intruders: 1}, at))

	var ls map[string]any
	require.NoError(t, m.Get(ctx, "liveStream/u1/d1", &ls))
	require.Equal(t, "Zm9v", ls["base64"])
	require.Equal(t, "03/14/2025 08:00:00", ls["lastUpdateAt"])
	require.Equal(t, true, ls["liveStreamButton"])

	var counts struct {
		Chickens  uint `json:"chickens"`
		Intruders uint `json:"intruders"`
	}
	require.NoError(t, m.Get(ctx, "detections/u1/d1", &counts))
	require.Equal(t, uint(3), counts.Chickens)
	require.Equal(t, uint(1), counts.Intruders)
}

func TestRecordDispense(t *testing.T) {
	ctx := context.Background()
	d, m := newTestDevice(t)
	at := time.Date(2025, 3, 16, 18, 5, 9, 0, time.UTC) // Sunday

	require.NoError(t, d.RecordDispense(ctx, "feed", 50, at))
	require.NoError(t, d.RecordDispense(ctx, "water", 100, at))
	require.Error(t, d.RecordDispense(ctx, "grain", 1, at))

	var stamp DispenseStamp
	require.NoError(t, m.Get(ctx, "sensors/u1/lastFeedDispense", &stamp))
	require.Equal(t, "3/16/2025", stamp.Date)
	require.Equal(t, "18:05:09", stamp.Time)
	require.Equal(t, at.UnixMilli(), stamp.Timestamp)

	var logs map[string]DispenseLog
	require.NoError(t, m.Get(ctx, "analytics/logs/u1", &logs))
	require.Len(t, logs, 2)
	for _, l := range logs {
		require.Equal(t, "u1", l.UserID)
		require.Equal(t, 0, l.DayOfWeek)
		if l.Type == "feed" {
			require.Equal(t, "dispense", l.Action)
			require.Equal(t, 50.0, l.VolumePercent)
		} else {
			require.Equal(t, "refill", l.Action)
		}
	}
}
