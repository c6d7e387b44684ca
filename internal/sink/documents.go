package sink

import (
	"fmt"
	"time"
)

// Layouts used by the companion app (en-US locale, 24h clock)
const (
	ButtonLayout = "01/02/2006 15:04:05"
	DateLayout   = "1/2/2006"
	TimeLayout   = "15:04:05"
)

// Settings mirrors settings/{uid}
type Settings struct {
	Feed  FeedSettings  `json:"feed"`
	Water WaterSettings `json:"water"`
}

// FeedSettings is the feed section of Settings
type FeedSettings struct {
	ThresholdPercent      float64 `json:"thresholdPercent"`
	DispenseVolumePercent float64 `json:"dispenseVolumePercent"`
}

// WaterSettings is the water section of Settings.
// AutoRefillEnabled is a pointer so an absent field keeps the device default.
type WaterSettings struct {
	ThresholdPercent    float64 `json:"thresholdPercent"`
	AutoRefillEnabled   *bool   `json:"autoRefillEnabled,omitempty"`
	AutoRefillThreshold float64 `json:"autoRefillThreshold"`
}

// Schedule mirrors schedules/{uid}/{id}
type Schedule struct {
	ID            string  `json:"-"`
	Enabled       bool    `json:"enabled"`
	Time          string  `json:"time"` // HH:MM
	Days          []int   `json:"days"` // 0=Sunday
	VolumePercent float64 `json:"volumePercent"`
}

// Clock parses Time into hour and minute.
func (s Schedule) Clock() (hour, minute int, err error) {
	t, err := time.Parse("15:04", s.Time)
	if err != nil {
		return 0, 0, fmt.Errorf("schedule %s: invalid time %q: %w", s.ID, s.Time, err)
	}
	return t.Hour(), t.Minute(), nil
}

// OnDay reports whether the schedule runs on weekday d.
func (s Schedule) OnDay(d time.Weekday) bool {
	for _, day := range s.Days {
		if day == int(d) {
			return true
		}
	}
	return false
}

// ButtonDoc mirrors buttons/{uid}/{dev}/{button}
type ButtonDoc struct {
	LastUpdateAt string `json:"lastUpdateAt"`
}

// AppButtons holds the last press time of each app button. Zero means never.
type AppButtons struct {
	Feed  time.Time
	Water time.Time
}

// LiveStream mirrors the control fields of liveStream/{uid}/{dev}
type LiveStream struct {
	LiveStreamButton bool `json:"liveStreamButton"`
	Annotated        bool `json:"annotated"`
}

// DispenseStamp mirrors sensors/{uid}/lastFeedDispense and lastWaterDispense
type DispenseStamp struct {
	Date      string `json:"date"`
	Time      string `json:"time"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
}

// DispenseLog mirrors an entry of analytics/logs/{uid}
type DispenseLog struct {
	UserID        string  `json:"userId"`
	Type          string  `json:"type"`   // feed, water
	Action        string  `json:"action"` // dispense, refill
	VolumePercent float64 `json:"volumePercent"`
	Timestamp     int64   `json:"timestamp"`
	Date          string  `json:"date"`
	Time          string  `json:"time"`
	DayOfWeek     int     `json:"dayOfWeek"`
}

// NewDispenseStamp formats t the way the app displays it.
func NewDispenseStamp(t time.Time) DispenseStamp {
	return DispenseStamp{
		Date:      t.Format(DateLayout),
		Time:      t.Format(TimeLayout),
		Timestamp: t.UnixMilli(),
	}
}
