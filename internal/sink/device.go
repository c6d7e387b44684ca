package sink

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/e7canasta/coop-sensor/internal/types"
)

// Device binds a Store to one user/device pair and knows where the app
// expects each document.
type Device struct {
	store Store
	uid   string
	dev   string
	loc   *time.Location
}

// NewDevice returns a Device. loc is used to parse app button timestamps.
func NewDevice(store Store, userID, deviceID string, loc *time.Location) *Device {
	if loc == nil {
		loc = time.Local
	}
	return &Device{store: store, uid: userID, dev: deviceID, loc: loc}
}

// Store returns the underlying store.
func (d *Device) Store() Store { return d.store }

func (d *Device) settingsPath() string   { return joinPath("settings", d.uid) }
func (d *Device) schedulesPath() string  { return joinPath("schedules", d.uid) }
func (d *Device) sensorsPath() string    { return joinPath("sensors", d.uid) }
func (d *Device) analyticsPath() string  { return joinPath("analytics", "logs", d.uid) }
func (d *Device) buttonsPath() string    { return joinPath("buttons", d.uid, d.dev) }
func (d *Device) liveStreamPath() string { return joinPath("liveStream", d.uid, d.dev) }
func (d *Device) detectionsPath() string { return joinPath("detections", d.uid, d.dev) }
func (d *Device) actuatorsPath() string  { return joinPath("actuators", d.uid, d.dev) }

// ReadSettings returns the user's settings. ErrNotFound when never saved.
func (d *Device) ReadSettings(ctx context.Context) (Settings, error) {
	var s Settings
	err := d.store.Get(ctx, d.settingsPath(), &s)
	return s, err
}

// ReadSchedules returns every schedule ordered by ID. Absent means none.
func (d *Device) ReadSchedules(ctx context.Context) ([]Schedule, error) {
	var byID map[string]Schedule
	if err := d.store.Get(ctx, d.schedulesPath(), &byID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	out := make([]Schedule, 0, len(byID))
	for id, s := range byID {
		s.ID = id
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ReadButtons returns the last app press of each button.
// Unparseable timestamps read as zero.
func (d *Device) ReadButtons(ctx context.Context) (AppButtons, error) {
	var docs map[string]ButtonDoc
	if err := d.store.Get(ctx, d.buttonsPath(), &docs); err != nil {
		if errors.Is(err, ErrNotFound) {
			return AppButtons{}, nil
		}
		return AppButtons{}, err
	}
	return AppButtons{
		Feed:  d.parseButton(docs["feedButton"]),
		Water: d.parseButton(docs["waterButton"]),
	}, nil
}

func (d *Device) parseButton(doc ButtonDoc) time.Time {
	if doc.LastUpdateAt == "" {
		return time.Time{}
	}
	t, err := time.ParseInLocation(ButtonLayout, doc.LastUpdateAt, d.loc)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ReadLiveStream returns the live streaming switches. Absent means both off.
func (d *Device) ReadLiveStream(ctx context.Context) (LiveStream, error) {
	var ls LiveStream
	if err := d.store.Get(ctx, d.liveStreamPath(), &ls); err != nil && !errors.Is(err, ErrNotFound) {
		return LiveStream{}, err
	}
	return ls, nil
}

// PublishFrame writes a base64 JPEG for the app's live view.
func (d *Device) PublishFrame(ctx context.Context, jpegBase64 string, at time.Time) error {
	return d.store.Update(ctx, d.liveStreamPath(), map[string]any{
		"base64":       jpegBase64,
		"lastUpdateAt": at.In(d.loc).Format(ButtonLayout),
	})
}

// PublishCounts writes the latest detection tally.
func (d *Device) PublishCounts(ctx context.Context, c types.DetectionCounts, at time.Time) error {
	return d.store.Set(ctx, d.detectionsPath(), map[string]any{
		"chickens":  c.Chickens,
		"intruders": c.Intruders,
		"updatedAt": at.UnixMilli(),
	})
}

// PublishLevels writes feed and water fill percentages.
func (d *Device) PublishLevels(ctx context.Context, feed, water float64, at time.Time) error {
	return d.store.Update(ctx, d.sensorsPath(), map[string]any{
		"feedLevel":  feed,
		"waterLevel": water,
		"updatedAt":  at.UnixMilli(),
	})
}

// PublishActuators writes the current actuator states.
func (d *Device) PublishActuators(ctx context.Context, feedOn, waterOn bool, at time.Time) error {
	return d.store.Set(ctx, d.actuatorsPath(), map[string]any{
		"feedDispenser": feedOn,
		"waterRefill":   waterOn,
		"updatedAt":     at.UnixMilli(),
	})
}

// RecordDispense stamps lastFeedDispense or lastWaterDispense and appends an
// analytics log entry. kind is "feed" or "water".
func (d *Device) RecordDispense(ctx context.Context, kind string, volumePercent float64, at time.Time) error {
	var field, action string
	switch kind {
	case "feed":
		field, action = "lastFeedDispense", "dispense"
	case "water":
		field, action = "lastWaterDispense", "refill"
	default:
		return fmt.Errorf("unknown dispense kind %q", kind)
	}

	local := at.In(d.loc)
	if err := d.store.Set(ctx, joinPath(d.sensorsPath(), field), NewDispenseStamp(local)); err != nil {
		return err
	}

	entry := DispenseLog{
		UserID:        d.uid,
		Type:          kind,
		Action:        action,
		VolumePercent: volumePercent,
		Timestamp:     local.UnixMilli(),
		Date:          local.Format(DateLayout),
		Time:          local.Format(TimeLayout),
		DayOfWeek:     int(local.Weekday()),
	}
	if _, err := d.store.Push(ctx, d.analyticsPath(), entry); err != nil {
		return fmt.Errorf("analytics log: %w", err)
	}
	return nil
}
