package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/coop-sensor/internal/coord"
	"github.com/e7canasta/coop-sensor/internal/hardware"
	"github.com/e7canasta/coop-sensor/internal/sink"
	"github.com/e7canasta/coop-sensor/internal/types"
)

// Policy holds the user-tunable thresholds. Remote settings override the
// configured defaults field by field.
type Policy struct {
	FeedThreshold         float64
	WaterThreshold        float64
	DispenseVolumePercent float64
	AutoRefillEnabled     bool
	AutoRefillThreshold   float64
	// RefillTarget is the level auto and manual refills fill up to.
	// Zero means Config.MaxRefillLevel.
	RefillTarget float64
}

// Config contains control worker settings
type Config struct {
	TickInterval       time.Duration
	RemoteRefresh      time.Duration
	PublishInterval    time.Duration
	DispenseDuration   time.Duration
	ScheduleCooldown   time.Duration
	AppButtonFreshness time.Duration
	SinkTimeout        time.Duration
	MaxRefillLevel     float64
	FullDistanceCM     float64
	EmptyDistanceCM    float64
	Defaults           Policy
	// Location is the device timezone schedules are matched in.
	// Nil keeps the zone of the tick time.
	Location *time.Location
}

// Remote is the data sink as seen by the control worker. *sink.Device implements it.
type Remote interface {
	ReadSettings(ctx context.Context) (sink.Settings, error)
	ReadSchedules(ctx context.Context) ([]sink.Schedule, error)
	ReadButtons(ctx context.Context) (sink.AppButtons, error)
	ReadLiveStream(ctx context.Context) (sink.LiveStream, error)
	PublishLevels(ctx context.Context, feed, water float64, at time.Time) error
	PublishActuators(ctx context.Context, feedOn, waterOn bool, at time.Time) error
	RecordDispense(ctx context.Context, kind string, volumePercent float64, at time.Time) error
}

// Deps are the control worker's collaborators
type Deps struct {
	Board     *hardware.Board
	Remote    Remote
	Live      *coord.Flag // written only by this worker
	Annotated *coord.Flag // written only by this worker
	Health    *coord.Health
	Logger    *slog.Logger
	Now       func() time.Time // defaults to time.Now
}

// Status is a snapshot of the control state for the health endpoint
type Status struct {
	FeedLevel    float64 `json:"feed_level"`
	WaterLevel   float64 `json:"water_level"`
	Dispensing   bool    `json:"dispensing"`
	Refilling    bool    `json:"refilling"`
	FeedLow      bool    `json:"feed_low"`
	WaterLow     bool    `json:"water_low"`
	Schedules    int     `json:"schedules"`
	RemoteStale  bool    `json:"remote_stale"`
	SensorErrors uint64  `json:"sensor_errors"`
}

// Worker runs the dispense and refill state machines against the board.
type Worker struct {
	cfg  Config
	deps Deps
	log  *slog.Logger

	// state machines (owned by the Run goroutine)
	dispenser Dispenser
	refiller  Refiller
	tracker   *ScheduleTracker
	feedEdge  Edge
	waterEdge Edge
	feedApp   AppTrigger
	waterApp  AppTrigger

	// last known inputs
	policy      Policy
	schedules   []sink.Schedule
	feedLevel   float64
	waterLevel  float64
	feedOK      bool
	waterOK     bool
	lastRefresh time.Time
	lastPublish time.Time
	remoteStale bool

	// actuator state as last applied to hardware
	feedApplied  *bool
	waterApplied *bool

	feedLow  bool
	waterLow bool

	sensorFailing bool

	ticks        uint64
	sensorErrors uint64
	sinkErrors   uint64
	published    uint64
	running      atomic.Bool
	lastSeen     atomic.Value // time.Time

	statusMu sync.RWMutex
	status   Status
}

// New creates a control worker
func New(cfg Config, deps Deps) *Worker {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 100 * time.Millisecond
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = 2 * time.Second
	}
	return &Worker{
		cfg:     cfg,
		deps:    deps,
		log:     deps.Logger.With("component", "control"),
		tracker: NewScheduleTracker(),
		policy:  cfg.Defaults,
	}
}

// ID returns the worker name
func (w *Worker) ID() string { return "control" }

// Run ticks until the health signal is cleared or ctx is done.
// Actuators are switched off on entry and on exit.
func (w *Worker) Run(ctx context.Context) error {
	w.running.Store(true)
	defer w.running.Store(false)
	defer w.safeStop()

	w.log.Info("control worker started",
		"tick", w.cfg.TickInterval,
		"dispense_duration", w.cfg.DispenseDuration,
		"max_refill_level", w.cfg.MaxRefillLevel,
	)

	w.applyActuators(false, false)

	ticker := time.NewTicker(w.cfg.TickInterval)
	defer ticker.Stop()

	for w.deps.Health.Healthy() {
		w.Tick(ctx, w.deps.Now())

		select {
		case <-ctx.Done():
			return nil
		case <-w.deps.Health.Done():
		case <-ticker.C:
		}
	}

	w.log.Info("control worker stopped",
		"ticks", atomic.LoadUint64(&w.ticks),
		"reason", w.deps.Health.Reason(),
	)
	return nil
}

// Tick runs one control iteration at now.
func (w *Worker) Tick(ctx context.Context, now time.Time) {
	if w.cfg.Location != nil {
		now = now.In(w.cfg.Location)
	}
	atomic.AddUint64(&w.ticks, 1)
	w.lastSeen.Store(now)

	if !w.readSensors() {
		return
	}
	feedPressed, waterPressed, ok := w.readButtons()
	if !ok {
		return
	}

	var app sink.AppButtons
	if w.lastRefresh.IsZero() || now.Sub(w.lastRefresh) >= w.cfg.RemoteRefresh {
		app = w.refreshRemote(ctx)
		w.lastRefresh = now
	}

	// Dispense
	w.dispenser.Update(now)
	fire, volume, source := w.feedTrigger(now, feedPressed, app.Feed)
	if fire {
		d := DispenseDuration(w.cfg.DispenseDuration, volume)
		if w.dispenser.Trigger(now, d) {
			w.log.Info("feed dispense started",
				"source", source,
				"volume_percent", volume,
				"duration", d,
				"feed_level", w.feedLevel,
			)
			w.record(ctx, "feed", volume, now)
		} else {
			w.log.Debug("feed trigger ignored, dispense in progress",
				"source", source,
				"remaining", w.dispenser.Remaining(now),
			)
		}
	}

	// Refill
	manual := w.waterEdge.Rising(waterPressed) ||
		w.waterApp.Fire(app.Water, now, w.cfg.AppButtonFreshness)
	if w.waterOK {
		started, stopped := w.refiller.Update(RefillInput{
			Level:         w.waterLevel,
			AutoEnabled:   w.policy.AutoRefillEnabled,
			AutoThreshold: w.policy.AutoRefillThreshold,
			StopLevel:     w.stopLevel(),
			Manual:        manual,
		})
		if started {
			w.log.Info("water refill started", "water_level", w.waterLevel, "manual", manual)
			w.record(ctx, "water", 100, now)
		}
		if stopped {
			w.log.Info("water refill finished", "water_level", w.waterLevel)
		}
	}

	changed := w.applyActuators(w.dispenser.Active(), w.refiller.Active())
	w.checkWarnings()

	if changed || now.Sub(w.lastPublish) >= w.cfg.PublishInterval {
		w.publish(ctx, now)
		w.lastPublish = now
	}
	w.updateStatus()
}

// readSensors refreshes both levels. Returns false if the worker must stop.
func (w *Worker) readSensors() bool {
	feedCM, feedErr := w.deps.Board.FeedLevel.DistanceCM()
	waterCM, waterErr := w.deps.Board.WaterLevel.DistanceCM()

	for _, err := range []error{feedErr, waterErr} {
		if errors.Is(err, hardware.ErrGone) {
			w.log.Error("level sensor unavailable, shutting down", "error", err)
			w.deps.Health.Fail(fmt.Sprintf("control: %v", err))
			return false
		}
	}

	if feedErr == nil {
		w.feedLevel = LevelPercent(feedCM, w.cfg.FullDistanceCM, w.cfg.EmptyDistanceCM)
		w.feedOK = true
	}
	if waterErr == nil {
		w.waterLevel = LevelPercent(waterCM, w.cfg.FullDistanceCM, w.cfg.EmptyDistanceCM)
		w.waterOK = true
	}

	failing := feedErr != nil || waterErr != nil
	if failing {
		atomic.AddUint64(&w.sensorErrors, 1)
		if !w.sensorFailing {
			w.log.Warn("level sensor read failed, keeping last value",
				"feed_error", feedErr,
				"water_error", waterErr,
			)
		}
	} else if w.sensorFailing {
		w.log.Info("level sensors recovered")
	}
	w.sensorFailing = failing
	return true
}

// readButtons samples the physical buttons. Returns ok=false if the worker must stop.
func (w *Worker) readButtons() (feed, water, ok bool) {
	var err error
	if feed, err = w.deps.Board.FeedButton.Pressed(); err != nil {
		if !w.buttonError(err) {
			return false, false, false
		}
		feed = false
	}
	if water, err = w.deps.Board.WaterButton.Pressed(); err != nil {
		if !w.buttonError(err) {
			return false, false, false
		}
		water = false
	}
	return feed, water, true
}

func (w *Worker) buttonError(err error) bool {
	if errors.Is(err, hardware.ErrGone) {
		w.log.Error("button input unavailable, shutting down", "error", err)
		w.deps.Health.Fail(fmt.Sprintf("control: %v", err))
		return false
	}
	atomic.AddUint64(&w.sensorErrors, 1)
	w.log.Debug("button read failed", "error", err)
	return true
}

// refreshRemote pulls settings, schedules, live switches and app buttons.
// Each read failing independently keeps its last known value.
func (w *Worker) refreshRemote(ctx context.Context) sink.AppButtons {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.SinkTimeout)
	defer cancel()

	var failed []string

	settings, err := w.deps.Remote.ReadSettings(ctx)
	switch {
	case err == nil:
		w.policy = mergePolicy(w.cfg.Defaults, settings)
	case errors.Is(err, sink.ErrNotFound):
		w.policy = w.cfg.Defaults
	default:
		failed = append(failed, "settings")
	}

	if schedules, err := w.deps.Remote.ReadSchedules(ctx); err == nil {
		w.schedules = schedules
	} else {
		failed = append(failed, "schedules")
	}

	if ls, err := w.deps.Remote.ReadLiveStream(ctx); err == nil {
		w.deps.Live.Store(ls.LiveStreamButton)
		w.deps.Annotated.Store(ls.Annotated)
	} else {
		failed = append(failed, "liveStream")
	}

	app, err := w.deps.Remote.ReadButtons(ctx)
	if err != nil {
		failed = append(failed, "buttons")
	}

	stale := len(failed) > 0
	if stale {
		atomic.AddUint64(&w.sinkErrors, 1)
		if !w.remoteStale {
			w.log.Warn("remote read failed, using last known values", "failed", failed)
		}
	} else if w.remoteStale {
		w.log.Info("remote reads recovered")
	}
	w.remoteStale = stale
	return app
}

func mergePolicy(defaults Policy, s sink.Settings) Policy {
	p := defaults
	if s.Feed.ThresholdPercent > 0 {
		p.FeedThreshold = s.Feed.ThresholdPercent
	}
	if s.Feed.DispenseVolumePercent > 0 {
		p.DispenseVolumePercent = s.Feed.DispenseVolumePercent
	}
	if s.Water.ThresholdPercent > 0 {
		p.WaterThreshold = s.Water.ThresholdPercent
	}
	// the app's autoRefillThreshold is the level to refill up to
	if s.Water.AutoRefillThreshold > 0 {
		p.RefillTarget = s.Water.AutoRefillThreshold
	}
	if s.Water.AutoRefillEnabled != nil {
		p.AutoRefillEnabled = *s.Water.AutoRefillEnabled
	}
	return p
}

// stopLevel is the refill target capped at MaxRefillLevel. A target at or
// below the start threshold is ignored.
func (w *Worker) stopLevel() float64 {
	target := w.policy.RefillTarget
	if target <= 0 || target > w.cfg.MaxRefillLevel || target <= w.policy.AutoRefillThreshold {
		return w.cfg.MaxRefillLevel
	}
	return target
}

// feedTrigger merges the three dispense sources. The first match wins.
func (w *Worker) feedTrigger(now time.Time, pressed bool, appPress time.Time) (bool, float64, string) {
	physical := w.feedEdge.Rising(pressed)
	app := w.feedApp.Fire(appPress, now, w.cfg.AppButtonFreshness)
	due := w.tracker.Due(now, w.schedules, w.cfg.ScheduleCooldown)

	switch {
	case physical:
		return true, w.policy.DispenseVolumePercent, "button"
	case app:
		return true, w.policy.DispenseVolumePercent, "app"
	case len(due) > 0:
		return true, due[0].VolumePercent, "schedule:" + due[0].ID
	}
	return false, 0, ""
}

// applyActuators drives the outputs when the desired state differs from
// what was last applied. Returns true if anything changed.
func (w *Worker) applyActuators(feedOn, waterOn bool) bool {
	changed := false
	if w.feedApplied == nil || *w.feedApplied != feedOn {
		if w.switchActuator("feed dispenser", w.deps.Board.FeedDispenser, feedOn) {
			w.feedApplied = &feedOn
			changed = true
		}
	}
	if w.waterApplied == nil || *w.waterApplied != waterOn {
		if w.switchActuator("water pump", w.deps.Board.WaterPump, waterOn) {
			w.waterApplied = &waterOn
			changed = true
		}
	}
	return changed
}

func (w *Worker) switchActuator(name string, a hardware.Actuator, on bool) bool {
	var err error
	if on {
		err = a.On()
	} else {
		err = a.Off()
	}
	if err == nil {
		w.log.Debug("actuator switched", "actuator", name, "on", on)
		return true
	}

	if errors.Is(err, hardware.ErrGone) {
		w.log.Error("actuator unavailable, shutting down", "actuator", name, "error", err)
		w.deps.Health.Fail(fmt.Sprintf("control: %v", err))
		return false
	}
	// Not recorded as applied: the next tick tries again
	w.log.Warn("actuator switch failed", "actuator", name, "on", on, "error", err)
	return false
}

// safeStop switches every output off. Errors are only logged: we are exiting.
func (w *Worker) safeStop() {
	if err := w.deps.Board.FeedDispenser.Off(); err != nil {
		w.log.Warn("failed to stop feed dispenser", "error", err)
	}
	if err := w.deps.Board.WaterPump.Off(); err != nil {
		w.log.Warn("failed to stop water pump", "error", err)
	}
}

// checkWarnings logs low-level warnings on transition only
func (w *Worker) checkWarnings() {
	if w.feedOK {
		low := w.feedLevel <= w.policy.FeedThreshold
		if low && !w.feedLow {
			w.log.Warn("feed level low", "feed_level", w.feedLevel, "threshold", w.policy.FeedThreshold)
		}
		w.feedLow = low
	}
	if w.waterOK {
		low := w.waterLevel <= w.policy.WaterThreshold
		if low && !w.waterLow {
			w.log.Warn("water level low", "water_level", w.waterLevel, "threshold", w.policy.WaterThreshold)
		}
		w.waterLow = low
	}
}

// record stamps a dispense/refill in the sink. Failures are non-fatal.
func (w *Worker) record(ctx context.Context, kind string, volume float64, now time.Time) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.SinkTimeout)
	defer cancel()
	if err := w.deps.Remote.RecordDispense(ctx, kind, volume, now); err != nil {
		atomic.AddUint64(&w.sinkErrors, 1)
		w.log.Warn("failed to record dispense", "kind", kind, "error", err)
	}
}

func (w *Worker) publish(ctx context.Context, now time.Time) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.SinkTimeout)
	defer cancel()

	if w.feedOK && w.waterOK {
		if err := w.deps.Remote.PublishLevels(ctx, w.feedLevel, w.waterLevel, now); err != nil {
			atomic.AddUint64(&w.sinkErrors, 1)
			w.log.Debug("failed to publish levels", "error", err)
		} else {
			atomic.AddUint64(&w.published, 1)
		}
	}
	if err := w.deps.Remote.PublishActuators(ctx, w.dispenser.Active(), w.refiller.Active(), now); err != nil {
		atomic.AddUint64(&w.sinkErrors, 1)
		w.log.Debug("failed to publish actuator state", "error", err)
	}
}

func (w *Worker) updateStatus() {
	w.statusMu.Lock()
	w.status = Status{
		FeedLevel:    w.feedLevel,
		WaterLevel:   w.waterLevel,
		Dispensing:   w.dispenser.Active(),
		Refilling:    w.refiller.Active(),
		FeedLow:      w.feedLow,
		WaterLow:     w.waterLow,
		Schedules:    len(w.schedules),
		RemoteStale:  w.remoteStale,
		SensorErrors: atomic.LoadUint64(&w.sensorErrors),
	}
	w.statusMu.Unlock()
}

// Status returns the latest control snapshot. Safe from any goroutine.
func (w *Worker) Status() Status {
	w.statusMu.RLock()
	defer w.statusMu.RUnlock()
	return w.status
}

// Metrics returns worker counters
func (w *Worker) Metrics() types.WorkerMetrics {
	m := types.WorkerMetrics{
		Iterations: atomic.LoadUint64(&w.ticks),
		Errors:     atomic.LoadUint64(&w.sensorErrors) + atomic.LoadUint64(&w.sinkErrors),
		Published:  atomic.LoadUint64(&w.published),
		Running:    w.running.Load(),
	}
	if t, ok := w.lastSeen.Load().(time.Time); ok {
		m.LastSeenAt = t
	}
	return m
}
