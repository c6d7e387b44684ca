// Package core wires the coop device together and runs it.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/e7canasta/coop-sensor/internal/capture"
	"github.com/e7canasta/coop-sensor/internal/config"
	"github.com/e7canasta/coop-sensor/internal/control"
	"github.com/e7canasta/coop-sensor/internal/coord"
	"github.com/e7canasta/coop-sensor/internal/detector"
	"github.com/e7canasta/coop-sensor/internal/hardware"
	"github.com/e7canasta/coop-sensor/internal/netcheck"
	"github.com/e7canasta/coop-sensor/internal/relay"
	"github.com/e7canasta/coop-sensor/internal/sink"
	"github.com/e7canasta/coop-sensor/internal/types"
	"github.com/e7canasta/coop-sensor/internal/vision"
)

// ReasonSignal is the health reason used when the process is asked to stop.
const ReasonSignal = "signal"

var (
	// ErrUnhealthy is returned by Run when a worker cleared the health signal.
	ErrUnhealthy = errors.New("device unhealthy")

	// ErrAlreadyRunning means another coopd holds the lock file.
	ErrAlreadyRunning = errors.New("another instance is already running")
)

// Worker is a long-running loop supervised by core
type Worker interface {
	ID() string
	Run(ctx context.Context) error
	Metrics() types.WorkerMetrics
}

// Supervisor owns every shared resource and the worker goroutines
type Supervisor struct {
	cfg *config.Config
	log *slog.Logger

	// Shared state
	health    *coord.Health
	live      *coord.Flag
	annotated *coord.Flag
	online    *coord.Flag
	snapshots *coord.Mailbox[types.Snapshot]

	// Owned resources
	lock    *flock.Flock
	store   sink.Store
	device  *sink.Device
	board   *hardware.Board
	preview *vision.Preview
	loc     *time.Location

	// Workers
	vision   *vision.Worker
	relay    *relay.Worker
	control  *control.Worker
	netcheck *netcheck.Monitor
	workers  []Worker

	mu        sync.RWMutex
	started   time.Time
	isRunning bool
	server    *http.Server
}

// New builds the device from cfg. Every resource opened before a failure is
// released before returning the error.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *Supervisor, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Supervisor{
		cfg:       cfg,
		log:       logger,
		health:    coord.NewHealth(),
		live:      coord.NewFlag(false),
		annotated: coord.NewFlag(false),
		online:    coord.NewFlag(true),
		snapshots: coord.NewMailbox[types.Snapshot](),
	}

	var cleanup []func()
	defer func() {
		if err != nil {
			for i := len(cleanup) - 1; i >= 0; i-- {
				cleanup[i]()
			}
		}
	}()

	s.lock = flock.New(cfg.LockFile)
	locked, err := s.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", cfg.LockFile, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w (lock %s)", ErrAlreadyRunning, cfg.LockFile)
	}
	cleanup = append(cleanup, func() { s.lock.Unlock() })

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	s.store, err = newStore(ctx, cfg.Sink)
	if err != nil {
		return nil, err
	}
	cleanup = append(cleanup, func() { s.store.Close() })
	s.device = sink.NewDevice(s.store, cfg.Device.UserID, cfg.Device.DeviceID, loc)
	s.loc = loc

	s.board, err = newBoard(cfg.Hardware)
	if err != nil {
		return nil, err
	}
	if err := s.board.Validate(); err != nil {
		s.board.Close()
		return nil, err
	}
	cleanup = append(cleanup, func() { s.board.Close() })

	if cfg.Vision.Preview.Enabled {
		s.preview, err = vision.NewPreview(cfg.Vision.Preview.Path, cfg.Vision.Preview.JPEGQuality)
		if err != nil {
			return nil, err
		}
		if !cfg.Vision.Preview.Keys {
			s.preview.Visible.Set()
		}
	}

	source, err := newSource(cfg.Capture)
	if err != nil {
		return nil, err
	}
	cleanup = append(cleanup, func() { source.Release() })

	det, err := newDetector(cfg.Detector)
	if err != nil {
		return nil, err
	}

	s.initializeWorkers(source, det)

	logger.Info("device configured",
		"user_id", cfg.Device.UserID,
		"device_id", cfg.Device.DeviceID,
		"sink", cfg.Sink.Driver,
		"hardware", cfg.Hardware.Driver,
		"capture", cfg.Capture.Driver,
		"detector", cfg.Detector.Driver,
	)
	return s, nil
}

func (s *Supervisor) initializeWorkers(source capture.Source, det detector.Detector) {
	cfg := s.cfg

	s.vision = vision.New(vision.Config{
		Width:             cfg.Vision.Width,
		Height:            cfg.Vision.Height,
		Confidence:        cfg.Vision.Confidence,
		Classes:           cfg.Vision.Classes,
		TargetClass:       cfg.Vision.TargetClass,
		RetryBackoff:      cfg.Vision.RetryBackoff.D(),
		MaxDetectorErrors: cfg.Vision.MaxDetectorErrors,
	}, vision.Deps{
		Source:    source,
		Detector:  det,
		Out:       s.snapshots,
		Live:      s.live,
		Annotated: s.annotated,
		Health:    s.health,
		Preview:   s.preview,
		Logger:    s.log,
	})

	var online *coord.Flag
	if cfg.NetCheck.Enabled {
		online = s.online
		s.netcheck = netcheck.New(netcheck.Config{
			Address:  cfg.NetCheck.Address,
			Interval: cfg.NetCheck.Interval.D(),
			Timeout:  cfg.NetCheck.Timeout.D(),
		}, s.online, s.health, s.log)
	}

	s.relay = relay.New(relay.Config{
		JPEGQuality:  cfg.Relay.JPEGQuality,
		IdleInterval: cfg.Relay.IdleInterval.D(),
		PollInterval: cfg.Relay.PollInterval.D(),
		WriteTimeout: cfg.Sink.Timeout.D(),
	}, relay.Deps{
		In:     s.snapshots,
		Live:   s.live,
		Online: online,
		Health: s.health,
		Sink:   s.device,
		Logger: s.log,
	})

	c := cfg.Control
	s.control = control.New(control.Config{
		TickInterval:       c.TickInterval.D(),
		RemoteRefresh:      c.RemoteRefresh.D(),
		PublishInterval:    c.PublishInterval.D(),
		DispenseDuration:   c.DispenseDuration.D(),
		ScheduleCooldown:   c.ScheduleCooldown.D(),
		AppButtonFreshness: c.AppButtonFreshness.D(),
		SinkTimeout:        cfg.Sink.Timeout.D(),
		MaxRefillLevel:     c.MaxRefillLevel,
		FullDistanceCM:     c.Level.FullDistanceCM,
		EmptyDistanceCM:    c.Level.EmptyDistanceCM,
		Defaults: control.Policy{
			FeedThreshold:         c.Defaults.FeedThreshold,
			WaterThreshold:        c.Defaults.WaterThreshold,
			DispenseVolumePercent: c.Defaults.DispenseVolumePercent,
			AutoRefillEnabled:     c.Defaults.AutoRefillEnabled,
			AutoRefillThreshold:   c.Defaults.AutoRefillThreshold,
		},
		Location: s.loc,
	}, control.Deps{
		Board:     s.board,
		Remote:    s.device,
		Live:      s.live,
		Annotated: s.annotated,
		Health:    s.health,
		Logger:    s.log,
	})

	s.workers = []Worker{s.vision, s.relay, s.control}
	s.log.Info("workers initialized", "count", len(s.workers), "netcheck", s.netcheck != nil)
}

// Health returns the shared health signal.
func (s *Supervisor) Health() *coord.Health { return s.health }

// Device returns the data sink bound to this device.
func (s *Supervisor) Device() *sink.Device { return s.device }

// Run starts every worker and blocks until all of them have exited.
//
// Cancelling ctx clears the health signal with ReasonSignal and Run returns
// nil. If a worker cleared it, Run returns ErrUnhealthy with the reason.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("device is already running")
	}
	s.isRunning = true
	s.started = time.Now()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-ctx.Done():
			s.log.Info("shutdown requested")
			s.health.Fail(ReasonSignal)
		case <-s.health.Done():
		}
	}()

	if s.cfg.Health.Enabled {
		s.startHealthServer(s.cfg.Health.Port)
	}

	restoreTerminal := func() {}
	if s.preview != nil && s.cfg.Vision.Preview.Keys {
		restoreTerminal = vision.WatchKeys(runCtx, s.preview.Visible, func() { s.health.Fail(ReasonSignal) })
	}
	defer restoreTerminal()

	s.log.Info("device starting",
		"device_id", s.cfg.Device.DeviceID,
		"workers", len(s.workers),
	)

	var wg sync.WaitGroup
	run := func(id string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(runCtx); err != nil {
				s.log.Error("worker failed", "worker", id, "error", err)
				s.health.Fail(fmt.Sprintf("%s: %v", id, err))
			}
		}()
	}
	for _, w := range s.workers {
		run(w.ID(), w.Run)
	}
	if s.netcheck != nil {
		run(s.netcheck.ID(), s.netcheck.Run)
	}

	<-s.health.Done()
	s.log.Info("health cleared, waiting for workers", "reason", s.health.Reason())
	cancel()
	wg.Wait()
	restoreTerminal()

	s.shutdown()

	reason := s.health.Reason()
	if reason != ReasonSignal {
		return fmt.Errorf("%w: %s", ErrUnhealthy, reason)
	}
	s.log.Info("device stopped")
	return nil
}

// shutdown releases shared resources once every worker has exited.
// The vision worker releases the camera and detector itself.
func (s *Supervisor) shutdown() {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := s.server.Shutdown(ctx); err != nil {
			s.log.Warn("health server shutdown failed", "error", err)
		}
		cancel()
	}
	if err := s.board.Close(); err != nil {
		s.log.Warn("failed to close board", "error", err)
	}
	if err := s.store.Close(); err != nil {
		s.log.Warn("failed to close data sink", "error", err)
	}
	if err := s.lock.Unlock(); err != nil {
		s.log.Warn("failed to release lock", "error", err)
	}
}
