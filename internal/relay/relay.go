// Package relay uploads live frames and detection counts to the data sink.
package relay

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image/jpeg"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/e7canasta/coop-sensor/internal/coord"
	"github.com/e7canasta/coop-sensor/internal/types"
	"github.com/e7canasta/coop-sensor/internal/vision"
)

// Publisher is the part of the data sink the relay writes to
type Publisher interface {
	PublishFrame(ctx context.Context, jpegBase64 string, at time.Time) error
	PublishCounts(ctx context.Context, c types.DetectionCounts, at time.Time) error
}

// Config contains relay worker settings
type Config struct {
	JPEGQuality  int
	IdleInterval time.Duration // sleep while live streaming is off
	PollInterval time.Duration // sleep when no snapshot is waiting
	WriteTimeout time.Duration // bound on each sink write
}

// Deps are the relay's collaborators
type Deps struct {
	In     *coord.Mailbox[types.Snapshot]
	Live   *coord.Flag
	Online *coord.Flag // optional; nil means always online
	Health *coord.Health
	Sink   Publisher
	Logger *slog.Logger
}

// Worker drains the vision mailbox while live streaming is on.
// A failed upload is logged and dropped: there is no retry and no backlog,
// the next snapshot simply supersedes it.
type Worker struct {
	cfg  Config
	deps Deps
	log  *slog.Logger

	offline bool // last observed connectivity, for transition logging

	uploaded   uint64
	failures   uint64
	skipped    uint64
	discarded  uint64 // snapshots drained while live was off
	iterations uint64
	running    atomic.Bool
	lastSeen   atomic.Value // time.Time
}

// New creates a relay worker
func New(cfg Config, deps Deps) *Worker {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 70
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = 500 * time.Millisecond
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Worker{cfg: cfg, deps: deps, log: deps.Logger.With("component", "relay")}
}

// ID returns the worker name
func (w *Worker) ID() string { return "relay" }

// Run loops until the health signal is cleared or ctx is done
func (w *Worker) Run(ctx context.Context) error {
	w.running.Store(true)
	defer w.running.Store(false)

	w.log.Info("relay worker started",
		"jpeg_quality", w.cfg.JPEGQuality,
		"idle_interval", w.cfg.IdleInterval,
	)

	for w.deps.Health.Healthy() && ctx.Err() == nil {
		w.Step(ctx)
	}

	w.log.Info("relay worker stopped",
		"uploaded", atomic.LoadUint64(&w.uploaded),
		"failures", atomic.LoadUint64(&w.failures),
		"skipped_offline", atomic.LoadUint64(&w.skipped),
	)
	return nil
}

// Step performs one relay iteration. It may sleep for up to IdleInterval.
func (w *Worker) Step(ctx context.Context) {
	atomic.AddUint64(&w.iterations, 1)
	w.lastSeen.Store(time.Now())

	if !w.deps.Live.IsSet() {
		// Keep the mailbox empty so turning live on never uploads an old frame
		if _, ok := w.deps.In.Poll(); ok {
			atomic.AddUint64(&w.discarded, 1)
		}
		w.deps.Health.Sleep(w.cfg.IdleInterval)
		return
	}

	snap, ok := w.deps.In.Poll()
	if !ok {
		w.deps.Health.Sleep(w.cfg.PollInterval)
		return
	}

	if !w.checkOnline() {
		atomic.AddUint64(&w.skipped, 1)
		return
	}

	encoded, err := EncodeJPEGBase64(snap.Frame, w.cfg.JPEGQuality)
	if err != nil {
		atomic.AddUint64(&w.failures, 1)
		w.log.Warn("frame encode failed", "error", err, "seq", snap.Frame.Seq)
		return
	}

	wctx, cancel := context.WithTimeout(ctx, w.cfg.WriteTimeout)
	defer cancel()

	at := snap.Frame.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	if err := w.deps.Sink.PublishFrame(wctx, encoded, at); err != nil {
		atomic.AddUint64(&w.failures, 1)
		w.log.Warn("frame upload failed",
			"error", err,
			"seq", snap.Frame.Seq,
			"trace_id", snap.Frame.TraceID,
		)
		return
	}
	if err := w.deps.Sink.PublishCounts(wctx, snap.Counts, at); err != nil {
		atomic.AddUint64(&w.failures, 1)
		w.log.Warn("counts upload failed", "error", err, "seq", snap.Frame.Seq)
		return
	}

	atomic.AddUint64(&w.uploaded, 1)
	w.log.Debug("frame uploaded",
		"seq", snap.Frame.Seq,
		"trace_id", snap.Frame.TraceID,
		"annotated", snap.Annotated,
		"bytes", len(encoded),
	)
}

// checkOnline logs connectivity transitions once and reports the current state
func (w *Worker) checkOnline() bool {
	online := w.deps.Online == nil || w.deps.Online.IsSet()
	if !online && !w.offline {
		w.log.Warn("offline, dropping live frames until connectivity returns")
	} else if online && w.offline {
		w.log.Info("online, resuming live frame uploads")
	}
	w.offline = !online
	return online
}

// EncodeJPEGBase64 encodes an RGB24 frame as base64 JPEG
func EncodeJPEGBase64(frame types.Frame, quality int) (string, error) {
	img, err := vision.ToRGBA(frame)
	if err != nil {
		return "", fmt.Errorf("RGB conversion failed: %w", err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return "", fmt.Errorf("JPEG encode failed: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Metrics returns worker counters
func (w *Worker) Metrics() types.WorkerMetrics {
	m := types.WorkerMetrics{
		Iterations: atomic.LoadUint64(&w.iterations),
		Errors:     atomic.LoadUint64(&w.failures),
		Dropped:    atomic.LoadUint64(&w.skipped) + atomic.LoadUint64(&w.discarded),
		Published:  atomic.LoadUint64(&w.uploaded),
		Running:    w.running.Load(),
	}
	if t, ok := w.lastSeen.Load().(time.Time); ok {
		m.LastSeenAt = t
	}
	return m
}
