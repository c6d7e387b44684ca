// Package vision runs the capture → detect → publish pipeline.
package vision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/e7canasta/coop-sensor/internal/capture"
	"github.com/e7canasta/coop-sensor/internal/coord"
	"github.com/e7canasta/coop-sensor/internal/detector"
	"github.com/e7canasta/coop-sensor/internal/types"
)

// Config contains vision worker settings
type Config struct {
	Width             int
	Height            int
	Confidence        float64
	Classes           []string
	TargetClass       string
	RetryBackoff      time.Duration
	MaxDetectorErrors int
}

// Deps are the collaborators the worker drives. Source and Detector are
// owned by the worker from here on.
type Deps struct {
	Source    capture.Source
	Detector  detector.Detector
	Out       *coord.Mailbox[types.Snapshot]
	Live      *coord.Flag
	Annotated *coord.Flag
	Health    *coord.Health
	Preview   *Preview // optional
	Logger    *slog.Logger
}

// Worker captures frames, counts chickens and intruders, and hands the
// latest result to the relay while live streaming is on.
type Worker struct {
	cfg  Config
	deps Deps
	log  *slog.Logger

	detectorErrors int // consecutive

	frames        uint64
	captureErrors uint64
	detectErrors  uint64
	offered       uint64
	lastSeen      atomic.Value // time.Time
	running       atomic.Bool
}

// New creates a vision worker
func New(cfg Config, deps Deps) *Worker {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.MaxDetectorErrors <= 0 {
		cfg.MaxDetectorErrors = 10
	}
	return &Worker{
		cfg:  cfg,
		deps: deps,
		log:  deps.Logger.With("component", "vision"),
	}
}

// ID returns the worker name
func (w *Worker) ID() string { return "vision" }

// Run loops until the health signal is cleared or ctx is done. The capture
// source and detector are released on exit.
func (w *Worker) Run(ctx context.Context) error {
	w.running.Store(true)
	defer w.running.Store(false)
	defer w.release()

	w.log.Info("vision worker started",
		"width", w.cfg.Width,
		"height", w.cfg.Height,
		"target_class", w.cfg.TargetClass,
		"confidence", w.cfg.Confidence,
	)

	for w.deps.Health.Healthy() && ctx.Err() == nil {
		w.Step(ctx)
	}

	w.log.Info("vision worker stopped",
		"frames", atomic.LoadUint64(&w.frames),
		"capture_errors", atomic.LoadUint64(&w.captureErrors),
		"offered", atomic.LoadUint64(&w.offered),
		"reason", w.deps.Health.Reason(),
	)
	return nil
}

// Step runs one capture tick.
func (w *Worker) Step(ctx context.Context) {
	frame, err := w.deps.Source.Read(ctx)
	if err != nil {
		w.onCaptureError(ctx, err)
		return
	}
	atomic.AddUint64(&w.frames, 1)
	w.lastSeen.Store(time.Now())

	frame, err = Resize(frame, w.cfg.Width, w.cfg.Height)
	if err != nil {
		// Malformed frame from the driver, treat like a failed read
		w.onCaptureError(ctx, err)
		return
	}

	dets, err := w.deps.Detector.Detect(ctx, frame, w.cfg.Confidence, w.cfg.Classes)
	if err != nil {
		w.onDetectError(err, frame)
		return
	}
	w.detectorErrors = 0

	counts := Count(dets, w.cfg.TargetClass)

	wantAnnotated := w.deps.Annotated.IsSet()
	previewVisible := w.deps.Preview != nil && w.deps.Preview.Visible.IsSet()

	var annotated types.Frame
	if wantAnnotated || previewVisible {
		annotated = Annotate(frame, dets, w.cfg.TargetClass)
	}

	if w.deps.Live.IsSet() {
		snap := types.Snapshot{Frame: frame, Counts: counts}
		if wantAnnotated {
			snap.Frame, snap.Annotated = annotated, true
		}
		w.deps.Out.Offer(snap)
		atomic.AddUint64(&w.offered, 1)
	}

	if previewVisible {
		if err := w.deps.Preview.Show(annotated); err != nil {
			w.log.Warn("preview write failed", "error", err)
		}
	}

	w.log.Debug("frame processed",
		"seq", frame.Seq,
		"trace_id", frame.TraceID,
		"chickens", counts.Chickens,
		"intruders", counts.Intruders,
		"objects", counts.Total(),
	)
}

func (w *Worker) onCaptureError(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	if capture.IsFatal(err) {
		w.log.Error("camera unavailable, shutting down", "error", err)
		w.deps.Health.Fail(fmt.Sprintf("vision: %v", err))
		return
	}

	n := atomic.AddUint64(&w.captureErrors, 1)
	w.log.Warn("frame capture failed, retrying",
		"error", err,
		"total_failures", n,
		"backoff", w.cfg.RetryBackoff,
	)
	w.deps.Health.Sleep(w.cfg.RetryBackoff)
}

func (w *Worker) onDetectError(err error, frame types.Frame) {
	atomic.AddUint64(&w.detectErrors, 1)

	if errors.Is(err, detector.ErrGone) {
		w.log.Error("detector unavailable, shutting down", "error", err)
		w.deps.Health.Fail(fmt.Sprintf("vision: %v", err))
		return
	}

	w.detectorErrors++
	w.log.Warn("detection failed",
		"error", err,
		"seq", frame.Seq,
		"trace_id", frame.TraceID,
		"consecutive", w.detectorErrors,
	)
	if w.detectorErrors >= w.cfg.MaxDetectorErrors {
		w.deps.Health.Fail(fmt.Sprintf("vision: %d consecutive detector failures", w.detectorErrors))
	}
}

func (w *Worker) release() {
	if err := w.deps.Source.Release(); err != nil {
		w.log.Warn("failed to release camera", "error", err)
	}
	if err := w.deps.Detector.Close(); err != nil {
		w.log.Warn("failed to close detector", "error", err)
	}
}

// SourceStats returns the camera counters
func (w *Worker) SourceStats() types.SourceStats {
	return w.deps.Source.Stats()
}

// Metrics returns worker counters
func (w *Worker) Metrics() types.WorkerMetrics {
	m := types.WorkerMetrics{
		Iterations: atomic.LoadUint64(&w.frames),
		Errors:     atomic.LoadUint64(&w.captureErrors) + atomic.LoadUint64(&w.detectErrors),
		Dropped:    w.deps.Out.Stats().Dropped,
		Published:  atomic.LoadUint64(&w.offered),
		Running:    w.running.Load(),
	}
	if t, ok := w.lastSeen.Load().(time.Time); ok {
		m.LastSeenAt = t
	}
	return m
}
