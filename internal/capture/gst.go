//go:build gst

package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/coop-sensor/internal/coord"
	"github.com/e7canasta/coop-sensor/internal/types"
)

// GstConfig configures the GStreamer camera source
type GstConfig struct {
	Device   string // v4l2 device, e.g. /dev/video0
	Pipeline string // optional launch line; must end in "appsink name=sink"
	Width    int
	Height   int
	FPS      int
}

// Gst reads frames from a V4L2 camera through a GStreamer pipeline.
//
// Pipeline:
//
//	v4l2src → videoconvert → videoscale → videorate → capsfilter(RGB) → appsink
//
// The appsink keeps one buffer and drops older ones; frames land in a
// single-slot mailbox that Read drains.
type Gst struct {
	cfg      GstConfig
	pipeline *gst.Pipeline
	latest   *coord.Mailbox[types.Frame]
	ready    chan struct{}

	seq       uint64
	timeouts  uint64
	cancelBus context.CancelFunc
	busDone   chan struct{}

	goneOnce sync.Once
	gone     chan struct{}
	goneErr  atomic.Value // error

	releaseOnce sync.Once
}

func (c GstConfig) launchLine() string {
	if c.Pipeline != "" {
		return c.Pipeline
	}
	return fmt.Sprintf(
		"v4l2src device=%s ! videoconvert ! videoscale ! videorate drop-only=true ! "+
			"video/x-raw,format=RGB,width=%d,height=%d,framerate=%d/1 ! "+
			"appsink name=sink sync=false max-buffers=1 drop=true",
		c.Device, c.Width, c.Height, c.FPS)
}

// NewGst builds the pipeline and starts it. Returns an error if the camera
// cannot be opened within 5s.
func NewGst(cfg GstConfig) (*Gst, error) {
	gst.Init(nil)

	pipeline, err := gst.NewPipelineFromString(cfg.launchLine())
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	elem, err := pipeline.GetElementByName("sink")
	if err != nil {
		return nil, fmt.Errorf("pipeline has no appsink named 'sink': %w", err)
	}
	sink := app.SinkFromElement(elem)

	g := &Gst{
		cfg:      cfg,
		pipeline: pipeline,
		latest:   coord.NewMailbox[types.Frame](),
		ready:    make(chan struct{}, 1),
		gone:     make(chan struct{}),
		busDone:  make(chan struct{}),
	}

	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: g.onNewSample,
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("failed to start pipeline: %w", err)
	}

	// Fail fast on a missing device instead of timing out on every Read
	bus := pipeline.GetPipelineBus()
	if msg := bus.TimedPop(5 * time.Second); msg != nil && msg.Type() == gst.MessageError {
		gerr := msg.ParseError()
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("camera failed to start: %s", gerr.Error())
	}

	ctx, cancel := context.WithCancel(context.Background())
	g.cancelBus = cancel
	go g.monitorBus(ctx)

	slog.Info("gst camera started",
		"device", cfg.Device,
		"width", cfg.Width,
		"height", cfg.Height,
		"fps", cfg.FPS,
	)
	return g, nil
}

// onNewSample copies the buffer out of GStreamer (it reuses buffers)
func (g *Gst) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		slog.Warn("gst: failed to pull sample from appsink, skipping frame")
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("gst: failed to get buffer from sample, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return gst.FlowOK
	}
	frameData := make([]byte, len(data))
	copy(frameData, data)
	buffer.Unmap()

	g.latest.Offer(types.Frame{
		Seq:       atomic.AddUint64(&g.seq, 1) - 1,
		Timestamp: time.Now(),
		Width:     g.cfg.Width,
		Height:    g.cfg.Height,
		Data:      frameData,
		TraceID:   uuid.New().String(),
	})

	select {
	case g.ready <- struct{}{}:
	default:
	}
	return gst.FlowOK
}

// monitorBus turns EOS and pipeline errors into ErrSourceGone
func (g *Gst) monitorBus(ctx context.Context) {
	defer close(g.busDone)
	bus := g.pipeline.GetPipelineBus()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			g.markGone(fmt.Errorf("%w: end of stream", ErrSourceGone))
			return
		case gst.MessageError:
			gerr := msg.ParseError()
			slog.Error("gst: pipeline error",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
			)
			g.markGone(fmt.Errorf("%w: %s", ErrSourceGone, gerr.Error()))
			return
		}
	}
}

func (g *Gst) markGone(err error) {
	g.goneOnce.Do(func() {
		g.goneErr.Store(err)
		close(g.gone)
	})
}

// Read returns the newest frame. No frame within 2s is a transient error.
func (g *Gst) Read(ctx context.Context) (types.Frame, error) {
	timeout := time.NewTimer(2 * time.Second)
	defer timeout.Stop()

	for {
		if f, ok := g.latest.Poll(); ok {
			return f, nil
		}
		select {
		case <-g.ready:
		case <-g.gone:
			return types.Frame{}, g.goneErr.Load().(error)
		case <-ctx.Done():
			return types.Frame{}, ctx.Err()
		case <-timeout.C:
			atomic.AddUint64(&g.timeouts, 1)
			return types.Frame{}, fmt.Errorf("no frame from %s within 2s", g.cfg.Device)
		}
	}
}

// Release stops the pipeline
func (g *Gst) Release() error {
	var err error
	g.releaseOnce.Do(func() {
		g.cancelBus()
		<-g.busDone
		g.markGone(fmt.Errorf("%w: released", ErrSourceGone))
		err = g.pipeline.SetState(gst.StateNull)

		stats := g.latest.Stats()
		slog.Info("gst camera released",
			"frames", atomic.LoadUint64(&g.seq),
			"dropped", stats.Dropped,
		)
	})
	return err
}

// Stats returns source counters
func (g *Gst) Stats() types.SourceStats {
	connected := true
	select {
	case <-g.gone:
		connected = false
	default:
	}
	return types.SourceStats{
		FramesRead:  atomic.LoadUint64(&g.seq),
		Errors:      atomic.LoadUint64(&g.timeouts),
		Resolution:  fmt.Sprintf("%dx%d", g.cfg.Width, g.cfg.Height),
		IsConnected: connected,
	}
}
