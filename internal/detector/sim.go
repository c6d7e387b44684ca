package detector

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/e7canasta/coop-sensor/internal/types"
)

// SimConfig shapes the synthetic detections
type SimConfig struct {
	MaxObjects    int // objects of the first class cycle through 0..MaxObjects
	IntruderEvery int // every Nth frame also reports one object of another class; 0 disables
	FailEvery     int // every Nth call returns a transient error; 0 disables
}

// Sim is a deterministic Detector driven by the frame sequence number.
type Sim struct {
	cfg   SimConfig
	calls uint64
}

// NewSim returns a simulated detector.
func NewSim(cfg SimConfig) *Sim {
	if cfg.MaxObjects <= 0 {
		cfg.MaxObjects = 4
	}
	return &Sim{cfg: cfg}
}

func (s *Sim) Detect(ctx context.Context, frame types.Frame, confidence float64, classes []string) ([]types.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := atomic.AddUint64(&s.calls, 1)
	if s.cfg.FailEvery > 0 && n%uint64(s.cfg.FailEvery) == 0 {
		return nil, fmt.Errorf("sim detector: injected failure on call %d", n)
	}
	if len(classes) == 0 || frame.Width <= 0 || frame.Height <= 0 {
		return nil, nil
	}

	// Target class first in the caller's list when present
	primary, other := classes[0], ""
	for _, c := range classes {
		if c == "chicken" {
			primary = c
		}
	}
	for _, c := range classes {
		if c != primary {
			other = c
			break
		}
	}

	count := int(frame.Seq % uint64(s.cfg.MaxObjects+1))
	out := make([]types.Detection, 0, count+1)
	w, h := frame.Width/8, frame.Height/8
	for i := 0; i < count; i++ {
		x := (i * 2 * w) % (frame.Width - w)
		y := frame.Height / 2
		out = append(out, s.box(primary, x, y, w, h, 0.9))
	}

	if other != "" && s.cfg.IntruderEvery > 0 && frame.Seq%uint64(s.cfg.IntruderEvery) == 0 {
		out = append(out, s.box(other, frame.Width-w-1, 0, w, h, 0.8))
	}

	filtered := out[:0]
	for _, d := range out {
		if d.Confidence >= confidence {
			filtered = append(filtered, d)
		}
	}
	return filtered, nil
}

func (s *Sim) box(class string, x, y, w, h int, conf float64) types.Detection {
	return types.Detection{
		BBox:       types.BBox{X1: x, Y1: y, X2: x + w, Y2: y + h},
		Confidence: conf,
		Class:      class,
	}
}

func (s *Sim) Close() error { return nil }
