package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/coop-sensor/internal/types"
)

// SimConfig configures the synthetic camera
type SimConfig struct {
	Width     int
	Height    int
	FPS       int
	FailAfter int // report ErrSourceGone after this many frames; 0 never
}

// Sim generates synthetic frames at a fixed rate
type Sim struct {
	cfg           SimConfig
	frameDuration time.Duration

	mu       sync.Mutex
	seq      uint64
	next     time.Time
	released bool
	started  time.Time
	errors   uint64
}

// NewSim creates a synthetic source
func NewSim(cfg SimConfig) *Sim {
	if cfg.FPS <= 0 {
		cfg.FPS = 10
	}
	slog.Info("sim camera created",
		"width", cfg.Width,
		"height", cfg.Height,
		"fps", cfg.FPS,
	)
	return &Sim{
		cfg:           cfg,
		frameDuration: time.Second / time.Duration(cfg.FPS),
		started:       time.Now(),
	}
}

// Read paces frames at the configured FPS
func (s *Sim) Read(ctx context.Context) (types.Frame, error) {
	s.mu.Lock()
	if s.released {
		s.errors++
		s.mu.Unlock()
		return types.Frame{}, fmt.Errorf("%w: released", ErrSourceGone)
	}
	if s.unplugged() {
		s.errors++
		s.mu.Unlock()
		return types.Frame{}, fmt.Errorf("%w: sim camera unplugged after %d frames", ErrSourceGone, s.seq)
	}

	now := time.Now()
	if s.next.IsZero() {
		s.next = now
	}
	wait := s.next.Sub(now)
	s.next = s.next.Add(s.frameDuration)
	if s.next.Before(now) {
		// fell behind, don't burst
		s.next = now.Add(s.frameDuration)
	}
	seq := s.seq
	s.seq++
	s.mu.Unlock()

	if wait > 0 {
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return types.Frame{}, ctx.Err()
		case <-t.C:
		}
	}

	return s.createFrame(seq), nil
}

// createFrame fills a gradient whose phase moves with seq
func (s *Sim) createFrame(seq uint64) types.Frame {
	w, h := s.cfg.Width, s.cfg.Height
	data := make([]byte, w*h*3)
	shift := int(seq % 256)
	for y := 0; y < h; y++ {
		row := y * w * 3
		for x := 0; x < w; x++ {
			i := row + x*3
			data[i] = byte((x + shift) % 256)
			data[i+1] = byte((y + shift) % 256)
			data[i+2] = 96
		}
	}

	return types.Frame{
		Seq:       seq,
		Timestamp: time.Now(),
		Width:     w,
		Height:    h,
		Data:      data,
		TraceID:   uuid.New().String(),
	}
}

// Release stops the source
func (s *Sim) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil
	}
	s.released = true
	slog.Info("sim camera released",
		"frames_emitted", s.seq,
		"duration", time.Since(s.started),
	)
	return nil
}

func (s *Sim) unplugged() bool {
	return s.cfg.FailAfter > 0 && s.seq >= uint64(s.cfg.FailAfter)
}

// Stats returns source counters
func (s *Sim) Stats() types.SourceStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.SourceStats{
		FramesRead:  s.seq,
		Errors:      s.errors,
		Resolution:  fmt.Sprintf("%dx%d", s.cfg.Width, s.cfg.Height),
		IsConnected: !s.released && !s.unplugged(),
	}
}
