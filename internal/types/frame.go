package types

import (
	"fmt"
	"time"
)

// Frame represents a single captured video frame
type Frame struct {
	// Seq is the monotonic sequence number assigned by the capture source
	Seq uint64
	// Timestamp is when the frame was captured
	Timestamp time.Time
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Data contains the pixel data (RGB24, row-major)
	Data []byte
	// TraceID follows the frame from capture to the data sink
	TraceID string
}

// Validate checks that Data matches the declared dimensions.
func (f Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid frame dimensions %dx%d", f.Width, f.Height)
	}
	if want := f.Width * f.Height * 3; len(f.Data) != want {
		return fmt.Errorf("invalid RGB data size: got %d, expected %d", len(f.Data), want)
	}
	return nil
}

// Clone returns a deep copy of the frame so overlays never touch the original pixels.
func (f Frame) Clone() Frame {
	out := f
	out.Data = make([]byte, len(f.Data))
	copy(out.Data, f.Data)
	return out
}

// Snapshot is the unit the vision pipeline hands to the relay: the frame
// to publish and the counts computed from the same capture tick.
type Snapshot struct {
	Frame     Frame
	Counts    DetectionCounts
	Annotated bool
}

// SourceStats contains capture source statistics
type SourceStats struct {
	FramesRead  uint64 `json:"frames_read"`
	Errors      uint64 `json:"errors"`
	Resolution  string `json:"resolution"`
	IsConnected bool   `json:"is_connected"`
}
