// Package detector runs object detection on captured frames.
//
// The model itself lives outside this module. Subprocess talks to an
// external inference process over stdin/stdout; Sim produces deterministic
// detections for development and tests.
package detector

import (
	"context"
	"errors"

	"github.com/e7canasta/coop-sensor/internal/types"
)

// ErrGone means the detector can no longer serve requests (process exited,
// stream desynchronized). Callers should stop rather than retry.
var ErrGone = errors.New("detector: gone")

// Detector finds objects of the given classes in a frame
type Detector interface {
	Detect(ctx context.Context, frame types.Frame, confidence float64, classes []string) ([]types.Detection, error)
	Close() error
}
