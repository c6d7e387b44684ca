// Package capture reads frames from the coop camera.
package capture

import (
	"context"
	"errors"

	"github.com/e7canasta/coop-sensor/internal/types"
)

// ErrSourceGone means the camera disappeared (unplugged, pipeline ended).
// Any other Read error is transient: the caller backs off and retries.
var ErrSourceGone = errors.New("capture: source gone")

// Source produces RGB24 frames
type Source interface {
	// Read blocks until the next frame is available, ctx is done, or the
	// source fails.
	Read(ctx context.Context) (types.Frame, error)
	// Release frees the device. Safe to call more than once.
	Release() error
	// Stats returns source counters. Safe from any goroutine.
	Stats() types.SourceStats
}

// IsFatal reports whether err means the source will never produce frames again.
func IsFatal(err error) bool {
	return errors.Is(err, ErrSourceGone)
}
