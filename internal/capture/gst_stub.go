//go:build !gst

package capture

import "fmt"

// GstConfig configures the GStreamer camera source
type GstConfig struct {
	Device   string
	Pipeline string
	Width    int
	Height   int
	FPS      int
}

// NewGst is unavailable without the gst build tag.
func NewGst(cfg GstConfig) (Source, error) {
	return nil, fmt.Errorf("capture driver 'gst' requires building with -tags gst")
}
