package vision

import (
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/e7canasta/coop-sensor/internal/coord"
	"github.com/e7canasta/coop-sensor/internal/types"
)

// Preview keeps a JPEG snapshot of the annotated feed on disk for a local
// viewer. Writes happen only while Visible is set.
type Preview struct {
	path        string
	jpegQuality int
	Visible     *coord.Flag

	written atomic.Uint64
	failed  atomic.Uint64
}

// NewPreview creates the output directory. The preview starts hidden.
func NewPreview(path string, jpegQuality int) (*Preview, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create preview directory: %w", err)
	}
	if jpegQuality <= 0 || jpegQuality > 100 {
		jpegQuality = 80
	}
	return &Preview{path: path, jpegQuality: jpegQuality, Visible: coord.NewFlag(false)}, nil
}

// Show writes frame if the preview is visible. The file is replaced
// atomically so a viewer never reads a partial image.
func (p *Preview) Show(frame types.Frame) error {
	if !p.Visible.IsSet() {
		return nil
	}

	img, err := ToRGBA(frame)
	if err != nil {
		p.failed.Add(1)
		return fmt.Errorf("RGB conversion failed: %w", err)
	}

	tmp := p.path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		p.failed.Add(1)
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := jpeg.Encode(file, img, &jpeg.Options{Quality: p.jpegQuality}); err != nil {
		file.Close()
		p.failed.Add(1)
		return fmt.Errorf("JPEG encode failed: %w", err)
	}
	if err := file.Close(); err != nil {
		p.failed.Add(1)
		return err
	}
	if err := os.Rename(tmp, p.path); err != nil {
		p.failed.Add(1)
		return err
	}

	p.written.Add(1)
	return nil
}

// Stats returns written and failed snapshot counts.
func (p *Preview) Stats() (written, failed uint64) {
	return p.written.Load(), p.failed.Load()
}
