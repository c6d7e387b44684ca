package vision

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"

	"github.com/e7canasta/coop-sensor/internal/types"
)

var (
	chickenColor  = color.RGBA{R: 0, G: 200, B: 0, A: 255}
	intruderColor = color.RGBA{R: 230, G: 30, B: 30, A: 255}
)

// ToRGBA converts RGB24 frame data to image.RGBA (alpha = 255).
func ToRGBA(frame types.Frame) (*image.RGBA, error) {
	if err := frame.Validate(); err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	for i := 0; i < frame.Width*frame.Height; i++ {
		img.Pix[i*4+0] = frame.Data[i*3+0]
		img.Pix[i*4+1] = frame.Data[i*3+1]
		img.Pix[i*4+2] = frame.Data[i*3+2]
		img.Pix[i*4+3] = 255
	}
	return img, nil
}

func fromRGBA(img *image.RGBA, like types.Frame) types.Frame {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	data := make([]byte, w*h*3)
	for y := 0; y < h; y++ {
		src := img.Pix[y*img.Stride:]
		dst := data[y*w*3:]
		for x := 0; x < w; x++ {
			dst[x*3+0] = src[x*4+0]
			dst[x*3+1] = src[x*4+1]
			dst[x*3+2] = src[x*4+2]
		}
	}
	out := like
	out.Width, out.Height, out.Data = w, h, data
	return out
}

// Resize scales frame to width x height. Frames already at that size are returned as is.
func Resize(frame types.Frame, width, height int) (types.Frame, error) {
	if frame.Width == width && frame.Height == height {
		return frame, frame.Validate()
	}
	if width <= 0 || height <= 0 {
		return types.Frame{}, fmt.Errorf("invalid target size %dx%d", width, height)
	}

	src, err := ToRGBA(frame)
	if err != nil {
		return types.Frame{}, err
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return fromRGBA(dst, frame), nil
}

// Count tallies detections: the target class counts as chickens, every other
// class as an intruder.
func Count(dets []types.Detection, target string) types.DetectionCounts {
	var c types.DetectionCounts
	for _, d := range dets {
		if d.Class == target {
			c.Chickens++
		} else {
			c.Intruders++
		}
	}
	return c
}

// Annotate returns a copy of frame with a box outline and a center dot for
// every detection. The input frame is not modified.
func Annotate(frame types.Frame, dets []types.Detection, target string) types.Frame {
	out := frame.Clone()
	for _, d := range dets {
		c := intruderColor
		if d.Class == target {
			c = chickenColor
		}
		drawBox(out, d.BBox, c, 2)
		cx, cy := d.BBox.Center()
		fillRect(out, cx-2, cy-2, cx+2, cy+2, c)
	}
	return out
}

func drawBox(f types.Frame, b types.BBox, c color.RGBA, thickness int) {
	fillRect(f, b.X1, b.Y1, b.X2, b.Y1+thickness-1, c)
	fillRect(f, b.X1, b.Y2-thickness+1, b.X2, b.Y2, c)
	fillRect(f, b.X1, b.Y1, b.X1+thickness-1, b.Y2, c)
	fillRect(f, b.X2-thickness+1, b.Y1, b.X2, b.Y2, c)
}

// fillRect paints the inclusive rectangle, clipped to the frame
func fillRect(f types.Frame, x1, y1, x2, y2 int, c color.RGBA) {
	if x1 < 0 {
		x1 = 0
	}
	if y1 < 0 {
		y1 = 0
	}
	if x2 >= f.Width {
		x2 = f.Width - 1
	}
	if y2 >= f.Height {
		y2 = f.Height - 1
	}
	for y := y1; y <= y2; y++ {
		for x := x1; x <= x2; x++ {
			i := (y*f.Width + x) * 3
			f.Data[i], f.Data[i+1], f.Data[i+2] = c.R, c.G, c.B
		}
	}
}
