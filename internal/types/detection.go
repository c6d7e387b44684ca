package types

// BBox represents a bounding box in pixel coordinates
type BBox struct {
	X1 int `json:"x1" msgpack:"x1"`
	Y1 int `json:"y1" msgpack:"y1"`
	X2 int `json:"x2" msgpack:"x2"`
	Y2 int `json:"y2" msgpack:"y2"`
}

// Center returns the box midpoint.
func (b BBox) Center() (int, int) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// Width of the box in pixels.
func (b BBox) Width() int { return b.X2 - b.X1 }

// Height of the box in pixels.
func (b BBox) Height() int { return b.Y2 - b.Y1 }

// Detection is a single object reported by the detector
type Detection struct {
	BBox       BBox    `json:"bbox"`
	Confidence float64 `json:"confidence"`
	Class      string  `json:"class"`
}

// DetectionCounts is the per-frame tally published alongside live frames
type DetectionCounts struct {
	Chickens  uint `json:"chickens"`
	Intruders uint `json:"intruders"`
}

// Total returns the number of counted objects.
func (c DetectionCounts) Total() uint {
	return c.Chickens + c.Intruders
}
