package control

import "math"

// LevelPercent converts an ultrasonic distance reading into a fill percentage.
//
// At or below full the container reads 100; at or beyond empty it reads 0.
// In between the mapping is linear. The result is rounded to 2 decimals.
func LevelPercent(distanceCM, fullCM, emptyCM float64) float64 {
	switch {
	case distanceCM <= fullCM:
		return 100
	case distanceCM >= emptyCM:
		return 0
	}
	p := (emptyCM - distanceCM) / (emptyCM - fullCM) * 100
	return math.Round(p*100) / 100
}
