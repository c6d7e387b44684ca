// Package hardware abstracts the coop's sensors and actuators.
//
// The control worker only sees the interfaces below; the concrete board
// (simulated or Modbus remote I/O) is chosen once at startup.
package hardware

import (
	"errors"
	"fmt"
)

// ErrGone means the device can no longer be reached and retrying is pointless.
// Any other error from a read is transient.
var ErrGone = errors.New("hardware: device gone")

// LevelSensor reports the distance from an ultrasonic sensor to the surface
// of the stored feed or water.
type LevelSensor interface {
	DistanceCM() (float64, error)
}

// Button is a physical push button. Pressed reports the current level.
type Button interface {
	Pressed() (bool, error)
}

// Actuator is a binary output (dispenser motor, water valve).
type Actuator interface {
	On() error
	Off() error
}

// Board groups the I/O the control worker drives
type Board struct {
	FeedLevel     LevelSensor
	WaterLevel    LevelSensor
	FeedButton    Button
	WaterButton   Button
	FeedDispenser Actuator
	WaterPump     Actuator

	close func() error
}

// Validate checks every field is wired.
func (b *Board) Validate() error {
	switch {
	case b.FeedLevel == nil, b.WaterLevel == nil:
		return fmt.Errorf("board: level sensors not configured")
	case b.FeedButton == nil, b.WaterButton == nil:
		return fmt.Errorf("board: buttons not configured")
	case b.FeedDispenser == nil, b.WaterPump == nil:
		return fmt.Errorf("board: actuators not configured")
	}
	return nil
}

// Close releases the board's transport.
func (b *Board) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}
