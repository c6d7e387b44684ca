package hardware

import (
	"sync"
	"sync/atomic"
)

// SimConfig seeds a simulated board
type SimConfig struct {
	FeedDistanceCM  float64
	WaterDistanceCM float64
	FillRateCM      float64 // water distance decrease per read while the pump runs
	DrainRateCM     float64 // feed distance increase per read while the dispenser runs
}

// SimSensor is a level sensor whose reading tracks an actuator.
type SimSensor struct {
	mu       sync.Mutex
	distance float64
	rate     float64 // applied per read while driver is on; negative fills
	driver   *SimActuator
	err      error
}

// DistanceCM returns the current reading and advances the simulation.
func (s *SimSensor) DistanceCM() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return 0, s.err
	}
	if s.driver != nil && s.driver.IsOn() {
		s.distance += s.rate
		if s.distance < 0 {
			s.distance = 0
		}
	}
	return s.distance, nil
}

// SetDistance overrides the reading.
func (s *SimSensor) SetDistance(cm float64) {
	s.mu.Lock()
	s.distance = cm
	s.mu.Unlock()
}

// FailWith makes every following read return err. nil restores reads.
func (s *SimSensor) FailWith(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// SimButton is pressed for exactly one read after Press.
type SimButton struct {
	pending atomic.Bool
}

func (b *SimButton) Press() { b.pending.Store(true) }

func (b *SimButton) Pressed() (bool, error) {
	return b.pending.Swap(false), nil
}

// SimActuator records its state and switch count.
type SimActuator struct {
	on       atomic.Bool
	switches atomic.Uint64
}

func (a *SimActuator) On() error {
	if !a.on.Swap(true) {
		a.switches.Add(1)
	}
	return nil
}

func (a *SimActuator) Off() error {
	if a.on.Swap(false) {
		a.switches.Add(1)
	}
	return nil
}

func (a *SimActuator) IsOn() bool { return a.on.Load() }

// Switches counts state changes.
func (a *SimActuator) Switches() uint64 { return a.switches.Load() }

// SimBoard is a Board whose parts stay reachable for tests and demos
type SimBoard struct {
	Board
	Feed      *SimSensor
	Water     *SimSensor
	FeedBtn   *SimButton
	WaterBtn  *SimButton
	Dispenser *SimActuator
	Pump      *SimActuator
}

// NewSimBoard builds a board where running the dispenser drains the feed
// and running the pump fills the water tank.
func NewSimBoard(cfg SimConfig) *SimBoard {
	dispenser := &SimActuator{}
	pump := &SimActuator{}
	feed := &SimSensor{distance: cfg.FeedDistanceCM, rate: cfg.DrainRateCM, driver: dispenser}
	water := &SimSensor{distance: cfg.WaterDistanceCM, rate: -cfg.FillRateCM, driver: pump}
	feedBtn := &SimButton{}
	waterBtn := &SimButton{}

	return &SimBoard{
		Board: Board{
			FeedLevel:     feed,
			WaterLevel:    water,
			FeedButton:    feedBtn,
			WaterButton:   waterBtn,
			FeedDispenser: dispenser,
			WaterPump:     pump,
		},
		Feed:      feed,
		Water:     water,
		FeedBtn:   feedBtn,
		WaterBtn:  waterBtn,
		Dispenser: dispenser,
		Pump:      pump,
	}
}
