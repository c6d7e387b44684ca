package control

// RefillInput is everything the refill decision depends on
type RefillInput struct {
	Level         float64 // current water level percent
	AutoEnabled   bool
	AutoThreshold float64 // auto refill starts at or below this level
	StopLevel     float64 // refill stops at or above this level
	Manual        bool // a manual request arrived this tick
}

// Refiller is the water refill state machine. Callers keep AutoThreshold
// below StopLevel so a start never lands on a stop.
type Refiller struct {
	active bool
}

// Update advances the state machine. started/stopped report the transition
// taken this tick, if any.
func (r *Refiller) Update(in RefillInput) (started, stopped bool) {
	if r.active {
		if in.Level >= in.StopLevel {
			r.active = false
			return false, true
		}
		return false, false
	}

	auto := in.AutoEnabled && in.Level <= in.AutoThreshold
	manual := in.Manual && in.Level < in.StopLevel
	if auto || manual {
		r.active = true
		return true, false
	}
	return false, false
}

// Active reports whether the pump should be running.
func (r *Refiller) Active() bool { return r.active }
