package control

import "time"

// Dispenser is the feed countdown state machine
type Dispenser struct {
	active    bool
	startedAt time.Time
	duration  time.Duration
}

// Trigger starts a countdown of d at now when idle. Returns false (and
// changes nothing) while a countdown is already running.
func (s *Dispenser) Trigger(now time.Time, d time.Duration) bool {
	if s.active || d <= 0 {
		return false
	}
	s.active = true
	s.startedAt = now
	s.duration = d
	return true
}

// Update ends the countdown once its duration has elapsed. Returns true on
// the tick that ends it.
func (s *Dispenser) Update(now time.Time) bool {
	if !s.active {
		return false
	}
	if now.Sub(s.startedAt) >= s.duration {
		s.active = false
		return true
	}
	return false
}

// Active reports whether the dispenser should be running.
func (s *Dispenser) Active() bool { return s.active }

// Remaining returns the time left in the countdown.
func (s *Dispenser) Remaining(now time.Time) time.Duration {
	if !s.active {
		return 0
	}
	if r := s.duration - now.Sub(s.startedAt); r > 0 {
		return r
	}
	return 0
}

// DispenseDuration scales base by volumePercent. Zero or negative volume means a full dose.
func DispenseDuration(base time.Duration, volumePercent float64) time.Duration {
	if volumePercent <= 0 {
		return base
	}
	return time.Duration(float64(base) * volumePercent / 100)
}
