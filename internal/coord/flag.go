package coord

import "sync/atomic"

// Flag is a level-triggered boolean shared between workers.
//
// Set and Clear are idempotent. There is no notification: readers poll
// IsSet at their own cadence and act on the current level.
type Flag struct {
	v atomic.Bool
}

// NewFlag returns a flag with the given initial level.
func NewFlag(initial bool) *Flag {
	f := &Flag{}
	f.v.Store(initial)
	return f
}

func (f *Flag) Set()   { f.v.Store(true) }
func (f *Flag) Clear() { f.v.Store(false) }

// Store sets the level to v.
func (f *Flag) Store(v bool) { f.v.Store(v) }

func (f *Flag) IsSet() bool { return f.v.Load() }
