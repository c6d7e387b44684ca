// Package control owns the coop's feeding and watering logic.
//
// The state machines in this package are pure: they take the current time
// and inputs as arguments and never touch hardware or the network. Worker
// wires them to the board and the data sink and runs them on a fixed tick.
//
// Dispense (feed):
//
//	idle ──trigger──▶ counting ──elapsed ≥ duration──▶ idle
//
// A trigger while counting is ignored; the countdown is never extended.
//
// Refill (water), with hysteresis:
//
//	idle ──(auto ∧ level ≤ threshold) ∨ (manual ∧ level < stop)──▶ refilling
//	refilling ──level ≥ stop──▶ idle
//
// The stop level is the app's refill target capped at max_refill_level.
// Schedules are matched in the device timezone.
package control
