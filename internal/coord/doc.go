// Package coord holds the primitives the workers use to talk to each other.
//
// Workers never share mutable state directly. They exchange data through
// three narrow channels:
//
//   - Mailbox: a single-slot, drop-oldest hand-off. Offer never blocks and a
//     newer item always replaces an unconsumed older one.
//   - Flag: a level-triggered boolean. Readers see the latest value, not a
//     history of changes.
//   - Health: the process-wide "keep running" signal. It starts healthy and,
//     once failed, stays failed.
//
// All operations are safe for concurrent use and none of them block beyond
// a short mutex hold.
package coord
