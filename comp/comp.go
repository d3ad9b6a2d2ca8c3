// Package comp implements the compositor's protocol and session
// engine: the per-connection object registry, request dispatch, the
// double-buffered surface commit model, input focus routing, and
// frame scheduling. Geometry decisions are delegated to package tile
// and pixel production to a render Backend.
//
// All state in this package is mutated from a single logical event
// loop. Connection readers, input devices, and render completions
// hand closures to that loop; nothing here needs a lock.
package comp

import "time"

// timestamp converts a wall duration since compositor start into the
// 32-bit millisecond timestamps carried by input and frame events.
func timestamp(since time.Duration) uint32 {
	return uint32(since.Milliseconds())
}
