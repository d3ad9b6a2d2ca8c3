// Package wire implements the low-level framing used between the
// compositor and its clients. A message is addressed to an object ID,
// carries a 16-bit opcode and a typed argument payload, and may be
// accompanied by file descriptors passed out-of-band. The semantic
// half of dispatch lives in package comp; this package only moves
// bytes and descriptors.
package wire

import "math"

// padding returns the number of bytes necessary to pad a block of n
// bytes to a 32-bit boundary.
func padding(n uint32) uint32 {
	return (4 - (n & 3)) & 3
}

// Fixed is a signed 24.8 fixed-point number.
type Fixed int32

func FixedInt(v int) Fixed {
	return Fixed(v << 8)
}

func FixedFloat(v float64) Fixed {
	return Fixed(math.Round(v * 256))
}

func (f Fixed) Int() int {
	return int(f >> 8)
}

func (f Fixed) Float() float64 {
	return float64(f) / 256
}

// NewID identifies an object that a client is asking the compositor
// to create.
type NewID struct {
	Interface string
	Version   uint32
	ID        uint32
}

// Object is a protocol object reachable from a client connection.
type Object interface {
	// ID is the object's connection-scoped ID, or 0 if the object has
	// not been added to a store yet.
	ID() uint32

	// SetID is called by the object store when the object is added.
	SetID(id uint32)

	// Dispatch performs the request carried by msg.
	Dispatch(msg *MessageBuffer) error

	// Delete is called when the object is removed from its store.
	Delete()

	// MethodName resolves an opcode to a request name, for tracing.
	MethodName(op uint16) string
}
