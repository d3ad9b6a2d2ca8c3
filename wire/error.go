package wire

import "fmt"

// Error codes carried by a display error event. A protocol error is
// fatal to the connection that caused it and to no one else.
const (
	ErrInvalidObject uint32 = iota
	ErrInvalidMethod
	ErrNoMemory
	ErrImplementation
	ErrRole
)

// ProtocolError describes a client request that violated the
// protocol. Returning one from a dispatch handler terminates the
// offending connection after the error is reported to it.
type ProtocolError struct {
	Object uint32
	Code   uint32
	Text   string
}

func (err *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error on object %v (code %v): %v", err.Object, err.Code, err.Text)
}

// UnknownOpError is returned by Object.Dispatch if it is given a
// message with an invalid opcode.
type UnknownOpError struct {
	Interface string
	Op        uint16
}

func (err UnknownOpError) Error() string {
	return fmt.Sprintf("unknown opcode for %v: %v", err.Interface, err.Op)
}

// UnknownSenderIDError is returned by an attempt to dispatch an
// incoming message addressed to an object that the connection's store
// doesn't know about.
type UnknownSenderIDError struct {
	Msg *MessageBuffer
}

func (err UnknownSenderIDError) Error() string {
	return fmt.Sprintf("unknown sender object ID: %v", err.Msg.Sender())
}
