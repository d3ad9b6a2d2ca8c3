package comp

import (
	"image"

	"deedles.dev/tatami/tile"
	"deedles.dev/tatami/wire"
	"golang.org/x/exp/slices"
)

// Mode is a display mode.
type Mode struct {
	Width, Height int
	Refresh       int // Hz
}

// Output is one physical display sink. Its lifecycle is driven by the
// hardware layer through AddOutput and RemoveOutput, never by
// clients. Each output carries its own workspace and frame scheduler.
type Output struct {
	server *Server
	name   string
	mode   Mode
	pos    image.Point

	ws    *tile.Workspace
	sched *scheduler

	globalName uint32
	bound      []*outputObject
	stop       chan struct{}
}

// Name is the hardware layer's identifier for the output.
func (o *Output) Name() string {
	return o.name
}

// area is the output's rectangle in the global compositor space.
func (o *Output) area() image.Rectangle {
	return image.Rect(o.pos.X, o.pos.Y, o.pos.X+o.mode.Width, o.pos.Y+o.mode.Height)
}

// binding returns the client's bound output object, if it has one.
func (o *Output) binding(c *Client) *outputObject {
	for _, oo := range o.bound {
		if oo.client == c {
			return oo
		}
	}
	return nil
}

func (o *Output) removeBinding(oo *outputObject) {
	o.bound = slices.DeleteFunc(o.bound, func(v *outputObject) bool { return v == oo })
}

// setMode applies a hardware mode change: clients are told, and the
// workspace is rearranged to the new usable area.
func (o *Output) setMode(mode Mode) {
	o.mode = mode
	for _, oo := range o.bound {
		oo.mode(mode)
		oo.done()
	}
	o.server.arrange(o)
}

// Opcodes for the output interface.
const (
	outputReleaseOp uint16 = iota
)

const (
	outputGeometryEvent uint16 = iota
	outputModeEvent
	outputDoneEvent
	outputScaleEvent
)

// outputObject is one client's binding of an output global.
type outputObject struct {
	object
	client *Client
	output *Output
}

func (oo *outputObject) announce() {
	msg := wire.NewMessage(oo, outputGeometryEvent)
	msg.Method = "geometry"
	msg.Args = []any{oo.output.pos.X, oo.output.pos.Y, oo.output.name}
	msg.WriteInt(int32(oo.output.pos.X))
	msg.WriteInt(int32(oo.output.pos.Y))
	msg.WriteString(oo.output.name)
	oo.client.post(msg)

	oo.mode(oo.output.mode)

	smsg := wire.NewMessage(oo, outputScaleEvent)
	smsg.Method = "scale"
	smsg.Args = []any{int32(1)}
	smsg.WriteInt(1)
	oo.client.post(smsg)

	oo.done()
}

func (oo *outputObject) mode(m Mode) {
	msg := wire.NewMessage(oo, outputModeEvent)
	msg.Method = "mode"
	msg.Args = []any{m.Width, m.Height, m.Refresh}
	msg.WriteUint(1) // current mode flag
	msg.WriteInt(int32(m.Width))
	msg.WriteInt(int32(m.Height))
	msg.WriteInt(int32(m.Refresh * 1000)) // mHz on the wire
	oo.client.post(msg)
}

func (oo *outputObject) done() {
	msg := wire.NewMessage(oo, outputDoneEvent)
	msg.Method = "done"
	oo.client.post(msg)
}

func (oo *outputObject) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case outputReleaseOp:
		oo.client.delete(oo.id)
		return nil
	}

	return wire.UnknownOpError{Interface: oo.iface, Op: msg.Op()}
}

func (oo *outputObject) MethodName(op uint16) string {
	switch op {
	case outputReleaseOp:
		return "release"
	}
	return "unknown"
}

func (oo *outputObject) Delete() {
	if oo.output != nil {
		oo.output.removeBinding(oo)
	}
}
