package comp

import (
	"image"

	"deedles.dev/tatami/wire"
)

// Opcodes for the compositor interface.
const (
	compositorCreateSurfaceOp uint16 = iota
	compositorCreateRegionOp
)

// compositorObject is the global from which surfaces and regions are
// created.
type compositorObject struct {
	object
	client *Client
}

func (c *compositorObject) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case compositorCreateSurfaceOp:
		id := msg.ReadUint()
		if err := msg.Err(); err != nil {
			return err
		}
		return c.client.server.createSurface(c.client, id)

	case compositorCreateRegionOp:
		id := msg.ReadUint()
		if err := msg.Err(); err != nil {
			return err
		}

		r := &region{object: object{iface: "region"}, client: c.client}
		if err := c.client.store.Add(id, r); err != nil {
			return &wire.ProtocolError{Object: c.id, Code: wire.ErrNoMemory, Text: err.Error()}
		}
		return nil
	}

	return wire.UnknownOpError{Interface: c.iface, Op: msg.Op()}
}

func (c *compositorObject) MethodName(op uint16) string {
	switch op {
	case compositorCreateSurfaceOp:
		return "create_surface"
	case compositorCreateRegionOp:
		return "create_region"
	}
	return "unknown"
}

// Opcodes for the subcompositor interface.
const (
	subcompositorDestroyOp uint16 = iota
	subcompositorGetSubsurfaceOp
)

type subcompositorObject struct {
	object
	client *Client
}

func (sc *subcompositorObject) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case subcompositorDestroyOp:
		sc.client.delete(sc.id)
		return nil

	case subcompositorGetSubsurfaceOp:
		id := msg.ReadUint()
		surfaceID := msg.ReadUint()
		parentID := msg.ReadUint()
		if err := msg.Err(); err != nil {
			return err
		}

		s, ok := sc.client.store.Get(surfaceID).(*surface)
		if !ok {
			return &wire.ProtocolError{Object: sc.id, Code: wire.ErrInvalidObject, Text: "get_subsurface: no such surface"}
		}
		parent, ok := sc.client.store.Get(parentID).(*surface)
		if !ok {
			return &wire.ProtocolError{Object: sc.id, Code: wire.ErrInvalidObject, Text: "get_subsurface: no such parent"}
		}

		return s.becomeSubsurface(id, parent)
	}

	return wire.UnknownOpError{Interface: sc.iface, Op: msg.Op()}
}

func (sc *subcompositorObject) MethodName(op uint16) string {
	switch op {
	case subcompositorDestroyOp:
		return "destroy"
	case subcompositorGetSubsurfaceOp:
		return "get_subsurface"
	}
	return "unknown"
}

// Opcodes for the region interface.
const (
	regionDestroyOp uint16 = iota
	regionAddOp
	regionSubtractOp
)

type regionOp struct {
	subtract bool
	rect     image.Rectangle
}

// region is a client-built area description. It records its
// constituent operations in order; membership is the result of
// replaying them.
type region struct {
	object
	client *Client
	ops    []regionOp
}

func (r *region) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case regionDestroyOp:
		r.client.delete(r.id)
		return nil

	case regionAddOp, regionSubtractOp:
		x := msg.ReadInt()
		y := msg.ReadInt()
		w := msg.ReadInt()
		h := msg.ReadInt()
		if err := msg.Err(); err != nil {
			return err
		}

		r.ops = append(r.ops, regionOp{
			subtract: msg.Op() == regionSubtractOp,
			rect:     image.Rect(int(x), int(y), int(x+w), int(y+h)),
		})
		return nil
	}

	return wire.UnknownOpError{Interface: r.iface, Op: msg.Op()}
}

func (r *region) MethodName(op uint16) string {
	switch op {
	case regionDestroyOp:
		return "destroy"
	case regionAddOp:
		return "add"
	case regionSubtractOp:
		return "subtract"
	}
	return "unknown"
}

// contains reports whether pt is inside the region.
func (r *region) contains(pt image.Point) bool {
	var in bool
	for _, op := range r.ops {
		if pt.In(op.rect) {
			in = !op.subtract
		}
	}
	return in
}

// snapshot returns an immutable copy for committed state.
func (r *region) snapshot() *region {
	if r == nil {
		return nil
	}
	cp := region{ops: make([]regionOp, len(r.ops))}
	copy(cp.ops, r.ops)
	return &cp
}
