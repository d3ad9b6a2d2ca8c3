package comp

import (
	"image"

	"deedles.dev/tatami/wire"
	"golang.org/x/exp/slices"
)

// Opcodes for the subsurface interface.
const (
	subsurfaceDestroyOp uint16 = iota
	subsurfaceSetPositionOp
	subsurfacePlaceAboveOp
	subsurfacePlaceBelowOp
	subsurfaceSetSyncOp
	subsurfaceSetDesyncOp
)

// subsurfaceObject is the role object of a subsurface: a surface
// glued to a parent, positioned relative to it, and by default
// committed only as part of the parent's commit.
//
// The parent link is a relation, not ownership; destroying the parent
// orphans the subsurface rather than destroying it.
type subsurfaceObject struct {
	object
	client  *Client
	surface *surface
	parent  *surface

	sync bool

	// position is relative to the parent's top-left corner. Like all
	// subsurface state it is double-buffered, applied on parent
	// commit.
	position        image.Point
	pendingPosition image.Point
}

func (sub *subsurfaceObject) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case subsurfaceDestroyOp:
		sub.client.delete(sub.id)
		return nil

	case subsurfaceSetPositionOp:
		x := msg.ReadInt()
		y := msg.ReadInt()
		if err := msg.Err(); err != nil {
			return err
		}
		sub.pendingPosition = image.Pt(int(x), int(y))
		return nil

	case subsurfacePlaceAboveOp, subsurfacePlaceBelowOp:
		siblingID := msg.ReadUint()
		if err := msg.Err(); err != nil {
			return err
		}

		sibling, ok := sub.client.store.Get(siblingID).(*surface)
		if !ok || sibling.sub == nil || sibling.sub.parent != sub.parent {
			return &wire.ProtocolError{Object: sub.id, Code: wire.ErrInvalidObject, Text: "place: not a sibling"}
		}
		sub.parent.restack(sub, sibling.sub, msg.Op() == subsurfacePlaceAboveOp)
		return nil

	case subsurfaceSetSyncOp:
		sub.sync = true
		return nil

	case subsurfaceSetDesyncOp:
		sub.sync = false
		// Leaving synchronized mode applies any commits that were
		// deferred while in it.
		if sub.surface.cached != nil {
			sub.surface.apply(sub.surface.cached)
			sub.surface.cached = nil
			sub.surface.applyCachedChildren()
			sub.surface.updateMapping()
		}
		return nil
	}

	return wire.UnknownOpError{Interface: sub.iface, Op: msg.Op()}
}

func (sub *subsurfaceObject) MethodName(op uint16) string {
	switch op {
	case subsurfaceDestroyOp:
		return "destroy"
	case subsurfaceSetPositionOp:
		return "set_position"
	case subsurfacePlaceAboveOp:
		return "place_above"
	case subsurfacePlaceBelowOp:
		return "place_below"
	case subsurfaceSetSyncOp:
		return "set_sync"
	case subsurfaceSetDesyncOp:
		return "set_desync"
	}
	return "unknown"
}

// Delete detaches the role object. The surface itself survives but
// can no longer be shown, since its role slot stays occupied.
func (sub *subsurfaceObject) Delete() {
	if sub.parent != nil {
		sub.parent.removeChild(sub)
		sub.parent = nil
	}
	if sub.surface != nil {
		sub.surface.sub = nil
		sub.surface.mapped = false
		sub.surface = nil
	}
}

// removeChild drops a subsurface from the parent's child list.
func (s *surface) removeChild(sub *subsurfaceObject) {
	s.children = slices.DeleteFunc(s.children, func(v *subsurfaceObject) bool { return v == sub })
}

// restack moves sub directly above or below its sibling in the child
// list.
func (s *surface) restack(sub, sibling *subsurfaceObject, above bool) {
	s.children = slices.DeleteFunc(s.children, func(v *subsurfaceObject) bool { return v == sub })
	i := slices.Index(s.children, sibling)
	if i < 0 {
		s.children = append(s.children, sub)
		return
	}
	if above {
		i++
	}
	s.children = slices.Insert(s.children, i, sub)
}
