package comp

import (
	"image"

	"deedles.dev/tatami/tile"
	"deedles.dev/tatami/wire"
)

// role is a surface's one-way role assignment.
type role int

const (
	roleNone role = iota
	roleToplevel
	rolePopup
	roleCursor
	roleSubsurface
)

func (r role) String() string {
	switch r {
	case roleNone:
		return "none"
	case roleToplevel:
		return "toplevel"
	case rolePopup:
		return "popup"
	case roleCursor:
		return "cursor"
	case roleSubsurface:
		return "subsurface"
	}
	return "unknown"
}

// surfaceState is one side of a surface's double-buffered state.
type surfaceState struct {
	buffer    *buffer
	bufferSet bool
	offset    image.Point
	damage    []image.Rectangle
	input     *region
	opaque    *region
	transform int32
	scale     int32
	frames    []*callback
}

// merge folds src into dst, last writer winning per attribute, and
// resets src. Used to defer a synchronized subsurface's commits until
// its parent commits.
func (dst *surfaceState) merge(src *surfaceState) {
	if src.bufferSet {
		dst.bufferSet = true
		dst.buffer = src.buffer
		dst.offset = src.offset
	}
	dst.damage = append(dst.damage, src.damage...)
	dst.input = src.input
	dst.opaque = src.opaque
	dst.transform = src.transform
	dst.scale = src.scale
	dst.frames = append(dst.frames, src.frames...)
	src.reset()
}

// reset clears the attributes that do not persist across commits.
// Regions, transform, and scale are sticky.
func (st *surfaceState) reset() {
	st.buffer = nil
	st.bufferSet = false
	st.offset = image.Point{}
	st.damage = nil
	st.frames = nil
}

// Opcodes for the surface interface.
const (
	surfaceDestroyOp uint16 = iota
	surfaceAttachOp
	surfaceDamageOp
	surfaceFrameOp
	surfaceSetOpaqueRegionOp
	surfaceSetInputRegionOp
	surfaceCommitOp
	surfaceSetBufferTransformOp
	surfaceSetBufferScaleOp
)

const (
	surfaceEnterEvent uint16 = iota
	surfaceLeaveEvent
)

// surface is one client drawable. Requests mutate pending state only;
// commit promotes pending to committed, and committed state is the
// only state the layout engine, input router, and renderer ever see.
type surface struct {
	object
	client *Client
	tid    tile.ID

	role role
	top  *toplevel
	sub  *subsurfaceObject

	// children are this surface's subsurfaces, bottom-to-top.
	children []*subsurfaceObject

	pending   surfaceState
	committed surfaceState

	// cached holds deferred commits of a synchronized subsurface
	// until the parent commits.
	cached *surfaceState

	mapped   bool
	dead     bool
	output   *Output
	geometry image.Rectangle
}

func (s *surface) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case surfaceDestroyOp:
		s.destroy()
		return nil

	case surfaceAttachOp:
		bufID := msg.ReadUint()
		x := msg.ReadInt()
		y := msg.ReadInt()
		if err := msg.Err(); err != nil {
			return err
		}

		var buf *buffer
		if bufID != 0 {
			b, ok := s.client.store.Get(bufID).(*buffer)
			if !ok {
				return &wire.ProtocolError{Object: s.id, Code: wire.ErrInvalidObject, Text: "attach: no such buffer"}
			}
			buf = b
		}
		s.pending.buffer = buf
		s.pending.bufferSet = true
		s.pending.offset = image.Pt(int(x), int(y))
		return nil

	case surfaceDamageOp:
		x := msg.ReadInt()
		y := msg.ReadInt()
		w := msg.ReadInt()
		h := msg.ReadInt()
		if err := msg.Err(); err != nil {
			return err
		}
		s.pending.damage = append(s.pending.damage, image.Rect(int(x), int(y), int(x+w), int(y+h)))
		return nil

	case surfaceFrameOp:
		id := msg.ReadUint()
		if err := msg.Err(); err != nil {
			return err
		}

		cb := &callback{object: object{iface: "callback"}, client: s.client}
		if err := s.client.store.Add(id, cb); err != nil {
			return &wire.ProtocolError{Object: s.id, Code: wire.ErrNoMemory, Text: err.Error()}
		}
		s.pending.frames = append(s.pending.frames, cb)
		return nil

	case surfaceSetOpaqueRegionOp, surfaceSetInputRegionOp:
		regionID := msg.ReadUint()
		if err := msg.Err(); err != nil {
			return err
		}

		var r *region
		if regionID != 0 {
			ro, ok := s.client.store.Get(regionID).(*region)
			if !ok {
				return &wire.ProtocolError{Object: s.id, Code: wire.ErrInvalidObject, Text: "no such region"}
			}
			// Snapshot now: the protocol says later changes to the
			// region object do not affect the surface.
			r = ro.snapshot()
		}
		if msg.Op() == surfaceSetOpaqueRegionOp {
			s.pending.opaque = r
		} else {
			s.pending.input = r
		}
		return nil

	case surfaceCommitOp:
		s.commit()
		return nil

	case surfaceSetBufferTransformOp:
		s.pending.transform = msg.ReadInt()
		return msg.Err()

	case surfaceSetBufferScaleOp:
		scale := msg.ReadInt()
		if err := msg.Err(); err != nil {
			return err
		}
		if scale <= 0 {
			return &wire.ProtocolError{Object: s.id, Code: wire.ErrInvalidMethod, Text: "buffer scale must be positive"}
		}
		s.pending.scale = scale
		return nil
	}

	return wire.UnknownOpError{Interface: s.iface, Op: msg.Op()}
}

func (s *surface) MethodName(op uint16) string {
	switch op {
	case surfaceDestroyOp:
		return "destroy"
	case surfaceAttachOp:
		return "attach"
	case surfaceDamageOp:
		return "damage"
	case surfaceFrameOp:
		return "frame"
	case surfaceSetOpaqueRegionOp:
		return "set_opaque_region"
	case surfaceSetInputRegionOp:
		return "set_input_region"
	case surfaceCommitOp:
		return "commit"
	case surfaceSetBufferTransformOp:
		return "set_buffer_transform"
	case surfaceSetBufferScaleOp:
		return "set_buffer_scale"
	}
	return "unknown"
}

// commit promotes pending state to committed state. For a
// synchronized subsurface the promotion is deferred: pending state is
// folded into the cache and applied when the parent commits.
func (s *surface) commit() {
	if s.role == roleSubsurface && s.sub != nil && s.sub.sync {
		if s.cached == nil {
			s.cached = &surfaceState{}
		}
		s.cached.merge(&s.pending)
		return
	}

	s.apply(&s.pending)

	if s.role == roleToplevel && s.top != nil {
		s.top.applyConfigure()
	}

	s.applyCachedChildren()
	s.updateMapping()
}

// apply atomically replaces committed state with st. The previously
// committed buffer is released if this was its last reference; the
// newly committed one is retained until it, in turn, is replaced.
func (s *surface) apply(st *surfaceState) {
	if st.bufferSet {
		old := s.committed.buffer
		s.committed.buffer = st.buffer
		s.committed.offset = st.offset
		if st.buffer != nil {
			st.buffer.ref()
		}
		if old != nil {
			old.unref()
		}
	}

	s.committed.damage = append(s.committed.damage, st.damage...)
	s.committed.input = st.input
	s.committed.opaque = st.opaque
	s.committed.transform = st.transform
	s.committed.scale = st.scale

	for _, cb := range st.frames {
		s.client.server.requestFrame(s, cb)
	}

	st.reset()
}

// applyCachedChildren walks the subsurface tree in order, parent
// before children, applying every deferred commit so that the whole
// tree changes in a single visible step.
func (s *surface) applyCachedChildren() {
	for _, sub := range s.children {
		child := sub.surface
		if child == nil {
			continue
		}
		sub.position = sub.pendingPosition
		if child.cached != nil {
			child.apply(child.cached)
			child.cached = nil
		}
		child.applyCachedChildren()
		child.updateMapping()
	}
}

// updateMapping moves the surface between the Mapped and Unmapped
// states based on committed state and role rules.
func (s *surface) updateMapping() {
	switch s.role {
	case roleToplevel:
		if s.top == nil {
			return
		}
		switch {
		case !s.mapped && s.committed.buffer != nil:
			s.mapped = true
			s.client.server.mapToplevel(s)
		case s.mapped && s.committed.buffer == nil:
			s.mapped = false
			s.client.server.unmapToplevel(s)
		}

	case roleSubsurface:
		s.mapped = s.sub != nil && s.committed.buffer != nil && s.sub.parent.mapped
		// Subsurfaces size themselves by their buffer.
		s.geometry = image.Rectangle{}
		if s.committed.buffer != nil {
			s.geometry = image.Rectangle{Max: s.committed.buffer.size()}
		}
	}
}

// becomeToplevel gives the surface the top-level role. Roles are
// one-way: any second role assignment is a protocol violation.
func (s *surface) becomeToplevel(top *toplevel) error {
	if s.role != roleNone {
		return &wire.ProtocolError{Object: s.id, Code: wire.ErrRole, Text: "surface already has role " + s.role.String()}
	}
	s.role = roleToplevel
	s.top = top
	return nil
}

// becomeSubsurface gives the surface the subsurface role beneath
// parent.
func (s *surface) becomeSubsurface(id uint32, parent *surface) error {
	if s.role != roleNone {
		return &wire.ProtocolError{Object: s.id, Code: wire.ErrRole, Text: "surface already has role " + s.role.String()}
	}
	if s == parent {
		return &wire.ProtocolError{Object: s.id, Code: wire.ErrInvalidMethod, Text: "surface cannot be its own parent"}
	}
	for p := parent; p != nil; {
		if p == s {
			return &wire.ProtocolError{Object: s.id, Code: wire.ErrInvalidMethod, Text: "subsurface parent loop"}
		}
		if p.sub == nil {
			break
		}
		p = p.sub.parent
	}

	sub := &subsurfaceObject{
		object:  object{iface: "subsurface"},
		client:  s.client,
		surface: s,
		parent:  parent,
		sync:    true,
	}
	if err := s.client.store.Add(id, sub); err != nil {
		return &wire.ProtocolError{Object: s.id, Code: wire.ErrNoMemory, Text: err.Error()}
	}

	s.role = roleSubsurface
	s.sub = sub
	parent.children = append(parent.children, sub)
	return nil
}

// inputAt reports whether the point, in surface-local coordinates, is
// inside the surface's committed input region.
func (s *surface) inputAt(pt image.Point) bool {
	if !pt.In(image.Rectangle{Max: s.geometry.Size()}) {
		return false
	}
	if s.committed.input == nil {
		return true
	}
	return s.committed.input.contains(pt)
}

// enter tells the client which output the surface is now visible on.
func (s *surface) enter(out *outputObject) {
	msg := wire.NewMessage(s, surfaceEnterEvent)
	msg.Method = "enter"
	msg.Args = []any{out.ID()}
	msg.WriteObject(out)
	s.client.post(msg)
}

func (s *surface) leave(out *outputObject) {
	msg := wire.NewMessage(s, surfaceLeaveEvent)
	msg.Method = "leave"
	msg.Args = []any{out.ID()}
	msg.WriteObject(out)
	s.client.post(msg)
}

// destroy handles the client's destroy request.
func (s *surface) destroy() {
	s.client.delete(s.id)
}

// Delete removes the surface from the session: it is unmapped, any
// focus or grab pointing at it is cleared, outstanding frame
// callbacks are cancelled, and its committed buffer reference is
// dropped. It runs both for an explicit destroy request and during
// connection teardown, and is idempotent.
func (s *surface) Delete() {
	if s.dead {
		return
	}
	s.dead = true

	if s.mapped && s.role == roleToplevel {
		s.mapped = false
		s.client.server.unmapToplevel(s)
	}
	s.client.server.seat.forgetSurface(s)
	s.client.server.forgetFrames(s)

	if s.sub != nil {
		s.sub.parent.removeChild(s.sub)
		s.sub = nil
	}
	for _, sub := range s.children {
		sub.surface.sub = nil
		sub.surface.mapped = false
	}
	s.children = nil

	if s.committed.buffer != nil {
		s.committed.buffer.unref()
		s.committed.buffer = nil
	}
	for _, cb := range s.pending.frames {
		cb.cancel()
	}
	s.pending.reset()

	delete(s.client.server.surfaces, s.tid)
	if s.top != nil {
		s.top.surface = nil
		s.top = nil
	}
}
