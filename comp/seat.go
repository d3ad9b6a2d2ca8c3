package comp

import (
	"fmt"
	"image"

	"deedles.dev/tatami/input"
	"deedles.dev/tatami/tile"
	"deedles.dev/tatami/wire"
)

// Seat capability bits.
const (
	capPointer uint32 = 1 << iota
	capKeyboard
	capTouch
)

// ErrGrabExists is returned when a surface requests an input grab
// while another surface still holds one. First grab wins; the loser
// is told no.
type ErrGrabExists struct {
	Holder tile.ID
}

func (err ErrGrabExists) Error() string {
	return fmt.Sprintf("input grab already held by surface %v", err.Holder)
}

// Seat routes input to surfaces. It holds one focus per input class;
// focus is a surface ID resolved through the server's surface table
// on every use, so a destroyed surface simply stops resolving rather
// than dangling.
type Seat struct {
	server *Server
	name   string

	pointerFocus  tile.ID
	keyboardFocus tile.ID
	touchFocus    tile.ID
	grabHolder    tile.ID

	pointerPos image.Point
}

func newSeat(server *Server, name string) *Seat {
	return &Seat{server: server, name: name}
}

// resolve looks a focus ID up, failing closed for destroyed or
// unmapped surfaces.
func (seat *Seat) resolve(id tile.ID) *surface {
	if id == 0 {
		return nil
	}
	s := seat.server.surfaces[id]
	if s == nil || s.dead {
		return nil
	}
	return s
}

// target returns the surface that pointer events should go to: the
// grab holder if a grab is active, otherwise the surface under the
// pointer.
func (seat *Seat) target(pos image.Point) *surface {
	if g := seat.resolve(seat.grabHolder); g != nil {
		return g
	}
	return seat.hitTest(pos)
}

// hitTest finds the topmost surface whose committed geometry and
// input region contain pos, walking the stacking order of the output
// under the point and each surface's subsurface tree top-to-bottom.
func (seat *Seat) hitTest(pos image.Point) *surface {
	for _, out := range seat.server.outputs {
		if !pos.In(out.area()) {
			continue
		}
		for _, id := range out.ws.Stacking() {
			s := seat.resolve(id)
			if s == nil || !s.mapped {
				continue
			}
			if hit := hitSurface(s, pos.Sub(s.geometry.Min)); hit != nil {
				return hit
			}
		}
	}
	return nil
}

// hitSurface tests a surface and its subsurface tree. Children are
// stacked above their parent, so they are tested first, topmost
// child first.
func hitSurface(s *surface, local image.Point) *surface {
	for i := len(s.children) - 1; i >= 0; i-- {
		sub := s.children[i]
		if sub.surface == nil || !sub.surface.mapped {
			continue
		}
		if hit := hitSurface(sub.surface, local.Sub(sub.position)); hit != nil {
			return hit
		}
	}
	if s.inputAt(local) {
		return s
	}
	return nil
}

// PointerMotion routes a pointer move. Crossing a surface boundary
// emits leave for the old surface, then enter for the new one, then
// the motion itself, in that order.
func (seat *Seat) pointerMotion(pos image.Point, time uint32) {
	seat.pointerPos = pos
	target := seat.target(pos)

	old := seat.resolve(seat.pointerFocus)
	if target != old {
		if old != nil {
			serial := old.client.nextSerial()
			for _, p := range old.client.pointers {
				p.leave(serial, old)
			}
		}
		seat.pointerFocus = 0
		if target != nil {
			seat.pointerFocus = target.tid
			local := surfaceLocal(target, pos)
			serial := target.client.nextSerial()
			for _, p := range target.client.pointers {
				p.enter(serial, target, local)
			}
		}
	}

	if target != nil {
		local := surfaceLocal(target, pos)
		for _, p := range target.client.pointers {
			p.motion(time, local)
		}
	}
}

// PointerButton routes a button transition to the pointer focus.
func (seat *Seat) pointerButton(btn input.Button, state input.ButtonState, time uint32) {
	target := seat.resolve(seat.grabHolder)
	if target == nil {
		target = seat.resolve(seat.pointerFocus)
	}
	if target == nil {
		return
	}

	serial := target.client.nextSerial()
	for _, p := range target.client.pointers {
		p.button(serial, time, btn, state)
	}
}

// focusKeyboard transfers keyboard focus. Keyboard focus moves only
// through explicit transfer, never as a side effect of pointer
// motion.
func (seat *Seat) focusKeyboard(s *surface) {
	old := seat.resolve(seat.keyboardFocus)
	if old == s {
		return
	}

	if old != nil && !old.client.Dead() {
		serial := old.client.nextSerial()
		for _, k := range old.client.keyboards {
			k.leave(serial, old)
		}
	}

	seat.keyboardFocus = 0
	if s != nil {
		seat.keyboardFocus = s.tid
		if s.output != nil {
			s.output.ws.Raise(s.tid)
		}
		serial := s.client.nextSerial()
		for _, k := range s.client.keyboards {
			k.enter(serial, s)
		}
	}
}

// key routes a key transition to the keyboard focus.
func (seat *Seat) key(code uint32, state input.ButtonState, time uint32) {
	target := seat.resolve(seat.grabHolder)
	if target == nil {
		target = seat.resolve(seat.keyboardFocus)
	}
	if target == nil {
		return
	}

	serial := target.client.nextSerial()
	for _, k := range target.client.keyboards {
		k.key(serial, time, code, state)
	}
}

// touchDown routes a touch point to the surface under it and focuses
// touch on it until the corresponding up.
func (seat *Seat) touchDown(id int32, pos image.Point, time uint32) {
	target := seat.resolve(seat.grabHolder)
	if target == nil {
		target = seat.hitTest(pos)
	}
	if target == nil {
		return
	}

	seat.touchFocus = target.tid
	local := surfaceLocal(target, pos)
	serial := target.client.nextSerial()
	for _, t := range target.client.touches {
		t.down(serial, time, target, id, local)
	}
}

func (seat *Seat) touchUp(id int32, time uint32) {
	target := seat.resolve(seat.touchFocus)
	seat.touchFocus = 0
	if target == nil {
		return
	}

	serial := target.client.nextSerial()
	for _, t := range target.client.touches {
		t.up(serial, time, id)
	}
}

// grab gives s exclusive routing of pointer and keyboard events.
// First grab wins: a second grab request while one is held fails.
func (seat *Seat) grab(s *surface) error {
	if holder := seat.resolve(seat.grabHolder); holder != nil && holder != s {
		return ErrGrabExists{Holder: holder.tid}
	}
	seat.grabHolder = s.tid
	return nil
}

// ungrab releases a grab held by s. A release request from anyone
// else is ignored.
func (seat *Seat) ungrab(s *surface) {
	if seat.grabHolder == s.tid {
		seat.grabHolder = 0
	}
}

// cursor returns the cursor surface set by the pointer-focus client
// along with its hotspot. Cursors are held as generation-checked
// store refs, so a destroyed cursor surface simply stops resolving,
// even if the client has already reused its ID.
func (seat *Seat) cursor() (*surface, image.Point) {
	s := seat.resolve(seat.pointerFocus)
	if s == nil {
		return nil, image.Point{}
	}
	for i := len(s.client.pointers) - 1; i >= 0; i-- {
		p := s.client.pointers[i]
		if cur, ok := p.cursor.Resolve().(*surface); ok && !cur.dead {
			return cur, p.hotspot
		}
	}
	return nil, image.Point{}
}

// forgetSurface clears any focus or grab pointing at a surface that
// is going away, emitting leave events only if its connection is
// still alive.
func (seat *Seat) forgetSurface(s *surface) {
	alive := !s.client.Dead()

	if seat.pointerFocus == s.tid {
		seat.pointerFocus = 0
		if alive {
			serial := s.client.nextSerial()
			for _, p := range s.client.pointers {
				p.leave(serial, s)
			}
		}
	}
	if seat.keyboardFocus == s.tid {
		seat.keyboardFocus = 0
		if alive {
			serial := s.client.nextSerial()
			for _, k := range s.client.keyboards {
				k.leave(serial, s)
			}
		}
	}
	if seat.touchFocus == s.tid {
		seat.touchFocus = 0
	}
	seat.ungrab(s)
}

// forgetClient clears all routing state pointing into a dead
// connection without emitting anything.
func (seat *Seat) forgetClient(c *Client) {
	clear := func(id tile.ID) tile.ID {
		if s := seat.server.surfaces[id]; s != nil && s.client == c {
			return 0
		}
		return id
	}
	seat.pointerFocus = clear(seat.pointerFocus)
	seat.keyboardFocus = clear(seat.keyboardFocus)
	seat.touchFocus = clear(seat.touchFocus)
	seat.grabHolder = clear(seat.grabHolder)
}

// surfaceLocal converts a global position into surface-local
// coordinates: every subsurface offset on the way up, plus the root
// surface's assigned origin. Mirrors the accumulation hitTest walks
// downward.
func surfaceLocal(s *surface, pos image.Point) image.Point {
	local := pos
	root := s
	for root.sub != nil && root.sub.parent != nil {
		local = local.Sub(root.sub.position)
		root = root.sub.parent
	}
	return local.Sub(root.geometry.Min)
}

// Opcodes for the seat interface.
const (
	seatGetPointerOp uint16 = iota
	seatGetKeyboardOp
	seatGetTouchOp
	seatReleaseOp
)

const (
	seatCapabilitiesEvent uint16 = iota
	seatNameEvent
)

// seatObject is one client's binding of the seat global.
type seatObject struct {
	object
	client *Client
	seat   *Seat
}

func (so *seatObject) announce() {
	msg := wire.NewMessage(so, seatCapabilitiesEvent)
	msg.Method = "capabilities"
	msg.Args = []any{capPointer | capKeyboard | capTouch}
	msg.WriteUint(capPointer | capKeyboard | capTouch)
	so.client.post(msg)

	msg = wire.NewMessage(so, seatNameEvent)
	msg.Method = "name"
	msg.Args = []any{so.seat.name}
	msg.WriteString(so.seat.name)
	so.client.post(msg)
}

func (so *seatObject) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case seatGetPointerOp:
		id := msg.ReadUint()
		if err := msg.Err(); err != nil {
			return err
		}

		p := &pointerObject{object: object{iface: "pointer"}, client: so.client}
		if err := so.client.store.Add(id, p); err != nil {
			return &wire.ProtocolError{Object: so.id, Code: wire.ErrNoMemory, Text: err.Error()}
		}
		so.client.pointers = append(so.client.pointers, p)
		return nil

	case seatGetKeyboardOp:
		id := msg.ReadUint()
		if err := msg.Err(); err != nil {
			return err
		}

		k := &keyboardObject{object: object{iface: "keyboard"}, client: so.client}
		if err := so.client.store.Add(id, k); err != nil {
			return &wire.ProtocolError{Object: so.id, Code: wire.ErrNoMemory, Text: err.Error()}
		}
		so.client.keyboards = append(so.client.keyboards, k)
		return nil

	case seatGetTouchOp:
		id := msg.ReadUint()
		if err := msg.Err(); err != nil {
			return err
		}

		t := &touchObject{object: object{iface: "touch"}, client: so.client}
		if err := so.client.store.Add(id, t); err != nil {
			return &wire.ProtocolError{Object: so.id, Code: wire.ErrNoMemory, Text: err.Error()}
		}
		so.client.touches = append(so.client.touches, t)
		return nil

	case seatReleaseOp:
		so.client.delete(so.id)
		return nil
	}

	return wire.UnknownOpError{Interface: so.iface, Op: msg.Op()}
}

func (so *seatObject) MethodName(op uint16) string {
	switch op {
	case seatGetPointerOp:
		return "get_pointer"
	case seatGetKeyboardOp:
		return "get_keyboard"
	case seatGetTouchOp:
		return "get_touch"
	case seatReleaseOp:
		return "release"
	}
	return "unknown"
}
