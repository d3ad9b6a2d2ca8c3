package comp

import (
	"image"

	"deedles.dev/tatami/input"
	"deedles.dev/tatami/wire"
	"golang.org/x/exp/slices"
)

// Opcodes for the pointer interface.
const (
	pointerSetCursorOp uint16 = iota
	pointerReleaseOp
)

const (
	pointerEnterEvent uint16 = iota
	pointerLeaveEvent
	pointerMotionEvent
	pointerButtonEvent
	pointerAxisEvent
	pointerFrameEvent
)

type pointerObject struct {
	object
	client *Client

	// cursor is a weak handle to the cursor-role surface; it fails
	// closed if the surface is destroyed, even across ID reuse.
	cursor  ref
	hotspot image.Point
}

func (p *pointerObject) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case pointerSetCursorOp:
		serial := msg.ReadUint()
		surfaceID := msg.ReadUint()
		hx := msg.ReadInt()
		hy := msg.ReadInt()
		if err := msg.Err(); err != nil {
			return err
		}
		_ = serial

		if surfaceID == 0 {
			p.cursor = ref{}
			return nil
		}
		s, ok := p.client.store.Get(surfaceID).(*surface)
		if !ok {
			return &wire.ProtocolError{Object: p.id, Code: wire.ErrInvalidObject, Text: "set_cursor: no such surface"}
		}
		if s.role != roleNone && s.role != roleCursor {
			return &wire.ProtocolError{Object: p.id, Code: wire.ErrRole, Text: "surface already has role " + s.role.String()}
		}
		s.role = roleCursor
		p.cursor = p.client.store.Ref(surfaceID)
		p.hotspot = image.Pt(int(hx), int(hy))
		return nil

	case pointerReleaseOp:
		p.client.pointers = slices.DeleteFunc(p.client.pointers, func(v *pointerObject) bool { return v == p })
		p.client.delete(p.id)
		return nil
	}

	return wire.UnknownOpError{Interface: p.iface, Op: msg.Op()}
}

func (p *pointerObject) MethodName(op uint16) string {
	switch op {
	case pointerSetCursorOp:
		return "set_cursor"
	case pointerReleaseOp:
		return "release"
	}
	return "unknown"
}

func (p *pointerObject) enter(serial uint32, s *surface, local image.Point) {
	msg := wire.NewMessage(p, pointerEnterEvent)
	msg.Method = "enter"
	msg.Args = []any{serial, s.ID(), local.X, local.Y}
	msg.WriteUint(serial)
	msg.WriteObject(s)
	msg.WriteFixed(wire.FixedInt(local.X))
	msg.WriteFixed(wire.FixedInt(local.Y))
	p.client.post(msg)
}

func (p *pointerObject) leave(serial uint32, s *surface) {
	msg := wire.NewMessage(p, pointerLeaveEvent)
	msg.Method = "leave"
	msg.Args = []any{serial, s.ID()}
	msg.WriteUint(serial)
	msg.WriteObject(s)
	p.client.post(msg)
}

func (p *pointerObject) motion(time uint32, local image.Point) {
	msg := wire.NewMessage(p, pointerMotionEvent)
	msg.Method = "motion"
	msg.Args = []any{time, local.X, local.Y}
	msg.WriteUint(time)
	msg.WriteFixed(wire.FixedInt(local.X))
	msg.WriteFixed(wire.FixedInt(local.Y))
	p.client.post(msg)
}

func (p *pointerObject) button(serial, time uint32, btn input.Button, state input.ButtonState) {
	msg := wire.NewMessage(p, pointerButtonEvent)
	msg.Method = "button"
	msg.Args = []any{serial, time, btn, state}
	msg.WriteUint(serial)
	msg.WriteUint(time)
	msg.WriteUint(uint32(btn))
	msg.WriteUint(uint32(state))
	p.client.post(msg)
}

// Opcodes for the keyboard interface.
const (
	keyboardReleaseOp uint16 = iota
)

const (
	keyboardKeymapEvent uint16 = iota
	keyboardEnterEvent
	keyboardLeaveEvent
	keyboardKeyEvent
	keyboardModifiersEvent
)

type keyboardObject struct {
	object
	client *Client
}

func (k *keyboardObject) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case keyboardReleaseOp:
		k.client.keyboards = slices.DeleteFunc(k.client.keyboards, func(v *keyboardObject) bool { return v == k })
		k.client.delete(k.id)
		return nil
	}

	return wire.UnknownOpError{Interface: k.iface, Op: msg.Op()}
}

func (k *keyboardObject) MethodName(op uint16) string {
	switch op {
	case keyboardReleaseOp:
		return "release"
	}
	return "unknown"
}

func (k *keyboardObject) enter(serial uint32, s *surface) {
	msg := wire.NewMessage(k, keyboardEnterEvent)
	msg.Method = "enter"
	msg.Args = []any{serial, s.ID()}
	msg.WriteUint(serial)
	msg.WriteObject(s)
	msg.WriteArray(nil)
	k.client.post(msg)
}

func (k *keyboardObject) leave(serial uint32, s *surface) {
	msg := wire.NewMessage(k, keyboardLeaveEvent)
	msg.Method = "leave"
	msg.Args = []any{serial, s.ID()}
	msg.WriteUint(serial)
	msg.WriteObject(s)
	k.client.post(msg)
}

func (k *keyboardObject) key(serial, time, code uint32, state input.ButtonState) {
	msg := wire.NewMessage(k, keyboardKeyEvent)
	msg.Method = "key"
	msg.Args = []any{serial, time, code, state}
	msg.WriteUint(serial)
	msg.WriteUint(time)
	msg.WriteUint(code)
	msg.WriteUint(uint32(state))
	k.client.post(msg)
}

// Opcodes for the touch interface.
const (
	touchReleaseOp uint16 = iota
)

const (
	touchDownEvent uint16 = iota
	touchUpEvent
	touchMotionEvent
	touchFrameEvent
)

type touchObject struct {
	object
	client *Client
}

func (t *touchObject) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case touchReleaseOp:
		t.client.touches = slices.DeleteFunc(t.client.touches, func(v *touchObject) bool { return v == t })
		t.client.delete(t.id)
		return nil
	}

	return wire.UnknownOpError{Interface: t.iface, Op: msg.Op()}
}

func (t *touchObject) MethodName(op uint16) string {
	switch op {
	case touchReleaseOp:
		return "release"
	}
	return "unknown"
}

func (t *touchObject) down(serial, time uint32, s *surface, id int32, local image.Point) {
	msg := wire.NewMessage(t, touchDownEvent)
	msg.Method = "down"
	msg.Args = []any{serial, time, s.ID(), id, local.X, local.Y}
	msg.WriteUint(serial)
	msg.WriteUint(time)
	msg.WriteObject(s)
	msg.WriteInt(id)
	msg.WriteFixed(wire.FixedInt(local.X))
	msg.WriteFixed(wire.FixedInt(local.Y))
	t.client.post(msg)
}

func (t *touchObject) up(serial, time uint32, id int32) {
	msg := wire.NewMessage(t, touchUpEvent)
	msg.Method = "up"
	msg.Args = []any{serial, time, id}
	msg.WriteUint(serial)
	msg.WriteUint(time)
	msg.WriteInt(id)
	t.client.post(msg)
}
