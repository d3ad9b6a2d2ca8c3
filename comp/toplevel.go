package comp

import (
	"image"

	"deedles.dev/tatami/wire"
)

// Opcodes for the shell interface.
const (
	shellGetToplevelOp uint16 = iota
)

// shellObject is the global that assigns the top-level role.
type shellObject struct {
	object
	client *Client
}

func (sh *shellObject) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case shellGetToplevelOp:
		id := msg.ReadUint()
		surfaceID := msg.ReadUint()
		if err := msg.Err(); err != nil {
			return err
		}

		s, ok := sh.client.store.Get(surfaceID).(*surface)
		if !ok {
			return &wire.ProtocolError{Object: sh.id, Code: wire.ErrInvalidObject, Text: "get_toplevel: no such surface"}
		}

		top := &toplevel{object: object{iface: "toplevel"}, client: sh.client, surface: s}
		if err := s.becomeToplevel(top); err != nil {
			return err
		}
		if err := sh.client.store.Add(id, top); err != nil {
			return &wire.ProtocolError{Object: sh.id, Code: wire.ErrNoMemory, Text: err.Error()}
		}
		return nil
	}

	return wire.UnknownOpError{Interface: sh.iface, Op: msg.Op()}
}

func (sh *shellObject) MethodName(op uint16) string {
	switch op {
	case shellGetToplevelOp:
		return "get_toplevel"
	}
	return "unknown"
}

// Opcodes for the toplevel interface.
const (
	toplevelDestroyOp uint16 = iota
	toplevelSetTitleOp
	toplevelSetAppIDOp
	toplevelAckConfigureOp
	toplevelGrabOp
	toplevelUngrabOp
)

const (
	toplevelConfigureEvent uint16 = iota
	toplevelCloseEvent
)

// toplevel is the role object of a tiled window. The compositor
// assigns its geometry: every assignment is sent as a configure
// event, and takes effect only on the first commit after the client
// acknowledges it.
type toplevel struct {
	object
	client  *Client
	surface *surface

	title string
	appID string

	configureSerial uint32
	pendingGeometry image.Rectangle
	acked           bool
}

func (top *toplevel) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case toplevelDestroyOp:
		top.client.delete(top.id)
		return nil

	case toplevelSetTitleOp:
		title := msg.ReadString()
		if err := msg.Err(); err != nil {
			return err
		}
		top.title = title
		return nil

	case toplevelSetAppIDOp:
		appID := msg.ReadString()
		if err := msg.Err(); err != nil {
			return err
		}
		top.appID = appID
		return nil

	case toplevelAckConfigureOp:
		serial := msg.ReadUint()
		if err := msg.Err(); err != nil {
			return err
		}
		if serial == top.configureSerial {
			top.acked = true
		}
		return nil

	case toplevelGrabOp:
		seatID := msg.ReadUint()
		if err := msg.Err(); err != nil {
			return err
		}
		if _, ok := top.client.store.Get(seatID).(*seatObject); !ok {
			return &wire.ProtocolError{Object: top.id, Code: wire.ErrInvalidObject, Text: "grab: no such seat"}
		}
		if top.surface == nil {
			return nil
		}
		err := top.client.server.seat.grab(top.surface)
		if err != nil {
			top.client.log.WithError(err).Debug("grab denied")
		}
		return nil

	case toplevelUngrabOp:
		seatID := msg.ReadUint()
		if err := msg.Err(); err != nil {
			return err
		}
		if _, ok := top.client.store.Get(seatID).(*seatObject); !ok {
			return &wire.ProtocolError{Object: top.id, Code: wire.ErrInvalidObject, Text: "ungrab: no such seat"}
		}
		if top.surface != nil {
			top.client.server.seat.ungrab(top.surface)
		}
		return nil
	}

	return wire.UnknownOpError{Interface: top.iface, Op: msg.Op()}
}

func (top *toplevel) MethodName(op uint16) string {
	switch op {
	case toplevelDestroyOp:
		return "destroy"
	case toplevelSetTitleOp:
		return "set_title"
	case toplevelSetAppIDOp:
		return "set_app_id"
	case toplevelAckConfigureOp:
		return "ack_configure"
	case toplevelGrabOp:
		return "grab"
	case toplevelUngrabOp:
		return "ungrab"
	}
	return "unknown"
}

// sendConfigure tells the client its newly assigned geometry. The
// geometry stays pending until acknowledged and committed.
func (top *toplevel) sendConfigure(geo image.Rectangle) {
	top.configureSerial = top.client.nextSerial()
	top.pendingGeometry = geo
	top.acked = false

	msg := wire.NewMessage(top, toplevelConfigureEvent)
	msg.Method = "configure"
	msg.Args = []any{geo.Dx(), geo.Dy(), top.configureSerial}
	msg.WriteInt(int32(geo.Dx()))
	msg.WriteInt(int32(geo.Dy()))
	msg.WriteUint(top.configureSerial)
	top.client.post(msg)
}

// applyConfigure runs at commit time: an acknowledged geometry
// becomes the surface's effective geometry.
func (top *toplevel) applyConfigure() {
	if !top.acked || top.surface == nil {
		return
	}
	top.surface.geometry = top.pendingGeometry
	top.acked = false
}

// requestClose asks the client to close the window.
func (top *toplevel) requestClose() {
	msg := wire.NewMessage(top, toplevelCloseEvent)
	msg.Method = "close"
	top.client.post(msg)
}

// Delete unmaps the surface when the client destroys the role
// object. The role slot itself stays occupied; roles are one-way.
func (top *toplevel) Delete() {
	s := top.surface
	if s == nil {
		return
	}
	s.top = nil
	top.surface = nil
	if s.mapped {
		s.mapped = false
		s.client.server.unmapToplevel(s)
	}
}
