package comp

import (
	"deedles.dev/tatami/wire"
)

// Opcodes for the display interface.
const (
	displaySyncOp uint16 = iota
	displayGetRegistryOp
)

const (
	displayErrorEvent uint16 = iota
	displayDeleteIDEvent
)

// display is object 1 on every connection: the entry point from
// which everything else is reachable.
type display struct {
	object
	client *Client
}

func (d *display) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case displaySyncOp:
		id := msg.ReadUint()
		if err := msg.Err(); err != nil {
			return err
		}

		cb := &callback{object: object{iface: "callback"}, client: d.client}
		if err := d.client.store.Add(id, cb); err != nil {
			return d.resourceError(err)
		}
		cb.done(d.client.nextSerial())
		return nil

	case displayGetRegistryOp:
		id := msg.ReadUint()
		if err := msg.Err(); err != nil {
			return err
		}

		r := &registryObject{object: object{iface: "registry"}, client: d.client}
		if err := d.client.store.Add(id, r); err != nil {
			return d.resourceError(err)
		}
		d.client.registries = append(d.client.registries, r)
		for _, g := range d.client.server.globals {
			r.global(g)
		}
		return nil
	}

	return wire.UnknownOpError{Interface: d.iface, Op: msg.Op()}
}

func (d *display) MethodName(op uint16) string {
	switch op {
	case displaySyncOp:
		return "sync"
	case displayGetRegistryOp:
		return "get_registry"
	}
	return "unknown"
}

func (d *display) resourceError(err error) error {
	return &wire.ProtocolError{Object: d.id, Code: wire.ErrNoMemory, Text: err.Error()}
}

// error reports a fatal protocol error to the client.
func (d *display) error(perr *wire.ProtocolError) {
	msg := wire.NewMessage(d, displayErrorEvent)
	msg.Method = "error"
	msg.Args = []any{perr.Object, perr.Code, perr.Text}
	msg.WriteUint(perr.Object)
	msg.WriteUint(perr.Code)
	msg.WriteString(perr.Text)
	d.client.post(msg)
}

// deleteID acknowledges destruction of an object, permitting the
// client to reuse its ID.
func (d *display) deleteID(id uint32) {
	msg := wire.NewMessage(d, displayDeleteIDEvent)
	msg.Method = "delete_id"
	msg.Args = []any{id}
	msg.WriteUint(id)
	d.client.post(msg)
}

// Opcodes for the registry interface.
const (
	registryBindOp uint16 = iota
)

const (
	registryGlobalEvent uint16 = iota
	registryGlobalRemoveEvent
)

// registryObject enumerates the compositor's globals to one client.
type registryObject struct {
	object
	client *Client
}

func (r *registryObject) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case registryBindOp:
		name := msg.ReadUint()
		id := msg.ReadNewID()
		if err := msg.Err(); err != nil {
			return err
		}

		for _, g := range r.client.server.globals {
			if g.name == name {
				return g.bind(r.client, id)
			}
		}
		return &wire.ProtocolError{
			Object: r.id,
			Code:   wire.ErrInvalidObject,
			Text:   "bind to unknown global",
		}
	}

	return wire.UnknownOpError{Interface: r.iface, Op: msg.Op()}
}

func (r *registryObject) MethodName(op uint16) string {
	switch op {
	case registryBindOp:
		return "bind"
	}
	return "unknown"
}

func (r *registryObject) global(g *global) {
	msg := wire.NewMessage(r, registryGlobalEvent)
	msg.Method = "global"
	msg.Args = []any{g.name, g.iface, g.version}
	msg.WriteUint(g.name)
	msg.WriteString(g.iface)
	msg.WriteUint(g.version)
	r.client.post(msg)
}

func (r *registryObject) globalRemove(name uint32) {
	msg := wire.NewMessage(r, registryGlobalRemoveEvent)
	msg.Method = "global_remove"
	msg.Args = []any{name}
	msg.WriteUint(name)
	r.client.post(msg)
}

const (
	callbackDoneEvent uint16 = iota
)

// callback fires exactly once and is destroyed by the compositor
// afterwards.
type callback struct {
	object
	client *Client
}

func (cb *callback) Dispatch(msg *wire.MessageBuffer) error {
	return wire.UnknownOpError{Interface: cb.iface, Op: msg.Op()}
}

func (cb *callback) MethodName(op uint16) string {
	return "unknown"
}

// done fires the callback and releases its ID.
func (cb *callback) done(data uint32) {
	msg := wire.NewMessage(cb, callbackDoneEvent)
	msg.Method = "done"
	msg.Args = []any{data}
	msg.WriteUint(data)
	cb.client.post(msg)
	cb.client.delete(cb.id)
}

// cancel releases the callback's ID without firing it. Used when a
// newer frame request supersedes an outstanding one.
func (cb *callback) cancel() {
	cb.client.delete(cb.id)
}
