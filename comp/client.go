package comp

import (
	"errors"
	"io"
	"net"
	"sync"

	"deedles.dev/tatami/internal/cq"
	"deedles.dev/tatami/internal/debug"
	"deedles.dev/tatami/wire"
	"github.com/sirupsen/logrus"
)

// Client is one connected application. It owns every protocol object
// created over its connection; when the connection dies, for any
// reason, all of those objects die with it.
type Client struct {
	server *Server
	conn   *wire.Conn
	store  *store
	queue  *cq.Queue[func() error]
	log    *logrus.Entry

	done  chan struct{}
	close sync.Once
	dead  bool

	serial uint32

	// Bound capability and registry objects, for event fan-out.
	registries []*registryObject
	pointers   []*pointerObject
	keyboards  []*keyboardObject
	touches    []*touchObject
}

func newClient(server *Server, conn *wire.Conn) *Client {
	client := Client{
		server: server,
		conn:   conn,
		store:  newStore(),
		queue:  cq.New[func() error](),
		log:    server.log,
		done:   make(chan struct{}),
	}

	d := &display{object: object{iface: "display"}, client: &client}
	client.store.Add(1, d)

	go client.listen()

	return &client
}

func (client *Client) listen() {
	for {
		msg, err := wire.ReadMessage(client.conn)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				select {
				case <-client.server.done:
				case client.server.queue.Add() <- func() error {
					client.destroy()
					return nil
				}:
				}
				return
			}

			select {
			case <-client.done:
				return
			case client.queue.Add() <- func() error {
				client.terminate(&wire.ProtocolError{Code: wire.ErrImplementation, Text: err.Error()})
				return err
			}:
				continue
			}
		}

		select {
		case <-client.done:
			return
		case client.queue.Add() <- func() error { return client.handle(msg) }:
		}
	}
}

// handle runs one decoded request. A protocol violation is fatal to
// this client only: the error is reported and the connection torn
// down, and nil is returned so that the event loop keeps running.
func (client *Client) handle(msg *wire.MessageBuffer) error {
	defer msg.CloseFiles()

	if client.dead {
		return nil
	}

	err := client.dispatch(msg)
	if err != nil {
		client.log.WithFields(logrus.Fields{
			"object": msg.Sender(),
			"opcode": msg.Op(),
		}).WithError(err).Warn("protocol violation")
		client.terminate(err)
	}
	return nil
}

func (client *Client) dispatch(msg *wire.MessageBuffer) error {
	obj := client.store.Get(msg.Sender())
	if obj == nil {
		return &wire.ProtocolError{
			Object: msg.Sender(),
			Code:   wire.ErrInvalidObject,
			Text:   wire.UnknownSenderIDError{Msg: msg}.Error(),
		}
	}

	err := obj.Dispatch(msg)
	debug.Printf("%v", msg.Debug(obj))
	if err == nil {
		err = msg.Err()
	}
	return err
}

// terminate reports err to the client and then destroys the
// connection.
func (client *Client) terminate(err error) {
	if !client.dead {
		client.display().error(asProtocolError(err))
		client.Flush()
	}
	client.destroy()
}

// asProtocolError maps a dispatch failure onto the display error
// vocabulary. Unknown opcodes are invalid_method; anything else that
// is not already a protocol error, like a short payload, is reported
// as implementation.
func asProtocolError(err error) *wire.ProtocolError {
	var perr *wire.ProtocolError
	if errors.As(err, &perr) {
		return perr
	}

	code := wire.ErrImplementation
	var uoe wire.UnknownOpError
	if errors.As(err, &uoe) {
		code = wire.ErrInvalidMethod
	}
	return &wire.ProtocolError{Code: code, Text: err.Error()}
}

// destroy tears the connection down and destroys every object it
// owns. Destruction order is children before the objects that
// reference them: callbacks and role objects first, then surfaces,
// then buffers and pools, then everything else.
func (client *Client) destroy() {
	if client.dead {
		return
	}
	client.dead = true

	client.server.seat.forgetClient(client)

	objs := client.store.All()
	pass := func(match func(wire.Object) bool) {
		for _, obj := range objs {
			if match(obj) {
				client.store.Delete(obj.ID())
			}
		}
	}
	pass(func(o wire.Object) bool {
		switch o.(type) {
		case *callback, *toplevel, *subsurfaceObject:
			return true
		}
		return false
	})
	pass(func(o wire.Object) bool { _, ok := o.(*surface); return ok })
	pass(func(o wire.Object) bool {
		switch o.(type) {
		case *buffer, *shmPool:
			return true
		}
		return false
	})
	pass(func(wire.Object) bool { return true })

	client.close.Do(func() { close(client.done) })
	client.queue.Stop()
	client.conn.Close()
	client.server.removeClient(client)
}

// Dead reports whether the connection has been torn down.
func (client *Client) Dead() bool {
	return client.dead
}

func (client *Client) display() *display {
	return client.store.Get(1).(*display)
}

// post enqueues an outgoing event onto the connection's ordered
// queue. Events share the queue with request dispatch, which is what
// preserves request/event FIFO per connection.
func (client *Client) post(msg *wire.MessageBuilder) {
	if client.dead {
		return
	}

	select {
	case <-client.done:
	case client.queue.Add() <- func() error {
		debug.Printf(" -> %v", msg)
		return msg.Build(client.conn)
	}:
	}
}

// delete removes an object and acknowledges the ID's release to the
// client, allowing it to reuse the ID.
func (client *Client) delete(id uint32) {
	client.store.Delete(id)
	if !client.dead {
		client.display().deleteID(id)
	}
}

// nextSerial returns a fresh serial for events that require one.
func (client *Client) nextSerial() uint32 {
	client.serial++
	return client.serial
}

// Flush processes everything on the connection's queue: received
// requests are dispatched and queued events are written out, in
// arrival order.
func (client *Client) Flush() error {
	select {
	case queue := <-client.queue.Get():
		return errors.Join(cq.Flush(queue)...)
	default:
		return nil
	}
}
