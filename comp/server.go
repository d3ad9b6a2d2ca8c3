package comp

import (
	"context"
	"errors"
	"image"
	"net"
	"sync"
	"time"

	"deedles.dev/tatami/input"
	"deedles.dev/tatami/internal/cq"
	"deedles.dev/tatami/internal/set"
	"deedles.dev/tatami/tile"
	"deedles.dev/tatami/wire"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

// Options configures a Server. Zero values get reasonable defaults.
type Options struct {
	// Log receives structured compositor logs. Defaults to the
	// standard logrus logger.
	Log *logrus.Logger

	// Strategy is the tiling strategy for new workspaces. Defaults to
	// tile.Split{}.
	Strategy tile.Strategy

	// Backend renders committed scenes. If nil, rendering is a no-op
	// that completes instantly; frame pacing still works, which is
	// useful headless and in tests.
	Backend Backend
}

// Server is the compositor session: it owns every connection, the
// seat, the outputs, and the single logical event loop that mutates
// all of them.
type Server struct {
	log      *logrus.Entry
	lis      *net.UnixListener
	strategy tile.Strategy
	backend  Backend

	done  chan struct{}
	close sync.Once
	queue *cq.Queue[func() error]

	clients set.Set[*Client]

	globals    []*global
	nextGlobal uint32

	seat     *Seat
	outputs  []*Output
	surfaces map[tile.ID]*surface
	nextTID  tile.ID

	start time.Time
}

// global is a compositor-wide singleton advertised to every
// connection. Globals are kept in insertion order; clients depend on
// enumeration order for capability discovery.
type global struct {
	name    uint32
	iface   string
	version uint32
	bind    func(c *Client, id wire.NewID) error
}

// ListenAndServe listens on a fresh socket in the runtime directory
// and serves on it.
func ListenAndServe(opts Options) (*Server, string, error) {
	lis, path, err := wire.Listen("")
	if err != nil {
		return nil, "", err
	}
	return NewServer(lis, opts), path, nil
}

// NewServer serves connections accepted from lis. The returned
// server is running: accepted clients are dispatched as soon as the
// event loop is driven by Run or Flush.
func NewServer(lis *net.UnixListener, opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	strategy := opts.Strategy
	if strategy == nil {
		strategy = tile.Split{}
	}

	server := Server{
		log:      log.WithField("component", "comp"),
		lis:      lis,
		strategy: strategy,
		backend:  opts.Backend,
		done:     make(chan struct{}),
		queue:    cq.New[func() error](),
		clients:  make(set.Set[*Client]),
		surfaces: make(map[tile.ID]*surface),
		start:    time.Now(),
	}
	server.seat = newSeat(&server, "seat0")
	server.advertiseCoreGlobals()

	if lis != nil {
		go server.listen()
	}

	return &server
}

func (server *Server) listen() {
	for {
		c, err := server.lis.AcceptUnix()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}

			select {
			case <-server.done:
				return
			case server.queue.Add() <- func() error { return err }:
				continue
			}
		}

		select {
		case <-server.done:
			return
		case server.queue.Add() <- func() error { server.addClient(wire.NewConn(c)); return nil }:
		}
	}
}

func (server *Server) addClient(conn *wire.Conn) *Client {
	client := newClient(server, conn)
	server.clients.Add(client)
	server.log.Info("client connected")
	return client
}

func (server *Server) removeClient(client *Client) {
	if !server.clients.Has(client) {
		return
	}
	server.clients.Remove(client)
	server.log.Info("client disconnected")
}

// advertiseCoreGlobals registers the singletons every session has.
// Output globals come and go with hardware hot-plug instead.
func (server *Server) advertiseCoreGlobals() {
	server.advertise("compositor", 1, func(c *Client, id wire.NewID) error {
		obj := &compositorObject{object: object{iface: "compositor"}, client: c}
		return bindAdd(c, id, obj)
	})
	server.advertise("subcompositor", 1, func(c *Client, id wire.NewID) error {
		obj := &subcompositorObject{object: object{iface: "subcompositor"}, client: c}
		return bindAdd(c, id, obj)
	})
	server.advertise("shm", 1, func(c *Client, id wire.NewID) error {
		obj := &shmObject{object: object{iface: "shm"}, client: c}
		err := bindAdd(c, id, obj)
		if err == nil {
			obj.advertiseFormats()
		}
		return err
	})
	server.advertise("seat", 1, func(c *Client, id wire.NewID) error {
		obj := &seatObject{object: object{iface: "seat"}, client: c, seat: server.seat}
		err := bindAdd(c, id, obj)
		if err == nil {
			obj.announce()
		}
		return err
	})
	server.advertise("shell", 1, func(c *Client, id wire.NewID) error {
		obj := &shellObject{object: object{iface: "shell"}, client: c}
		return bindAdd(c, id, obj)
	})
}

func bindAdd(c *Client, id wire.NewID, obj wire.Object) error {
	err := c.store.Add(id.ID, obj)
	if err != nil {
		return &wire.ProtocolError{Object: id.ID, Code: wire.ErrNoMemory, Text: err.Error()}
	}
	return nil
}

// advertise registers a new global and announces it to every
// connection that has a registry.
func (server *Server) advertise(iface string, version uint32, bind func(*Client, wire.NewID) error) *global {
	server.nextGlobal++
	g := &global{name: server.nextGlobal, iface: iface, version: version, bind: bind}
	server.globals = append(server.globals, g)

	for client := range server.clients {
		for _, r := range client.registries {
			r.global(g)
		}
	}
	return g
}

// unadvertise removes a global and tells every connection.
func (server *Server) unadvertise(g *global) {
	server.globals = slices.DeleteFunc(server.globals, func(v *global) bool { return v == g })
	for client := range server.clients {
		for _, r := range client.registries {
			r.globalRemove(g.name)
		}
	}
}

// now is the timestamp carried by input and frame events.
func (server *Server) now() uint32 {
	return timestamp(time.Since(server.start))
}

// createSurface allocates a surface with a fresh compositor-wide ID.
func (server *Server) createSurface(c *Client, id uint32) error {
	server.nextTID++
	s := &surface{
		object: object{iface: "surface"},
		client: c,
		tid:    server.nextTID,
	}
	s.pending.scale = 1
	s.committed.scale = 1

	if err := c.store.Add(id, s); err != nil {
		return &wire.ProtocolError{Object: id, Code: wire.ErrNoMemory, Text: err.Error()}
	}
	server.surfaces[s.tid] = s
	return nil
}

// pickOutput chooses the output a newly mapped surface lands on.
func (server *Server) pickOutput() *Output {
	if len(server.outputs) == 0 {
		return nil
	}
	return server.outputs[0]
}

// mapToplevel puts a newly mapped surface onto a workspace, raises
// it, grants it keyboard focus, and rearranges the output.
func (server *Server) mapToplevel(s *surface) {
	out := server.pickOutput()
	if out == nil {
		return
	}

	s.output = out
	out.ws.Insert(s.tid)
	server.arrange(out)
	server.seat.focusKeyboard(s)

	if oo := out.binding(s.client); oo != nil {
		s.enter(oo)
	}
	server.log.WithField("surface", s.tid).Debug("mapped")
}

// unmapToplevel removes a surface from its workspace and moves
// keyboard focus to the new top of the stack.
func (server *Server) unmapToplevel(s *surface) {
	out := s.output
	if out == nil {
		return
	}

	if oo := out.binding(s.client); oo != nil && !s.client.Dead() {
		s.leave(oo)
	}

	hadFocus := server.seat.keyboardFocus == s.tid
	server.seat.forgetSurface(s)
	out.sched.forget(s.tid)
	out.ws.Remove(s.tid)
	s.output = nil
	s.geometry = image.Rectangle{}
	server.arrange(out)

	if hadFocus {
		for _, id := range out.ws.Stacking() {
			if next := server.seat.resolve(id); next != nil {
				server.seat.focusKeyboard(next)
				break
			}
		}
	}
	server.log.WithField("surface", s.tid).Debug("unmapped")
}

// arrange recomputes the output's layout and sends configure to
// every surface whose assigned geometry changed. Geometry is not
// applied here: it lands when each client acknowledges and commits.
func (server *Server) arrange(out *Output) {
	for _, id := range out.ws.Arrange(out.area()) {
		s := server.surfaces[id]
		if s == nil || s.top == nil {
			continue
		}
		geo, _ := out.ws.Geometry(id)
		s.top.sendConfigure(geo)
	}
}

// requestFrame registers a committed frame callback with the
// surface's output. A surface not on any output gets its callback
// fired immediately so that a client rendering off-screen is not
// starved.
func (server *Server) requestFrame(s *surface, cb *callback) {
	out := s.output
	if out == nil {
		out = server.pickOutput()
	}
	if out == nil {
		cb.done(server.now())
		return
	}
	out.sched.request(s.tid, cb)
}

// forgetFrames cancels a dying surface's outstanding callbacks.
func (server *Server) forgetFrames(s *surface) {
	for _, out := range server.outputs {
		out.sched.forget(s.tid)
	}
}

// render hands a scene to the backend. Without a backend the frame
// completes immediately.
func (server *Server) render(scene Scene) <-chan error {
	if server.backend == nil {
		done := make(chan error, 1)
		done <- nil
		return done
	}
	return server.backend.Render(scene)
}

// AddOutput plugs a display in. Mapped surfaces that had nowhere to
// go are swept onto it.
func (server *Server) AddOutput(name string, mode Mode, pos image.Point) *Output {
	out := &Output{
		server: server,
		name:   name,
		mode:   mode,
		pos:    pos,
		ws:     tile.NewWorkspace(server.strategy),
		stop:   make(chan struct{}),
	}
	out.sched = newScheduler(out)
	server.outputs = append(server.outputs, out)

	out.globalName = server.advertise("output", 1, func(c *Client, id wire.NewID) error {
		oo := &outputObject{object: object{iface: "output"}, client: c, output: out}
		err := bindAdd(c, id, oo)
		if err == nil {
			out.bound = append(out.bound, oo)
			oo.announce()
		}
		return err
	}).name

	for _, s := range server.surfaces {
		if s.mapped && s.output == nil && s.role == roleToplevel {
			s.output = out
			out.ws.Insert(s.tid)
		}
	}
	server.arrange(out)

	if mode.Refresh > 0 {
		go server.vsync(out)
	}

	server.log.WithFields(logrus.Fields{
		"output": name,
		"mode":   mode,
	}).Info("output added")
	return out
}

// vsync drives an output's frame scheduler at its refresh rate. The
// tick itself runs on the event loop.
func (server *Server) vsync(out *Output) {
	tick := time.NewTicker(time.Second / time.Duration(out.mode.Refresh))
	defer tick.Stop()

	for {
		select {
		case <-server.done:
			return
		case <-out.stop:
			return
		case <-tick.C:
			select {
			case <-server.done:
				return
			case <-out.stop:
				return
			case server.queue.Add() <- func() error { out.sched.tick(); return nil }:
			}
		}
	}
}

// RemoveOutput unplugs a display. Its surfaces migrate to the first
// remaining output, or become homeless until one appears.
func (server *Server) RemoveOutput(out *Output) {
	i := slices.Index(server.outputs, out)
	if i < 0 {
		return
	}
	server.outputs = slices.Delete(server.outputs, i, i+1)
	close(out.stop)
	out.sched.drain()

	for _, g := range server.globals {
		if g.name == out.globalName {
			server.unadvertise(g)
			break
		}
	}

	dst := server.pickOutput()
	for _, id := range out.ws.Surfaces() {
		s := server.surfaces[id]
		out.ws.Remove(id)
		if s == nil {
			continue
		}
		s.output = dst
		s.geometry = image.Rectangle{}
		if dst != nil {
			dst.ws.Insert(id)
		}
	}
	if dst != nil {
		server.arrange(dst)
	}

	server.log.WithField("output", out.name).Info("output removed")
}

// SetOutputMode applies a hardware mode change.
func (server *Server) SetOutputMode(out *Output, mode Mode) {
	server.inject(func() { out.setMode(mode) })
}

// Input injection. The device layer calls these from any goroutine;
// the events are routed on the event loop against committed state.

func (server *Server) inject(f func()) {
	select {
	case <-server.done:
	case server.queue.Add() <- func() error { f(); return nil }:
	}
}

// PointerMotion moves the seat pointer to a global position.
func (server *Server) PointerMotion(x, y int) {
	server.inject(func() { server.seat.pointerMotion(image.Pt(x, y), server.now()) })
}

// PointerButton reports a button transition.
func (server *Server) PointerButton(btn input.Button, state input.ButtonState) {
	server.inject(func() { server.seat.pointerButton(btn, state, server.now()) })
}

// Key reports a key transition to the keyboard focus.
func (server *Server) Key(code uint32, state input.ButtonState) {
	server.inject(func() { server.seat.key(code, state, server.now()) })
}

// TouchDown reports a touch point landing.
func (server *Server) TouchDown(id int32, x, y int) {
	server.inject(func() { server.seat.touchDown(id, image.Pt(x, y), server.now()) })
}

// TouchUp reports a touch point lifting.
func (server *Server) TouchUp(id int32) {
	server.inject(func() { server.seat.touchUp(id, server.now()) })
}

// FocusNext moves keyboard focus to the next window in layout order
// on the focused output, wrapping around. The newly focused window is
// raised.
func (server *Server) FocusNext() {
	server.inject(func() {
		out := server.pickOutput()
		cur := server.seat.resolve(server.seat.keyboardFocus)
		if cur != nil && cur.output != nil {
			out = cur.output
		}
		if out == nil || out.ws.Len() == 0 {
			return
		}

		order := out.ws.Surfaces()
		i := 0
		if cur != nil {
			if j := slices.Index(order, cur.tid); j >= 0 {
				i = (j + 1) % len(order)
			}
		}
		for range order {
			if next := server.seat.resolve(order[i]); next != nil {
				server.seat.focusKeyboard(next)
				return
			}
			i = (i + 1) % len(order)
		}
	})
}

// CloseFocused asks the keyboard-focused window to close.
func (server *Server) CloseFocused() {
	server.inject(func() {
		s := server.seat.resolve(server.seat.keyboardFocus)
		if s != nil && s.top != nil {
			s.top.requestClose()
		}
	})
}

// Flush processes everything queued on the server and on every
// connection: new clients, requests, events, input, and frame ticks,
// in arrival order. All compositor state mutation happens here, on
// the caller's goroutine.
func (server *Server) Flush() error {
	var errs []error

	select {
	case queue := <-server.queue.Get():
		errs = append(errs, cq.Flush(queue)...)
	default:
	}

	for client := range server.clients {
		err := client.Flush()
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Run drives the event loop until ctx is cancelled or the server is
// closed.
func (server *Server) Run(ctx context.Context) error {
	tick := time.NewTicker(time.Second / 250)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-server.done:
			return nil
		case <-tick.C:
			err := server.Flush()
			if err != nil {
				server.log.WithError(err).Warn("flush")
			}
		}
	}
}

// Close shuts the compositor down: the listener closes, every
// connection is torn down, and the event loop stops.
func (server *Server) Close() error {
	var err error
	server.close.Do(func() {
		if server.lis != nil {
			err = server.lis.Close()
		}
		for client := range server.clients {
			client.destroy()
		}
		for _, out := range server.outputs {
			close(out.stop)
		}
		close(server.done)
		server.queue.Stop()
	})
	return err
}
