package comp

import (
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"deedles.dev/tatami/wire"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// testObject is a minimal protocol object for driving dispatch and
// exercising the store.
type testObject struct {
	object
	deleted bool
}

func (o *testObject) Dispatch(msg *wire.MessageBuffer) error { return nil }
func (o *testObject) MethodName(op uint16) string            { return "test" }
func (o *testObject) Delete()                                { o.deleted = true }

func socketpair(t *testing.T) (*net.UnixConn, *net.UnixConn) {
	t.Helper()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}

	open := func(fd int) *net.UnixConn {
		f := os.NewFile(uintptr(fd), "socketpair")
		defer f.Close()
		c, err := net.FileConn(f)
		if err != nil {
			t.Fatalf("fileconn: %v", err)
		}
		uc := c.(*net.UnixConn)
		t.Cleanup(func() { uc.Close() })
		return uc
	}
	return open(fds[0]), open(fds[1])
}

// testEnv is a compositor with one connected client. Requests are
// injected directly into the dispatch path, and events are read back
// from the test's end of the connection.
type testEnv struct {
	t      *testing.T
	server *Server
	client *Client
	conn   *net.UnixConn

	reqW, reqR *wire.Conn
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()

	if opts.Log == nil {
		log := logrus.New()
		log.SetOutput(io.Discard)
		opts.Log = log
	}
	server := NewServer(nil, opts)
	t.Cleanup(func() { server.Close() })

	serverEnd, testEnd := socketpair(t)
	client := server.addClient(wire.NewConn(serverEnd))

	w, r := socketpair(t)
	return &testEnv{
		t:      t,
		server: server,
		client: client,
		conn:   testEnd,
		reqW:   wire.NewConn(w),
		reqR:   wire.NewConn(r),
	}
}

// install registers a protocol object directly, standing in for the
// registry bind dance.
func (env *testEnv) install(id uint32, obj wire.Object) {
	env.t.Helper()
	if err := env.client.store.Add(id, obj); err != nil {
		env.t.Fatalf("install %v: %v", id, err)
	}
}

// request injects one request into the client's dispatch path.
func (env *testEnv) request(sender uint32, op uint16, build func(*wire.MessageBuilder)) {
	env.t.Helper()

	mb := wire.NewMessage(&testObject{object: object{id: sender}}, op)
	if build != nil {
		build(mb)
	}
	if err := mb.Build(env.reqW); err != nil {
		env.t.Fatalf("build request: %v", err)
	}
	msg, err := wire.ReadMessage(env.reqR)
	if err != nil {
		env.t.Fatalf("frame request: %v", err)
	}
	if err := env.client.handle(msg); err != nil {
		env.t.Fatalf("handle: %v", err)
	}
}

// event drives the connection's queue until the next event arrives
// and returns it. Posted events travel through the queue's own
// goroutine, so a single flush can race it and find nothing to write
// yet; keep flushing until the read succeeds.
func (env *testEnv) event() *wire.MessageBuffer {
	env.t.Helper()

	deadline := time.Now().Add(time.Second)
	for {
		env.client.Flush()
		env.conn.SetReadDeadline(time.Now().Add(10 * time.Millisecond))
		msg, err := wire.ReadMessage(wire.NewConn(env.conn))
		if err == nil {
			return msg
		}
		if time.Now().After(deadline) {
			env.t.Fatalf("read event: %v", err)
		}
	}
}

// expect reads the next event and checks its addressing.
func (env *testEnv) expect(sender uint32, op uint16) *wire.MessageBuffer {
	env.t.Helper()

	msg := env.event()
	if msg.Sender() != sender || msg.Op() != op {
		env.t.Fatalf("event = %v@%v, want %v@%v", msg.Op(), msg.Sender(), op, sender)
	}
	return msg
}

// noEvent asserts that nothing is queued for the client.
func (env *testEnv) noEvent() {
	env.t.Helper()

	deadline := time.Now().Add(50 * time.Millisecond)
	for time.Now().Before(deadline) {
		env.client.Flush()
		time.Sleep(time.Millisecond)
	}
	env.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	msg, err := wire.ReadMessage(wire.NewConn(env.conn))
	if err == nil {
		env.t.Fatalf("unexpected event %v@%v", msg.Op(), msg.Sender())
	}
}

// flushUntil drives the server's event loop until cond holds.
func (env *testEnv) flushUntil(cond func() bool) {
	env.t.Helper()

	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			env.t.Fatal("timed out waiting for event loop")
		}
		env.server.Flush()
		time.Sleep(time.Millisecond)
	}
}

// Object IDs used by the tests. Display is always 1.
const (
	idCompositor    uint32 = 2
	idSubcompositor uint32 = 3
	idShm           uint32 = 4
	idShell         uint32 = 5
	idSeat          uint32 = 6
)

func (env *testEnv) installGlobals() {
	env.install(idCompositor, &compositorObject{object: object{iface: "compositor"}, client: env.client})
	env.install(idSubcompositor, &subcompositorObject{object: object{iface: "subcompositor"}, client: env.client})
	env.install(idShm, &shmObject{object: object{iface: "shm"}, client: env.client})
	env.install(idShell, &shellObject{object: object{iface: "shell"}, client: env.client})
	env.install(idSeat, &seatObject{object: object{iface: "seat"}, client: env.client, seat: env.server.seat})
}

// createSurface makes a surface and returns it.
func (env *testEnv) createSurface(id uint32) *surface {
	env.t.Helper()
	env.request(idCompositor, compositorCreateSurfaceOp, func(mb *wire.MessageBuilder) {
		mb.WriteUint(id)
	})
	s, ok := env.client.store.Get(id).(*surface)
	if !ok {
		env.t.Fatalf("surface %v not created", id)
	}
	return s
}

// createToplevel assigns the surface the top-level role.
func (env *testEnv) createToplevel(id, surfaceID uint32) *toplevel {
	env.t.Helper()
	env.request(idShell, shellGetToplevelOp, func(mb *wire.MessageBuilder) {
		mb.WriteUint(id)
		mb.WriteUint(surfaceID)
	})
	top, ok := env.client.store.Get(id).(*toplevel)
	if !ok {
		env.t.Fatalf("toplevel %v not created", id)
	}
	return top
}

// createPool hands the compositor a shared memory pool backed by a
// real file. The returned file remains owned by the test.
func (env *testEnv) createPool(id uint32, size int32) *os.File {
	env.t.Helper()

	path := filepath.Join(env.t.TempDir(), "pool")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		env.t.Fatal(err)
	}
	env.t.Cleanup(func() { f.Close() })
	if err := f.Truncate(int64(size)); err != nil {
		env.t.Fatal(err)
	}

	env.request(idShm, shmCreatePoolOp, func(mb *wire.MessageBuilder) {
		mb.WriteUint(id)
		mb.WriteInt(size)
		mb.WriteFile(f)
	})
	if _, ok := env.client.store.Get(id).(*shmPool); !ok {
		env.t.Fatalf("pool %v not created", id)
	}
	return f
}

// createBuffer carves a buffer out of a pool.
func (env *testEnv) createBuffer(id, poolID uint32, offset, w, h int32) *buffer {
	env.t.Helper()
	env.request(poolID, shmPoolCreateBufferOp, func(mb *wire.MessageBuilder) {
		mb.WriteUint(id)
		mb.WriteInt(offset)
		mb.WriteInt(w)
		mb.WriteInt(h)
		mb.WriteInt(w * 4)
		mb.WriteUint(0) // ARGB8888
	})
	b, ok := env.client.store.Get(id).(*buffer)
	if !ok {
		env.t.Fatalf("buffer %v not created", id)
	}
	return b
}

func (env *testEnv) attach(surfaceID, bufferID uint32) {
	env.t.Helper()
	env.request(surfaceID, surfaceAttachOp, func(mb *wire.MessageBuilder) {
		mb.WriteUint(bufferID)
		mb.WriteInt(0)
		mb.WriteInt(0)
	})
}

func (env *testEnv) commit(surfaceID uint32) {
	env.t.Helper()
	env.request(surfaceID, surfaceCommitOp, nil)
}
