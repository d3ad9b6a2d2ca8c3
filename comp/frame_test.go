package comp

import (
	"errors"
	"image"
	"testing"

	"deedles.dev/tatami/wire"
)

// recordBackend completes every frame immediately with a fixed result
// and remembers what it was asked to draw.
type recordBackend struct {
	scenes []Scene
	err    error
}

func (b *recordBackend) Render(scene Scene) <-chan error {
	b.scenes = append(b.scenes, scene)
	done := make(chan error, 1)
	done <- b.err
	return done
}

func TestFrameCallbackLifecycle(t *testing.T) {
	backend := &recordBackend{}
	env := newTestEnv(t, Options{Backend: backend})
	env.installGlobals()
	out := env.server.AddOutput("test", Mode{Width: 800, Height: 600}, image.Point{})

	env.createPool(10, 64)
	env.createBuffer(11, 10, 0, 4, 4)
	env.createSurface(20)
	env.createToplevel(21, 20)

	// Mapping assigns the whole output and asks the client to adopt
	// it.
	env.attach(20, 11)
	env.commit(20)
	msg := env.expect(21, toplevelConfigureEvent)
	if w := msg.ReadInt(); w != 800 {
		t.Errorf("configure width = %v, want 800", w)
	}
	if h := msg.ReadInt(); h != 600 {
		t.Errorf("configure height = %v, want 600", h)
	}
	serial := msg.ReadUint()
	if err := msg.Err(); err != nil {
		t.Fatalf("decode configure: %v", err)
	}

	env.request(20, surfaceFrameOp, func(mb *wire.MessageBuilder) {
		mb.WriteUint(13)
	})
	env.request(21, toplevelAckConfigureOp, func(mb *wire.MessageBuilder) {
		mb.WriteUint(serial)
	})
	env.commit(20)

	// A newer frame request replaces the outstanding one; the old
	// callback is discarded without firing.
	env.request(20, surfaceFrameOp, func(mb *wire.MessageBuilder) {
		mb.WriteUint(14)
	})
	env.commit(20)
	msg = env.expect(1, displayDeleteIDEvent)
	if id := msg.ReadUint(); id != 13 {
		t.Errorf("superseded callback delete_id = %v, want 13", id)
	}

	out.sched.tick()
	env.flushUntil(func() bool { return !out.sched.inflight })

	if len(backend.scenes) != 1 {
		t.Fatalf("rendered %v frames, want 1", len(backend.scenes))
	}
	if got := backend.scenes[0].Elements; len(got) != 1 || got[0].Geometry != image.Rect(0, 0, 800, 600) {
		t.Errorf("scene elements = %+v", got)
	}

	// The surviving callback fires exactly once, after the frame that
	// included the surface.
	env.expect(14, callbackDoneEvent)
	env.expect(1, displayDeleteIDEvent)
	env.noEvent()

	// Without a new request, the next frame fires nothing.
	out.sched.tick()
	env.flushUntil(func() bool { return !out.sched.inflight })
	env.noEvent()
}

func TestTicksCoalesceWhileInflight(t *testing.T) {
	backend := &recordBackend{}
	env := newTestEnv(t, Options{Backend: backend})
	out := env.server.AddOutput("test", Mode{Width: 800, Height: 600}, image.Point{})

	out.sched.tick()
	if !out.sched.inflight {
		t.Fatal("tick did not start a frame")
	}

	// Completion has not been processed yet, so further ticks drop.
	out.sched.tick()
	out.sched.tick()
	if len(backend.scenes) != 1 {
		t.Errorf("rendered %v frames while inflight, want 1", len(backend.scenes))
	}

	env.flushUntil(func() bool { return !out.sched.inflight })
}

func TestRenderFailureDegradesOutput(t *testing.T) {
	backend := &recordBackend{err: errors.New("gpu fell off the bus")}
	env := newTestEnv(t, Options{Backend: backend})
	out := env.server.AddOutput("test", Mode{Width: 800, Height: 600}, image.Point{})

	for i := 0; i < renderFailLimit; i++ {
		out.sched.tick()
		env.flushUntil(func() bool { return !out.sched.inflight })
	}
	if !out.sched.degraded {
		t.Fatalf("output not degraded after %v failures", renderFailLimit)
	}

	// A degraded output stops scheduling entirely.
	out.sched.tick()
	if len(backend.scenes) != renderFailLimit {
		t.Errorf("rendered %v frames, want %v", len(backend.scenes), renderFailLimit)
	}
}

func TestBufferOutlivesDestroyedPool(t *testing.T) {
	backend := &recordBackend{}
	env := newTestEnv(t, Options{Backend: backend})
	env.installGlobals()
	out := env.server.AddOutput("test", Mode{Width: 800, Height: 600}, image.Point{})

	env.createPool(10, 64)
	b := env.createBuffer(11, 10, 0, 4, 4)
	p := env.client.store.Get(10).(*shmPool)
	env.createSurface(20)
	env.createToplevel(21, 20)

	env.attach(20, 11)
	env.commit(20)
	msg := env.expect(21, toplevelConfigureEvent)
	msg.ReadInt()
	msg.ReadInt()
	serial := msg.ReadUint()
	env.request(21, toplevelAckConfigureOp, func(mb *wire.MessageBuilder) {
		mb.WriteUint(serial)
	})
	env.commit(20)

	// The client may destroy both protocol objects while the buffer is
	// still committed; the mapping has to survive until the compositor
	// stops reading it.
	env.request(10, shmPoolDestroyOp, nil)
	env.expect(1, displayDeleteIDEvent)
	env.request(11, bufferDestroyOp, nil)
	env.expect(1, displayDeleteIDEvent)
	if p.pool == nil {
		t.Fatal("pool unmapped while its buffer is still committed")
	}

	out.sched.tick()
	env.flushUntil(func() bool { return !out.sched.inflight })
	if len(backend.scenes) != 1 || len(backend.scenes[0].Elements) != 1 {
		t.Fatalf("scenes = %+v", backend.scenes)
	}

	// A null attach drops the last reference; only then does the pool
	// go away, and no release is owed for a destroyed buffer.
	env.attach(20, 0)
	env.commit(20)
	if b.pool != nil || p.pool != nil {
		t.Error("pool still mapped after last reference dropped")
	}
	env.noEvent()
}

func TestCursorFailsClosedAcrossIDReuse(t *testing.T) {
	backend := &recordBackend{}
	env := newTestEnv(t, Options{Backend: backend})
	env.installGlobals()
	out := env.server.AddOutput("test", Mode{Width: 800, Height: 600}, image.Point{})
	env.installPointer(8)

	env.mapManually(out, 20, image.Rect(0, 0, 800, 600))
	env.server.seat.pointerMotion(image.Pt(100, 100), 1)

	env.createPool(10, 64)
	env.createBuffer(11, 10, 0, 4, 4)
	cur := env.createSurface(22)
	env.request(8, pointerSetCursorOp, func(mb *wire.MessageBuilder) {
		mb.WriteUint(1)
		mb.WriteUint(22)
		mb.WriteInt(1)
		mb.WriteInt(2)
	})
	env.attach(22, 11)
	env.commit(22)

	out.sched.tick()
	env.flushUntil(func() bool { return !out.sched.inflight })
	if len(backend.scenes) != 1 || len(backend.scenes[0].Elements) != 1 {
		t.Fatalf("scenes = %+v", backend.scenes)
	}
	el := backend.scenes[0].Elements[0]
	if el.Surface != cur.tid || el.Geometry.Min != image.Pt(99, 98) {
		t.Errorf("cursor element = %+v, want surface %v at (99,98)", el, cur.tid)
	}

	// Destroying the cursor surface and reusing its ID must not
	// resurrect the cursor.
	env.client.store.Delete(22)
	env.install(22, &testObject{})
	out.sched.tick()
	env.flushUntil(func() bool { return !out.sched.inflight })
	if got := backend.scenes[1].Elements; len(got) != 0 {
		t.Errorf("cursor survived destruction: %+v", got)
	}
}

func TestFrameRequestWithoutOutputFiresImmediately(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.installGlobals()

	env.createSurface(20)
	buf := &buffer{object: object{iface: "buffer"}, client: env.client}
	env.install(40, buf)

	env.request(20, surfaceFrameOp, func(mb *wire.MessageBuilder) {
		mb.WriteUint(13)
	})
	env.attach(20, 40)
	env.commit(20)

	// No output exists, so there is no vsync to wait for.
	env.expect(13, callbackDoneEvent)
	env.expect(1, displayDeleteIDEvent)
}
