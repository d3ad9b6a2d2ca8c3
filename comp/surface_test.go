package comp

import (
	"image"
	"testing"

	"deedles.dev/tatami/wire"
)

func TestCommitPromotesPendingState(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.installGlobals()

	env.createPool(10, 128)
	env.createBuffer(11, 10, 0, 4, 4)
	b2 := env.createBuffer(12, 10, 64, 4, 4)

	s := env.createSurface(20)
	env.createToplevel(21, 20)

	env.attach(20, 11)
	env.request(20, surfaceDamageOp, func(mb *wire.MessageBuilder) {
		mb.WriteInt(0)
		mb.WriteInt(0)
		mb.WriteInt(2)
		mb.WriteInt(2)
	})
	if s.committed.buffer != nil {
		t.Fatal("attach took effect before commit")
	}

	// A second attach before the commit wins outright.
	env.attach(20, 12)
	env.commit(20)

	if s.committed.buffer != b2 {
		t.Errorf("committed buffer = %v, want %v", s.committed.buffer, b2)
	}
	if len(s.committed.damage) != 1 {
		t.Errorf("committed damage = %v", s.committed.damage)
	}
	if s.pending.bufferSet {
		t.Error("pending state not reset by commit")
	}
	if !s.mapped {
		t.Error("toplevel with committed buffer not mapped")
	}
}

func TestCommitReleasesReplacedBuffer(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.installGlobals()

	env.createPool(10, 128)
	env.createBuffer(11, 10, 0, 4, 4)
	env.createBuffer(12, 10, 64, 4, 4)

	env.createSurface(20)
	env.createToplevel(21, 20)

	env.attach(20, 11)
	env.commit(20)
	env.noEvent()

	// Replacing the committed buffer returns the old one exactly once.
	env.attach(20, 12)
	env.commit(20)
	env.expect(11, bufferReleaseEvent)
	env.noEvent()

	// Recommitting the same buffer must not release it.
	env.attach(20, 12)
	env.commit(20)
	env.noEvent()

	// A null attach drops the last reference.
	env.attach(20, 0)
	env.commit(20)
	env.expect(12, bufferReleaseEvent)
	env.noEvent()
}

func TestCommitStickyAttributes(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.installGlobals()

	s := env.createSurface(20)

	env.request(20, surfaceSetBufferScaleOp, func(mb *wire.MessageBuilder) {
		mb.WriteInt(2)
	})
	env.commit(20)
	if s.committed.scale != 2 {
		t.Errorf("scale = %v, want 2", s.committed.scale)
	}

	// Scale persists across commits that do not mention it.
	env.commit(20)
	if s.committed.scale != 2 {
		t.Errorf("scale after empty commit = %v, want 2", s.committed.scale)
	}
}

func TestInvalidBufferScaleIsFatal(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.installGlobals()

	env.createSurface(20)
	env.request(20, surfaceSetBufferScaleOp, func(mb *wire.MessageBuilder) {
		mb.WriteInt(0)
	})

	if !env.client.Dead() {
		t.Fatal("client survived invalid buffer scale")
	}
	msg := env.expect(1, displayErrorEvent)
	msg.ReadUint()
	if code := msg.ReadUint(); code != wire.ErrInvalidMethod {
		t.Errorf("error code = %v, want %v", code, wire.ErrInvalidMethod)
	}
}

func TestSyncSubsurfaceDefersCommit(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.installGlobals()

	env.createSurface(20)
	child := env.createSurface(30)
	env.request(idSubcompositor, subcompositorGetSubsurfaceOp, func(mb *wire.MessageBuilder) {
		mb.WriteUint(31)
		mb.WriteUint(30)
		mb.WriteUint(20)
	})
	sub, ok := env.client.store.Get(31).(*subsurfaceObject)
	if !ok {
		t.Fatal("subsurface not created")
	}
	if !sub.sync {
		t.Error("subsurface not synchronized by default")
	}

	buf := &buffer{object: object{iface: "buffer"}, client: env.client}
	env.install(40, buf)

	env.request(31, subsurfaceSetPositionOp, func(mb *wire.MessageBuilder) {
		mb.WriteInt(5)
		mb.WriteInt(7)
	})
	env.attach(30, 40)
	env.commit(30)

	if child.committed.buffer != nil {
		t.Fatal("synchronized subsurface commit applied before parent commit")
	}
	if sub.position != (image.Point{}) {
		t.Fatal("subsurface position applied before parent commit")
	}

	// The parent's commit applies the whole tree in one step.
	env.commit(20)
	if child.committed.buffer != buf {
		t.Error("child state not applied on parent commit")
	}
	if sub.position != image.Pt(5, 7) {
		t.Errorf("position = %v, want (5,7)", sub.position)
	}
}

func TestDesyncAppliesDeferredState(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.installGlobals()

	env.createSurface(20)
	child := env.createSurface(30)
	env.request(idSubcompositor, subcompositorGetSubsurfaceOp, func(mb *wire.MessageBuilder) {
		mb.WriteUint(31)
		mb.WriteUint(30)
		mb.WriteUint(20)
	})

	buf := &buffer{object: object{iface: "buffer"}, client: env.client}
	env.install(40, buf)
	env.attach(30, 40)
	env.commit(30)
	if child.committed.buffer != nil {
		t.Fatal("deferred commit leaked through")
	}

	env.request(31, subsurfaceSetDesyncOp, nil)
	if child.committed.buffer != buf {
		t.Error("set_desync did not apply the cached state")
	}
}

func TestRoleIsOneWay(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.installGlobals()

	env.createSurface(20)
	env.createSurface(22)
	env.createToplevel(21, 20)

	// Assigning a second role is a fatal protocol error.
	env.request(idSubcompositor, subcompositorGetSubsurfaceOp, func(mb *wire.MessageBuilder) {
		mb.WriteUint(31)
		mb.WriteUint(20)
		mb.WriteUint(22)
	})

	if !env.client.Dead() {
		t.Fatal("client survived role conflict")
	}
	msg := env.expect(1, displayErrorEvent)
	msg.ReadUint()
	if code := msg.ReadUint(); code != wire.ErrRole {
		t.Errorf("error code = %v, want %v", code, wire.ErrRole)
	}
}

func TestSubsurfaceParentLoopRejected(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.installGlobals()

	env.createSurface(20)
	env.createSurface(30)
	env.request(idSubcompositor, subcompositorGetSubsurfaceOp, func(mb *wire.MessageBuilder) {
		mb.WriteUint(31)
		mb.WriteUint(30)
		mb.WriteUint(20)
	})

	// 20 is now an ancestor of 30; making 20 a subsurface of 30 would
	// close the loop.
	env.request(idSubcompositor, subcompositorGetSubsurfaceOp, func(mb *wire.MessageBuilder) {
		mb.WriteUint(32)
		mb.WriteUint(20)
		mb.WriteUint(30)
	})
	if !env.client.Dead() {
		t.Fatal("client survived parent loop")
	}
}
