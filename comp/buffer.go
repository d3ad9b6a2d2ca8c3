package comp

import (
	"errors"
	"image"

	"deedles.dev/tatami/shm"
	"deedles.dev/tatami/wire"
)

// Opcodes for the shm interface.
const (
	shmCreatePoolOp uint16 = iota
)

const (
	shmFormatEvent uint16 = iota
)

// shmObject is the global through which clients hand the compositor
// shared memory. The descriptor travels out-of-band and is mapped,
// never copied.
type shmObject struct {
	object
	client *Client
}

func (s *shmObject) advertiseFormats() {
	for _, f := range []shm.Format{shm.FormatARGB8888, shm.FormatXRGB8888} {
		msg := wire.NewMessage(s, shmFormatEvent)
		msg.Method = "format"
		msg.Args = []any{uint32(f)}
		msg.WriteUint(uint32(f))
		s.client.post(msg)
	}
}

func (s *shmObject) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case shmCreatePoolOp:
		id := msg.ReadUint()
		file := msg.ReadFile()
		size := msg.ReadInt()
		if err := msg.Err(); err != nil {
			return err
		}

		pool, err := shm.NewPool(file, size)
		if err != nil {
			file.Close()
			return &wire.ProtocolError{Object: s.id, Code: wire.ErrInvalidMethod, Text: err.Error()}
		}

		p := &shmPool{object: object{iface: "shm_pool"}, client: s.client, pool: pool}
		if err := s.client.store.Add(id, p); err != nil {
			pool.Close()
			return &wire.ProtocolError{Object: s.id, Code: wire.ErrNoMemory, Text: err.Error()}
		}
		return nil
	}

	return wire.UnknownOpError{Interface: s.iface, Op: msg.Op()}
}

func (s *shmObject) MethodName(op uint16) string {
	switch op {
	case shmCreatePoolOp:
		return "create_pool"
	}
	return "unknown"
}

// Opcodes for the shm_pool interface.
const (
	shmPoolCreateBufferOp uint16 = iota
	shmPoolDestroyOp
	shmPoolResizeOp
)

// shmPool wraps one mapped pool. The mapping outlives the protocol
// object until the last buffer carved from it is gone.
type shmPool struct {
	object
	client  *Client
	pool    *shm.Pool
	buffers int
	dead    bool
}

func (p *shmPool) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case shmPoolCreateBufferOp:
		id := msg.ReadUint()
		offset := msg.ReadInt()
		width := msg.ReadInt()
		height := msg.ReadInt()
		stride := msg.ReadInt()
		format := msg.ReadUint()
		if err := msg.Err(); err != nil {
			return err
		}

		err := p.pool.Validate(offset, width, height, stride, shm.Format(format))
		if err != nil {
			return &wire.ProtocolError{Object: p.id, Code: wire.ErrInvalidMethod, Text: err.Error()}
		}

		b := &buffer{
			object: object{iface: "buffer"},
			client: p.client,
			pool:   p,
			offset: offset,
			width:  width,
			height: height,
			stride: stride,
			format: shm.Format(format),
		}
		if err := p.client.store.Add(id, b); err != nil {
			return &wire.ProtocolError{Object: p.id, Code: wire.ErrNoMemory, Text: err.Error()}
		}
		p.buffers++
		return nil

	case shmPoolDestroyOp:
		p.client.delete(p.id)
		return nil

	case shmPoolResizeOp:
		size := msg.ReadInt()
		if err := msg.Err(); err != nil {
			return err
		}
		if err := p.pool.Resize(size); err != nil {
			return &wire.ProtocolError{Object: p.id, Code: wire.ErrInvalidMethod, Text: err.Error()}
		}
		return nil
	}

	return wire.UnknownOpError{Interface: p.iface, Op: msg.Op()}
}

func (p *shmPool) MethodName(op uint16) string {
	switch op {
	case shmPoolCreateBufferOp:
		return "create_buffer"
	case shmPoolDestroyOp:
		return "destroy"
	case shmPoolResizeOp:
		return "resize"
	}
	return "unknown"
}

func (p *shmPool) Delete() {
	p.dead = true
	p.unmapIfUnused()
}

func (p *shmPool) unmapIfUnused() {
	if p.dead && p.buffers == 0 && p.pool != nil {
		p.pool.Close()
		p.pool = nil
	}
}

// Opcodes for the buffer interface.
const (
	bufferDestroyOp uint16 = iota
)

const (
	bufferReleaseEvent uint16 = iota
)

// buffer is a handle to client pixel storage. It is shared between
// the surface that committed it and the renderer; refs counts those
// consumers. When the count drops to zero ownership returns to the
// client with a release event, sent exactly once per drop.
type buffer struct {
	object
	client *Client
	pool   *shmPool

	offset, width, height, stride int32
	format                        shm.Format

	refs int
	dead bool
}

func (b *buffer) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case bufferDestroyOp:
		b.client.delete(b.id)
		return nil
	}

	return wire.UnknownOpError{Interface: b.iface, Op: msg.Op()}
}

func (b *buffer) MethodName(op uint16) string {
	switch op {
	case bufferDestroyOp:
		return "destroy"
	}
	return "unknown"
}

func (b *buffer) Delete() {
	if b.dead {
		return
	}
	b.dead = true
	if b.refs == 0 {
		b.detach()
	}
}

// detach severs the buffer from its pool. A destroyed buffer stays
// attached while committed state or the renderer still reads its
// pixels; the mapping must outlive every reader.
func (b *buffer) detach() {
	if b.pool == nil {
		return
	}
	b.pool.buffers--
	b.pool.unmapIfUnused()
	b.pool = nil
}

// ref records a new consumer of the buffer's pixels.
func (b *buffer) ref() {
	b.refs++
}

// unref drops a consumer. The last consumer out sends release.
func (b *buffer) unref() {
	if b.refs <= 0 {
		panic("comp: buffer reference count underflow")
	}
	b.refs--
	if b.refs == 0 {
		b.release()
		if b.dead {
			b.detach()
		}
	}
}

func (b *buffer) release() {
	if b.dead || b.client.Dead() {
		return
	}
	msg := wire.NewMessage(b, bufferReleaseEvent)
	msg.Method = "release"
	b.client.post(msg)
}

// size is the buffer's pixel dimensions.
func (b *buffer) size() image.Point {
	return image.Pt(int(b.width), int(b.height))
}

// image returns a view over the buffer's pixels. Valid only while
// the buffer is referenced.
func (b *buffer) image() (image.Image, error) {
	if b.pool == nil || b.pool.pool == nil {
		return nil, errors.New("buffer storage is gone")
	}
	return b.pool.pool.Image(b.offset, b.width, b.height, b.stride, b.format)
}
