// Package shm maps client-provided shared memory into buffer pools.
// The descriptor arrives over the wire as an out-of-band payload; the
// compositor maps it read-only and exposes pixel views over the
// mapping.
package shm

import (
	"fmt"
	"image"
	"os"

	"deedles.dev/ximage/format"
	"golang.org/x/sys/unix"
)

// Format identifies the pixel format of a buffer. The values match
// the wl_shm format enumeration.
type Format uint32

const (
	FormatARGB8888 Format = iota
	FormatXRGB8888
)

// Supported reports whether the compositor can interpret the format.
func (f Format) Supported() bool {
	return f == FormatARGB8888 || f == FormatXRGB8888
}

type Mmap []byte

func Map(file *os.File, size int, prot int) (mmap Mmap, err error) {
	sc, err := file.SyscallConn()
	if err != nil {
		return nil, err
	}

	sc.Control(func(fd uintptr) {
		m, merr := unix.Mmap(int(fd), 0, size, prot, unix.MAP_SHARED)
		mmap, err = Mmap(m), merr
	})

	return mmap, err
}

func (mmap Mmap) Unmap() error {
	return unix.Munmap(mmap)
}

// A Pool is a client's shared memory region. Buffers are windows into
// it. The pool keeps the file open so that it can be remapped when
// the client grows it.
type Pool struct {
	file *os.File
	mmap Mmap
	size int32
}

// NewPool maps size bytes of file. The pool takes ownership of file.
func NewPool(file *os.File, size int32) (*Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid pool size: %v", size)
	}

	mmap, err := Map(file, int(size), unix.PROT_READ)
	if err != nil {
		return nil, fmt.Errorf("mmap pool: %w", err)
	}

	return &Pool{file: file, mmap: mmap, size: size}, nil
}

// Resize grows the pool. Shrinking is not allowed, since buffers
// already created over the tail would dangle.
func (p *Pool) Resize(size int32) error {
	if size < p.size {
		return fmt.Errorf("cannot shrink pool from %v to %v", p.size, size)
	}
	if size == p.size {
		return nil
	}

	err := p.mmap.Unmap()
	if err != nil {
		return fmt.Errorf("unmap: %w", err)
	}
	mmap, err := Map(p.file, int(size), unix.PROT_READ)
	if err != nil {
		return fmt.Errorf("mmap: %w", err)
	}

	p.mmap = mmap
	p.size = size
	return nil
}

// Size is the current size of the pool in bytes.
func (p *Pool) Size() int32 {
	return p.size
}

// Close unmaps the pool and closes its file.
func (p *Pool) Close() error {
	err := p.mmap.Unmap()
	p.mmap = nil
	if cerr := p.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// Validate checks that a buffer described by the arguments fits
// entirely inside the pool.
func (p *Pool) Validate(offset, width, height, stride int32, f Format) error {
	switch {
	case !f.Supported():
		return fmt.Errorf("unsupported format: %v", f)
	case width <= 0 || height <= 0:
		return fmt.Errorf("invalid buffer size: %vx%v", width, height)
	case stride != width*4:
		return fmt.Errorf("stride %v does not match width %v", stride, width)
	case offset < 0 || offset+stride*height > p.size:
		return fmt.Errorf("buffer exceeds pool bounds")
	}
	return nil
}

// Image returns a pixel view over part of the pool. The view aliases
// the client's memory and is only coherent between a commit and the
// corresponding release.
func (p *Pool) Image(offset, width, height, stride int32, f Format) (image.Image, error) {
	err := p.Validate(offset, width, height, stride, f)
	if err != nil {
		return nil, err
	}

	var pix format.Format = format.ARGB8888
	if f == FormatXRGB8888 {
		pix = format.XRGB8888
	}
	return &format.Image{
		Format: pix,
		Rect:   image.Rect(0, 0, int(width), int(height)),
		Pix:    p.mmap[offset : offset+stride*height],
	}, nil
}
