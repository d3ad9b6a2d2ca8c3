package shm

import (
	"os"
	"path/filepath"
	"testing"

	"deedles.dev/ximage/format"
)

func poolFile(t *testing.T, size int64) (*os.File, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "pool")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Truncate(size); err != nil {
		t.Fatal(err)
	}
	return f, path
}

func TestPoolValidate(t *testing.T) {
	f, _ := poolFile(t, 4096)
	pool, err := NewPool(f, 4096)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer pool.Close()

	if err := pool.Validate(0, 16, 16, 64, FormatARGB8888); err != nil {
		t.Errorf("valid buffer rejected: %v", err)
	}
	if err := pool.Validate(0, 16, 16, 60, FormatARGB8888); err == nil {
		t.Error("bad stride accepted")
	}
	if err := pool.Validate(0, 16, 16, 64, Format(99)); err == nil {
		t.Error("unknown format accepted")
	}
	if err := pool.Validate(-4, 16, 16, 64, FormatXRGB8888); err == nil {
		t.Error("negative offset accepted")
	}
	if err := pool.Validate(4000, 16, 16, 64, FormatXRGB8888); err == nil {
		t.Error("out-of-bounds buffer accepted")
	}
	if err := pool.Validate(0, 0, 16, 0, FormatARGB8888); err == nil {
		t.Error("zero-width buffer accepted")
	}
}

func TestPoolResize(t *testing.T) {
	f, _ := poolFile(t, 1024)
	pool, err := NewPool(f, 1024)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer pool.Close()

	if err := pool.Resize(512); err == nil {
		t.Error("shrink accepted")
	}
	if err := pool.Resize(1024); err != nil {
		t.Errorf("same-size resize: %v", err)
	}

	if err := f.Truncate(4096); err != nil {
		t.Fatal(err)
	}
	if err := pool.Resize(4096); err != nil {
		t.Errorf("grow: %v", err)
	}
	if got := pool.Size(); got != 4096 {
		t.Errorf("size = %v, want 4096", got)
	}
	if err := pool.Validate(0, 32, 32, 128, FormatARGB8888); err != nil {
		t.Errorf("buffer in grown pool rejected: %v", err)
	}
}

func TestPoolImageAliasesFile(t *testing.T) {
	f, path := poolFile(t, 64)
	pool, err := NewPool(f, 64)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer pool.Close()

	// Write through a second handle; the mapping is MAP_SHARED, so the
	// view must observe it without any copy.
	w, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if _, err := w.WriteAt([]byte{0x11, 0x22, 0x33, 0x44}, 0); err != nil {
		t.Fatal(err)
	}

	img, err := pool.Image(0, 4, 4, 16, FormatARGB8888)
	if err != nil {
		t.Fatalf("image: %v", err)
	}
	fi := img.(*format.Image)
	if fi.Pix[0] != 0x11 || fi.Pix[3] != 0x44 {
		t.Errorf("pixels = % x, want 11 22 33 44", fi.Pix[:4])
	}
	if got := fi.Rect.Size().X; got != 4 {
		t.Errorf("width = %v, want 4", got)
	}
}

func TestPoolImageHonorsFormat(t *testing.T) {
	f, _ := poolFile(t, 64)
	pool, err := NewPool(f, 64)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer pool.Close()

	img, err := pool.Image(0, 4, 4, 16, FormatXRGB8888)
	if err != nil {
		t.Fatalf("image: %v", err)
	}
	if got := img.(*format.Image).Format; got != format.XRGB8888 {
		t.Errorf("pixel format = %v, want %v", got, format.XRGB8888)
	}

	img, err = pool.Image(0, 4, 4, 16, FormatARGB8888)
	if err != nil {
		t.Fatalf("image: %v", err)
	}
	if got := img.(*format.Image).Format; got != format.ARGB8888 {
		t.Errorf("pixel format = %v, want %v", got, format.ARGB8888)
	}
}

func TestNewPoolRejectsBadSize(t *testing.T) {
	f, _ := poolFile(t, 16)
	if _, err := NewPool(f, 0); err == nil {
		t.Error("zero size accepted")
	}
	if _, err := NewPool(f, -1); err == nil {
		t.Error("negative size accepted")
	}
	f.Close()
}
