package render

import (
	"image"
	"image/color"
	"testing"

	"deedles.dev/tatami/comp"
)

func solid(r image.Rectangle, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(r)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestSoftwareComposite(t *testing.T) {
	var presented int
	sw := &Software{Present: func(*image.RGBA) { presented++ }}

	red := color.RGBA{R: 255, A: 255}
	scene := comp.Scene{
		Area: image.Rect(0, 0, 8, 8),
		Elements: []comp.SceneElement{{
			Surface:  1,
			Image:    solid(image.Rect(0, 0, 4, 4), red),
			Geometry: image.Rect(0, 0, 4, 4),
		}},
	}

	if err := <-sw.Render(scene); err != nil {
		t.Fatalf("render: %v", err)
	}
	if presented != 1 {
		t.Errorf("presented %v frames, want 1", presented)
	}

	fb := sw.Framebuffer()
	if fb == nil {
		t.Fatal("no framebuffer after render")
	}
	if got := fb.RGBAAt(1, 1); got != red {
		t.Errorf("pixel (1,1) = %v, want %v", got, red)
	}
	if got := fb.RGBAAt(6, 6); got != (color.RGBA{A: 255}) {
		t.Errorf("background pixel = %v, want opaque black", got)
	}
}

func TestSoftwareStacksElements(t *testing.T) {
	sw := &Software{}

	red := color.RGBA{R: 255, A: 255}
	blue := color.RGBA{B: 255, A: 255}
	scene := comp.Scene{
		Area: image.Rect(0, 0, 8, 8),
		Elements: []comp.SceneElement{
			{Surface: 1, Image: solid(image.Rect(0, 0, 8, 8), red), Geometry: image.Rect(0, 0, 8, 8)},
			{Surface: 2, Image: solid(image.Rect(0, 0, 4, 4), blue), Geometry: image.Rect(2, 2, 6, 6)},
		},
	}

	if err := <-sw.Render(scene); err != nil {
		t.Fatalf("render: %v", err)
	}
	fb := sw.Framebuffer()

	// Later elements draw on top of earlier ones.
	if got := fb.RGBAAt(3, 3); got != blue {
		t.Errorf("overlap pixel = %v, want %v", got, blue)
	}
	if got := fb.RGBAAt(0, 0); got != red {
		t.Errorf("underlap pixel = %v, want %v", got, red)
	}
}

func TestSoftwareScalesMismatchedBuffer(t *testing.T) {
	sw := &Software{}

	red := color.RGBA{R: 255, A: 255}
	scene := comp.Scene{
		Area: image.Rect(0, 0, 8, 8),
		Elements: []comp.SceneElement{{
			Surface: 1,
			// The client's buffer is still half the assigned size.
			Image:    solid(image.Rect(0, 0, 4, 4), red),
			Geometry: image.Rect(0, 0, 8, 8),
		}},
	}

	if err := <-sw.Render(scene); err != nil {
		t.Fatalf("render: %v", err)
	}
	fb := sw.Framebuffer()
	if got := fb.RGBAAt(6, 6); got != red {
		t.Errorf("scaled pixel = %v, want %v", got, red)
	}
}
