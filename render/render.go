// Package render provides software composition of committed scenes.
package render

import (
	"image"
	"sync"

	"deedles.dev/tatami/comp"
	"github.com/sirupsen/logrus"
	"golang.org/x/image/draw"
)

// Software composites scenes into an in-memory framebuffer with the
// CPU. Present, if set, is called with the finished framebuffer after
// every frame; it is how a display layer or a test gets at the
// pixels.
type Software struct {
	// Present receives each completed frame. It runs on the render
	// goroutine, so it must not block for long.
	Present func(*image.RGBA)

	// Log receives per-frame diagnostics. Optional.
	Log *logrus.Entry

	mu sync.Mutex
	fb *image.RGBA
}

var _ comp.Backend = (*Software)(nil)

// Render composites the scene bottom-to-top and signals completion.
// The returned channel receives exactly one value.
func (sw *Software) Render(scene comp.Scene) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- sw.render(scene)
	}()
	return done
}

func (sw *Software) render(scene comp.Scene) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	bounds := image.Rectangle{Max: scene.Area.Size()}
	if sw.fb == nil || sw.fb.Bounds() != bounds {
		sw.fb = image.NewRGBA(bounds)
	}

	draw.Draw(sw.fb, bounds, image.Black, image.Point{}, draw.Src)

	for _, el := range scene.Elements {
		dst := el.Geometry.Sub(scene.Area.Min)
		src := el.Image.Bounds()
		if dst.Size() == src.Size() {
			draw.Draw(sw.fb, dst, el.Image, src.Min, draw.Over)
			continue
		}
		// The client has not caught up to its assigned size yet.
		// Scale rather than showing stale edges.
		draw.ApproxBiLinear.Scale(sw.fb, dst, el.Image, src, draw.Over, nil)
	}

	if sw.Log != nil {
		sw.Log.WithField("surfaces", len(scene.Elements)).Trace("frame composited")
	}
	if sw.Present != nil {
		sw.Present(sw.fb)
	}
	return nil
}

// Framebuffer returns a copy of the most recently composited frame,
// or nil if nothing has been rendered yet.
func (sw *Software) Framebuffer() *image.RGBA {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.fb == nil {
		return nil
	}
	cp := image.NewRGBA(sw.fb.Bounds())
	copy(cp.Pix, sw.fb.Pix)
	return cp
}
