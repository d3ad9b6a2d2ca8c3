package comp

import (
	"image"

	"deedles.dev/tatami/tile"
	"github.com/sirupsen/logrus"
)

// SceneElement is one surface's contribution to a rendered frame.
type SceneElement struct {
	Surface  tile.ID
	Image    image.Image
	Geometry image.Rectangle
	Damage   []image.Rectangle
}

// Scene is everything the render backend needs for one frame of one
// output: the visible surfaces bottom-to-top with their committed
// pixels and assigned geometry.
type Scene struct {
	Area     image.Rectangle
	Elements []SceneElement
}

// Backend turns committed scenes into pixels. Render returns a
// completion signal; the scene's images must not be assumed valid
// after the signal fires. The compositor retains the underlying
// buffers until then.
type Backend interface {
	Render(scene Scene) <-chan error
}

// renderFailLimit is the number of consecutive render failures after
// which an output is degraded and no longer scheduled.
const renderFailLimit = 3

// scheduler coordinates frame-done callbacks for one output with the
// render backend's pacing.
type scheduler struct {
	output *Output

	// callbacks holds at most one outstanding frame callback per
	// surface. A client that requests another before the previous one
	// fires just replaces it; duplicate requests are a client bug and
	// must not produce duplicate events.
	callbacks map[tile.ID]*callback

	inflight     bool
	inflightBufs []*buffer
	inflightIDs  []tile.ID

	failures int
	degraded bool
}

func newScheduler(o *Output) *scheduler {
	return &scheduler{
		output:    o,
		callbacks: make(map[tile.ID]*callback),
	}
}

// request registers a frame callback for the surface, superseding
// any outstanding one.
func (fs *scheduler) request(id tile.ID, cb *callback) {
	if old := fs.callbacks[id]; old != nil {
		old.cancel()
	}
	fs.callbacks[id] = cb
}

// forget cancels a surface's outstanding callback; destruction is
// the cancellation mechanism.
func (fs *scheduler) forget(id tile.ID) {
	if cb := fs.callbacks[id]; cb != nil {
		cb.cancel()
		delete(fs.callbacks, id)
	}
}

// tick runs once per vsync. It snapshots the committed scene, hands
// it to the backend, and arranges for completion to re-enter the
// event loop. Ticks that arrive while a render is still in flight
// are dropped; the scheduler never has more than one frame going.
func (fs *scheduler) tick() {
	if fs.inflight || fs.degraded {
		return
	}

	scene := fs.buildScene()
	fs.inflight = true

	done := fs.output.server.render(scene)
	server := fs.output.server
	go func() {
		err := <-done
		select {
		case <-server.done:
		case server.queue.Add() <- func() error {
			fs.complete(err)
			return nil
		}:
		}
	}()
}

// buildScene snapshots the visible surfaces bottom-to-top. Every
// buffer in the scene is retained until the render completes, so a
// client that commits a replacement mid-render cannot recycle pixels
// out from under the backend.
func (fs *scheduler) buildScene() Scene {
	scene := Scene{Area: fs.output.area()}
	fs.inflightBufs = fs.inflightBufs[:0]
	fs.inflightIDs = fs.inflightIDs[:0]

	stacking := fs.output.ws.Stacking()
	for i := len(stacking) - 1; i >= 0; i-- {
		s := fs.output.server.surfaces[stacking[i]]
		if s == nil || s.dead {
			continue
		}
		fs.addSurface(&scene, s, s.geometry.Min)
	}
	fs.addCursor(&scene)
	return scene
}

// addCursor places the pointer-focus client's cursor surface on top
// of the scene, anchored at the pointer with its hotspot offset.
func (fs *scheduler) addCursor(scene *Scene) {
	seat := fs.output.server.seat
	cur, hotspot := seat.cursor()
	if cur == nil || cur.committed.buffer == nil || !seat.pointerPos.In(scene.Area) {
		return
	}

	img, err := cur.committed.buffer.image()
	if err != nil {
		fs.output.server.log.WithError(err).WithField("surface", cur.tid).Warn("skipping cursor with unreadable buffer")
		return
	}

	pos := seat.pointerPos.Sub(hotspot)
	scene.Elements = append(scene.Elements, SceneElement{
		Surface:  cur.tid,
		Image:    img,
		Geometry: image.Rectangle{Min: pos, Max: pos.Add(cur.committed.buffer.size())},
		Damage:   cur.committed.damage,
	})
	cur.committed.damage = nil

	cur.committed.buffer.ref()
	fs.inflightBufs = append(fs.inflightBufs, cur.committed.buffer)
	fs.inflightIDs = append(fs.inflightIDs, cur.tid)
}

func (fs *scheduler) addSurface(scene *Scene, s *surface, origin image.Point) {
	if !s.mapped || s.committed.buffer == nil || s.geometry.Empty() {
		return
	}

	img, err := s.committed.buffer.image()
	if err != nil {
		fs.output.server.log.WithError(err).WithField("surface", s.tid).Warn("skipping surface with unreadable buffer")
	} else {
		geo := image.Rectangle{Min: origin, Max: origin.Add(s.geometry.Size())}
		scene.Elements = append(scene.Elements, SceneElement{
			Surface:  s.tid,
			Image:    img,
			Geometry: geo,
			Damage:   s.committed.damage,
		})
		s.committed.damage = nil

		s.committed.buffer.ref()
		fs.inflightBufs = append(fs.inflightBufs, s.committed.buffer)
		fs.inflightIDs = append(fs.inflightIDs, s.tid)
	}

	for _, sub := range s.children {
		if sub.surface == nil {
			continue
		}
		fs.addSurface(scene, sub.surface, origin.Add(sub.position))
	}
}

// complete runs on the event loop after the backend finishes a
// frame. On success, frame-done fires once for every surface that
// both requested a callback and was part of the rendered frame.
func (fs *scheduler) complete(err error) {
	fs.inflight = false

	for _, b := range fs.inflightBufs {
		b.unref()
	}
	bufs := fs.inflightBufs
	fs.inflightBufs = bufs[:0]

	if err != nil {
		fs.failures++
		log := fs.output.server.log.WithFields(logrus.Fields{
			"output":   fs.output.name,
			"failures": fs.failures,
		})
		log.WithError(err).Warn("render failed")
		if fs.failures >= renderFailLimit {
			fs.degraded = true
			log.Error("output degraded: frame scheduling stopped")
		}
		return
	}
	fs.failures = 0

	now := fs.output.server.now()
	for _, id := range fs.inflightIDs {
		if cb := fs.callbacks[id]; cb != nil {
			delete(fs.callbacks, id)
			cb.done(now)
		}
	}
	fs.inflightIDs = fs.inflightIDs[:0]
}

// drain cancels every outstanding callback, for output removal.
func (fs *scheduler) drain() {
	for id, cb := range fs.callbacks {
		cb.cancel()
		delete(fs.callbacks, id)
	}
}
