// Package tile computes window geometry for mapped top-level
// surfaces. A Strategy is a pure function from an output area and an
// ordered surface list to a geometry assignment; the package promises
// nothing about which geometry a strategy picks, only that identical
// inputs produce identical outputs.
package tile

import "image"

// ID identifies a surface to the layout engine. IDs are assigned by
// the compositor and are stable for the life of the surface,
// independent of any connection-scoped protocol ID.
type ID uint64

// A Strategy assigns a geometry to every surface in surfaces. The
// returned map has exactly one entry per listed surface. Strategies
// must be deterministic: they may not keep state between calls.
type Strategy interface {
	Layout(area image.Rectangle, surfaces []ID) map[ID]image.Rectangle
}

// Monocle gives every surface the full output area. Only the top of
// the stack ends up visible.
type Monocle struct{}

func (Monocle) Layout(area image.Rectangle, surfaces []ID) map[ID]image.Rectangle {
	geo := make(map[ID]image.Rectangle, len(surfaces))
	for _, id := range surfaces {
		geo[id] = area
	}
	return geo
}
