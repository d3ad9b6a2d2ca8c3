package tile

import (
	"image"

	"golang.org/x/exp/slices"
)

// A Workspace tracks the mapped top-level surfaces assigned to one
// output. It keeps two orders: the layout order, which is insertion
// order and is what the Strategy sees, and the stacking order, which
// is most-recently-raised first and is what hit testing and
// rendering consult.
//
// The workspace is derived state. It never owns a surface; it only
// records which surfaces are present and which geometry the strategy
// last assigned them.
type Workspace struct {
	strategy Strategy
	layout   []ID
	stacking []ID
	geo      map[ID]image.Rectangle
}

func NewWorkspace(strategy Strategy) *Workspace {
	return &Workspace{
		strategy: strategy,
		geo:      make(map[ID]image.Rectangle),
	}
}

// SetStrategy swaps the layout strategy. The caller is expected to
// call Arrange afterwards.
func (ws *Workspace) SetStrategy(s Strategy) {
	ws.strategy = s
}

// Insert adds a newly mapped surface at the end of the layout order
// and the top of the stacking order. Inserting a surface that is
// already present does nothing.
func (ws *Workspace) Insert(id ID) {
	if slices.Contains(ws.layout, id) {
		return
	}
	ws.layout = append(ws.layout, id)
	ws.stacking = append([]ID{id}, ws.stacking...)
}

// Remove drops an unmapped surface from both orders.
func (ws *Workspace) Remove(id ID) {
	ws.layout = slices.DeleteFunc(ws.layout, func(v ID) bool { return v == id })
	ws.stacking = slices.DeleteFunc(ws.stacking, func(v ID) bool { return v == id })
	delete(ws.geo, id)
}

// Raise moves a surface to the top of the stacking order. The layout
// order, and therefore the assigned geometry, is unaffected.
func (ws *Workspace) Raise(id ID) {
	i := slices.Index(ws.stacking, id)
	if i < 0 {
		return
	}
	ws.stacking = append([]ID{id}, slices.Delete(ws.stacking, i, i+1)...)
}

// Contains reports whether the surface is on this workspace.
func (ws *Workspace) Contains(id ID) bool {
	return slices.Contains(ws.layout, id)
}

// Len is the number of surfaces on the workspace.
func (ws *Workspace) Len() int {
	return len(ws.layout)
}

// Surfaces returns the layout order.
func (ws *Workspace) Surfaces() []ID {
	return slices.Clone(ws.layout)
}

// Stacking returns the stacking order, topmost first.
func (ws *Workspace) Stacking() []ID {
	return slices.Clone(ws.stacking)
}

// Arrange recomputes geometry for the current surface list within
// area and records the result. It returns the surfaces whose assigned
// geometry changed, in layout order.
func (ws *Workspace) Arrange(area image.Rectangle) []ID {
	next := ws.strategy.Layout(area, ws.layout)

	var changed []ID
	for _, id := range ws.layout {
		if next[id] != ws.geo[id] {
			changed = append(changed, id)
		}
	}
	ws.geo = next
	return changed
}

// Geometry returns the geometry last assigned to the surface by
// Arrange.
func (ws *Workspace) Geometry(id ID) (image.Rectangle, bool) {
	r, ok := ws.geo[id]
	return r, ok
}
