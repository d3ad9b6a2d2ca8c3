package tile

import (
	"image"
	"slices"
	"testing"
)

func TestWorkspaceOrders(t *testing.T) {
	ws := NewWorkspace(Split{})

	ws.Insert(1)
	ws.Insert(2)
	ws.Insert(3)
	ws.Insert(2) // duplicate insert is a no-op

	if got := ws.Surfaces(); !slices.Equal(got, []ID{1, 2, 3}) {
		t.Errorf("layout order = %v", got)
	}
	if got := ws.Stacking(); !slices.Equal(got, []ID{3, 2, 1}) {
		t.Errorf("stacking order = %v", got)
	}

	ws.Raise(1)
	if got := ws.Stacking(); !slices.Equal(got, []ID{1, 3, 2}) {
		t.Errorf("stacking after raise = %v", got)
	}
	if got := ws.Surfaces(); !slices.Equal(got, []ID{1, 2, 3}) {
		t.Errorf("raise changed layout order: %v", got)
	}

	ws.Remove(2)
	if ws.Contains(2) {
		t.Error("removed surface still present")
	}
	if got := ws.Len(); got != 2 {
		t.Errorf("len = %v, want 2", got)
	}
	if got := ws.Stacking(); !slices.Equal(got, []ID{1, 3}) {
		t.Errorf("stacking after remove = %v", got)
	}
}

func TestWorkspaceArrange(t *testing.T) {
	ws := NewWorkspace(Split{})
	area := image.Rect(0, 0, 800, 600)

	ws.Insert(1)
	changed := ws.Arrange(area)
	if !slices.Equal(changed, []ID{1}) {
		t.Errorf("first arrange changed %v, want [1]", changed)
	}

	// Nothing moved, so nothing should be reported.
	if changed := ws.Arrange(area); len(changed) != 0 {
		t.Errorf("idle arrange changed %v", changed)
	}

	ws.Insert(2)
	changed = ws.Arrange(area)
	if !slices.Equal(changed, []ID{1, 2}) {
		t.Errorf("second arrange changed %v, want [1 2]", changed)
	}

	geo, ok := ws.Geometry(2)
	if !ok || geo.Empty() {
		t.Errorf("geometry for 2 = %v, %v", geo, ok)
	}

	ws.Remove(2)
	if _, ok := ws.Geometry(2); ok {
		t.Error("geometry survives removal")
	}
}
