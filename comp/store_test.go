package comp

import (
	"errors"
	"testing"
)

func TestStoreLifecycle(t *testing.T) {
	s := newStore()

	obj := &testObject{}
	if err := s.Add(5, obj); err != nil {
		t.Fatalf("add: %v", err)
	}
	if obj.ID() != 5 {
		t.Errorf("id = %v, want 5", obj.ID())
	}
	if got := s.Get(5); got != obj {
		t.Errorf("get = %v, want %v", got, obj)
	}

	var dup DuplicateIDError
	if err := s.Add(5, &testObject{}); !errors.As(err, &dup) || dup.ID != 5 {
		t.Errorf("duplicate add = %v", err)
	}

	s.Delete(5)
	if !obj.deleted {
		t.Error("Delete hook not called")
	}
	if got := s.Get(5); got != nil {
		t.Errorf("get after delete = %v", got)
	}

	// Deleting an unknown ID is a no-op.
	s.Delete(99)
}

func TestStoreRefFailsClosedAcrossReuse(t *testing.T) {
	s := newStore()

	first := &testObject{}
	s.Add(5, first)
	ref := s.Ref(5)
	if got := ref.Resolve(); got != first {
		t.Fatalf("resolve = %v, want %v", got, first)
	}

	s.Delete(5)
	if got := ref.Resolve(); got != nil {
		t.Errorf("resolve after delete = %v", got)
	}

	// The client reuses the ID; the stale ref must not see the new
	// object.
	second := &testObject{}
	s.Add(5, second)
	if got := ref.Resolve(); got != nil {
		t.Errorf("stale ref resolved recycled ID: %v", got)
	}
	if got := s.Ref(5).Resolve(); got != second {
		t.Errorf("fresh ref = %v, want %v", got, second)
	}
}

func TestStoreAllAscending(t *testing.T) {
	s := newStore()
	for _, id := range []uint32{9, 2, 7, 4} {
		s.Add(id, &testObject{})
	}

	objs := s.All()
	if len(objs) != 4 {
		t.Fatalf("len = %v, want 4", len(objs))
	}
	for i := 1; i < len(objs); i++ {
		if objs[i-1].ID() >= objs[i].ID() {
			t.Fatalf("not ascending: %v then %v", objs[i-1].ID(), objs[i].ID())
		}
	}
}
