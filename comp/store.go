package comp

import (
	"fmt"

	"deedles.dev/tatami/wire"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// DuplicateIDError is returned when a client tries to create an
// object with an ID that is still live.
type DuplicateIDError struct {
	ID uint32
}

func (err DuplicateIDError) Error() string {
	return fmt.Sprintf("object ID already in use: %v", err.ID)
}

type storeEntry struct {
	obj wire.Object
	gen uint32
}

// store is a connection's object arena. Entries are keyed by the
// client-chosen ID; a per-ID generation counter is bumped on every
// destroy so that stale references held elsewhere in the compositor
// fail closed instead of observing a recycled ID.
type store struct {
	objects map[uint32]storeEntry
	gens    map[uint32]uint32
}

func newStore() *store {
	return &store{
		objects: make(map[uint32]storeEntry),
		gens:    make(map[uint32]uint32),
	}
}

// Add registers obj under the given ID. Reusing a live ID is a
// protocol violation.
func (s *store) Add(id uint32, obj wire.Object) error {
	if _, ok := s.objects[id]; ok {
		return DuplicateIDError{ID: id}
	}

	obj.SetID(id)
	s.objects[id] = storeEntry{obj: obj, gen: s.gens[id]}
	return nil
}

// Get returns the object with the given ID, or nil if the ID is
// unknown or has been destroyed.
func (s *store) Get(id uint32) wire.Object {
	return s.objects[id].obj
}

// Ref returns a generation-checked reference to a live object.
func (s *store) Ref(id uint32) ref {
	ent, ok := s.objects[id]
	if !ok {
		return ref{}
	}
	return ref{store: s, id: id, gen: ent.gen, ok: true}
}

// Delete removes the object and invalidates every outstanding ref to
// its ID.
func (s *store) Delete(id uint32) {
	ent, ok := s.objects[id]
	if !ok {
		return
	}

	delete(s.objects, id)
	s.gens[id] = ent.gen + 1
	ent.obj.Delete()
}

// All returns a snapshot of the live objects in ascending ID order.
func (s *store) All() []wire.Object {
	ids := maps.Keys(s.objects)
	slices.Sort(ids)

	objs := make([]wire.Object, 0, len(ids))
	for _, id := range ids {
		objs = append(objs, s.objects[id].obj)
	}
	return objs
}

// ref is a weak, generation-checked handle to a store entry.
type ref struct {
	store *store
	id    uint32
	gen   uint32
	ok    bool
}

// Resolve returns the referenced object, or nil if it has since been
// destroyed or its ID reused.
func (r ref) Resolve() wire.Object {
	if !r.ok {
		return nil
	}
	ent, ok := r.store.objects[r.id]
	if !ok || ent.gen != r.gen {
		return nil
	}
	return ent.obj
}
