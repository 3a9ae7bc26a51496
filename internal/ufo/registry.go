package ufo

import (
	"fmt"
	"sort"
	"sync"
)

// segment is one object's address range within the registry's ordered
// segment map, [start, end).
type segment struct {
	start uintptr
	end   uintptr
	obj   *Object
}

// registry owns the id map and the segment map. It is mutated only by the
// control goroutine and read-locked by the fault handler; lock order is
// always registry before any object lock, never the reverse.
type registry struct {
	mu       sync.RWMutex
	byID     map[ID]*Object
	segments []segment // kept sorted by start for binary search
	nextID   ID
}

func newRegistry() *registry {
	return &registry{byID: make(map[ID]*Object)}
}

// allocateID returns a fresh id: the counter increases monotonically,
// wraps around on overflow, and skips any id still live in the registry.
func (r *registry) allocateID() ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		r.nextID++
		if _, taken := r.byID[r.nextID]; !taken {
			return r.nextID
		}
	}
}

// insert adds obj to both maps. Returns ErrOverlappingSegment if its
// reservation intersects any existing live segment.
func (r *registry) insert(obj *Object) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := obj.BaseAddr()
	end := start + uintptr(obj.Config.TrueSize)

	i := sort.Search(len(r.segments), func(i int) bool { return r.segments[i].start >= start })
	if i > 0 && r.segments[i-1].end > start {
		return fmt.Errorf("%w: [%#x,%#x) overlaps [%#x,%#x)", ErrOverlappingSegment, start, end, r.segments[i-1].start, r.segments[i-1].end)
	}
	if i < len(r.segments) && r.segments[i].start < end {
		return fmt.Errorf("%w: [%#x,%#x) overlaps [%#x,%#x)", ErrOverlappingSegment, start, end, r.segments[i].start, r.segments[i].end)
	}

	r.segments = append(r.segments, segment{})
	copy(r.segments[i+1:], r.segments[i:])
	r.segments[i] = segment{start: start, end: end, obj: obj}
	r.byID[obj.ID] = obj
	return nil
}

// remove deletes obj's id-map and segment-map entries. Called by Free
// only, after the object's reservation is unregistered from the fault
// channel so no further fault can observe it mid-removal.
func (r *registry) remove(id ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	obj, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)

	start := obj.BaseAddr()
	i := sort.Search(len(r.segments), func(i int) bool { return r.segments[i].start >= start })
	if i < len(r.segments) && r.segments[i].start == start {
		r.segments = append(r.segments[:i], r.segments[i+1:]...)
	}
}

// get returns the object for id, or false if unknown.
func (r *registry) get(id ID) (*Object, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	obj, ok := r.byID[id]
	return obj, ok
}

// lookup finds the object whose segment contains addr, via binary search
// over the disjoint, sorted segment list. Called by the fault handler on
// every fault.
func (r *registry) lookup(addr uintptr) (*Object, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := sort.Search(len(r.segments), func(i int) bool { return r.segments[i].end > addr })
	if i < len(r.segments) && r.segments[i].start <= addr {
		return r.segments[i].obj, true
	}
	return nil, false
}

// allIDs returns every live object id, used by Shutdown to free everything.
func (r *registry) allIDs() []ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]ID, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	return ids
}
