package ufo

import (
	"sync"
	"unsafe"
)

// ID is an opaque, monotonic (but wraparound-tolerant) object identifier.
type ID uint64

// Object is one logical array: its configuration, its anonymous reservation
// (no physical backing until faulted), and its writeback store. Object
// instances are owned by the control loop and read by the fault handler;
// everything but Config is guarded by mu.
type Object struct {
	ID     ID
	Config *ObjectConfig

	mu        sync.Mutex
	cond      *sync.Cond // signaled when inflight drops to zero
	base      []byte     // mmap'd anonymous reservation, len == Config.TrueSize
	writeback *writebackStore
	hasher    *hasher
	freed     bool // set under mu by Free, once inflight is zero
	inflight  int  // fault-handler operations currently touching base/writeback
}

// newObject builds an Object ready for use by both the control loop and the
// fault handler, with its condition variable wired to its own mutex.
func newObject(id ID, cfg *ObjectConfig, base []byte, wb *writebackStore, h *hasher) *Object {
	o := &Object{ID: id, Config: cfg, base: base, writeback: wb, hasher: h}
	o.cond = sync.NewCond(&o.mu)
	return o
}

// BaseAddr returns the virtual address of the start of the object's
// reservation. Valid for the lifetime of the Object; callers must not
// retain it past Free.
func (o *Object) BaseAddr() uintptr {
	return uintptr(unsafe.Pointer(&o.base[0]))
}

// liveBytes returns a slice over [offset, offset+length) of the object's
// live reservation. Callers must hold o.mu.
func (o *Object) liveBytes(offset, length int64) []byte {
	return o.base[offset : offset+length]
}

// beginFault marks one fault-handler operation as in flight against o,
// deferring Free's teardown of base/writeback until it ends. Reports false
// if o is already freed, in which case the caller must abandon the fault
// without touching base or writeback.
func (o *Object) beginFault() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.freed {
		return false
	}
	o.inflight++
	return true
}

// endFault marks one in-flight fault-handler operation as finished and
// wakes any Free waiting for inflight to reach zero. Must be called exactly
// once for every beginFault that returned true, even when the fault is
// abandoned partway through.
func (o *Object) endFault() {
	o.mu.Lock()
	o.endFaultLocked()
	o.mu.Unlock()
}

// endFaultLocked is endFault for a caller that already holds o.mu.
func (o *Object) endFaultLocked() {
	o.inflight--
	if o.inflight == 0 {
		o.cond.Broadcast()
	}
}
