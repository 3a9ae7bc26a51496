package ufo

import (
	"fmt"
	"runtime"
	"unsafe"
	"weak"
)

// Handle is the value type user code holds for one allocated object. It
// carries a weak reference to the owning engine rather than a strong one:
// an engine can be shut down and collected while handles to its objects
// are still reachable, and operations on those handles then fail cleanly
// instead of keeping the whole engine alive.
type Handle struct {
	engine     weak.Pointer[Engine]
	id         ID
	base       uintptr
	headerSize int64
	bodySize   int64

	freed   bool
	cleanup runtime.Cleanup
}

// armHandleCleanup registers an implicit Free for when h becomes
// unreachable without having been freed explicitly. The cleanup closure
// must not capture h itself — only the fields it needs — or h could never
// become unreachable. Explicit Free stops the cleanup so a handle freed
// by hand is never freed a second time by the garbage collector.
func armHandleCleanup(h *Handle) {
	h.cleanup = runtime.AddCleanup(h, func(args cleanupArgs) {
		if eng := args.engine.Value(); eng != nil {
			eng.free(args.id)
		}
	}, cleanupArgs{engine: h.engine, id: h.id})
}

type cleanupArgs struct {
	engine weak.Pointer[Engine]
	id     ID
}

// HeaderPtr returns a pointer to the start of the object's header region.
// Pure pointer arithmetic; does not touch the engine.
func (h *Handle) HeaderPtr() unsafe.Pointer {
	return unsafe.Pointer(h.base)
}

// BodyPtr returns a pointer to the start of the object's body region,
// immediately following the (possibly padded) header.
func (h *Handle) BodyPtr() unsafe.Pointer {
	return unsafe.Pointer(h.base + uintptr(h.headerSize))
}

// BodySize reports the usable body region size in bytes, rounded up to a
// whole number of pages.
func (h *Handle) BodySize() int64 { return h.bodySize }

// Body returns a byte slice spanning the object's body region. Touching
// any byte of it for the first time (or after a Reset) raises a real
// page fault serviced by the engine's fault handler.
func (h *Handle) Body() []byte {
	return unsafe.Slice((*byte)(h.BodyPtr()), h.bodySize)
}

// Header returns a byte slice spanning the object's header region. The
// header is pre-zeroed and installed at allocation time, so reading it
// never faults.
func (h *Handle) Header() []byte {
	return unsafe.Slice((*byte)(h.HeaderPtr()), h.headerSize)
}

// ID reports the object's engine-assigned identifier.
func (h *Handle) ID() ID { return h.id }

// Reset decommits and un-writes-back the object, so the next access to
// any body byte invokes populate again.
func (h *Handle) Reset() error {
	eng := h.engine.Value()
	if eng == nil {
		return fmt.Errorf("%w: reset", ErrEngineShutdown)
	}
	return eng.reset(h.id)
}

// Free releases the object immediately. Safe to call more than once: a
// repeated call on the same handle reports no error. When the engine has
// already been shut down (or collected), Free reports ErrEngineShutdown;
// Shutdown has freed every object by then.
func (h *Handle) Free() error {
	if h.freed {
		return nil
	}
	h.freed = true
	h.cleanup.Stop()
	eng := h.engine.Value()
	if eng == nil {
		return fmt.Errorf("%w: free", ErrEngineShutdown)
	}
	return eng.free(h.id)
}
