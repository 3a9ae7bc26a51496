//go:build linux

package ufo

import (
	"unsafe"
	"weak"

	"ufo/internal/logging"
)

// faultHandler runs the single goroutine that services page faults for an
// engine's fault channel.
type faultHandler struct {
	engine  *Engine
	scratch []byte // grown monotonically to the largest chunk size seen
}

func (fh *faultHandler) run() {
	for {
		ev, err := fh.engine.fc.nextEvent()
		if err != nil {
			logging.Fatalf("ufo: fault channel error: %v", err)
		}
		switch ev.kind {
		case eventPagefault:
			fh.service(uintptr(ev.addr))
		case eventClosed:
			logging.Info("fault handler exiting: channel closed")
			return
		default:
			logging.Fatalf("ufo: unrecognized fault channel event kind %v", ev.kind)
		}
	}
}

// service touches obj.base and obj.writeback across several lock windows
// and, via installPages, against the raw address of the reservation itself.
// handleFree can run concurrently on the control loop goroutine and tear
// both down the moment the fault handler drops obj.mu. obj.inflight holds
// that teardown off for the whole span below, from the inflight increment
// under the first obj.mu lock (the same step beginFault performs) to the
// matching endFault; every early return in between must release it
// exactly once before leaving.
func (fh *faultHandler) service(addr uintptr) {
	obj, ok := fh.engine.reg.lookup(addr)
	if !ok {
		logging.Fatalf("ufo: fault at %#x matches no registered object", addr)
	}

	obj.mu.Lock()
	if obj.freed {
		obj.mu.Unlock()
		logging.WithFields(logging.Fields{"object": obj.ID}).Warn("fault arrived for an already-freed object; abandoning")
		return
	}
	obj.inflight++
	absolute := int64(addr - obj.BaseAddr())
	if absolute < obj.Config.HeaderSizeWithPadding {
		obj.endFaultLocked()
		obj.mu.Unlock()
		logging.Fatalf("ufo: fault at %#x falls inside object %d's header, which is pre-zeroed and must never fault", addr, obj.ID)
	}
	chunkOffset := obj.Config.ChunkAlignedOffset(absolute)
	start, end := obj.Config.IndexWindow(chunkOffset)
	copyLen := obj.Config.CopyLength(chunkOffset)
	chunkBase := obj.BaseAddr() + uintptr(chunkOffset)
	obj.mu.Unlock()

	if err := fh.engine.cache.ensureCapacity(obj.Config.ChunkSize); err != nil {
		obj.endFault()
		logging.Fatalf("ufo: ensure capacity for object %d: %v", obj.ID, err)
	}

	if cap(fh.scratch) < int(copyLen) {
		fh.scratch = make([]byte, copyLen)
	}
	buf := fh.scratch[:copyLen]

	obj.mu.Lock()
	if obj.freed {
		obj.endFaultLocked()
		obj.mu.Unlock()
		logging.WithFields(logging.Fields{"object": obj.ID}).Warn("object freed while its fault was in flight; abandoning")
		return
	}
	chunkIdx := (chunkOffset - obj.Config.HeaderSizeWithPadding) / obj.Config.ChunkSize
	restored, restoredOK := obj.writeback.tryRestore(chunkOffset-obj.Config.HeaderSizeWithPadding, copyLen, chunkIdx)
	if restoredOK {
		copy(buf, restored)
	} else if err := obj.Config.Populate(start, end, buf); err != nil {
		obj.endFaultLocked()
		obj.mu.Unlock()
		logging.Fatalf("ufo: populate failed for object %d elements [%d,%d): %v", obj.ID, start, end, err)
	}
	obj.mu.Unlock()

	// installPages still addresses the reservation directly by virtual
	// address, so inflight stays held across it too; only after it
	// returns is it safe for Free to unmap chunkBase out from under us.
	installErr := fh.engine.fc.installPages(chunkBase, uintptr(unsafe.Pointer(&buf[0])), copyLen)
	obj.endFault()
	if installErr != nil {
		logging.Fatalf("ufo: install pages for object %d at %#x: %v", obj.ID, chunkBase, installErr)
	}

	ch := &Chunk{
		id:     obj.ID,
		offset: chunkOffset,
		length: copyLen,
		hash:   obj.hasher.sum(buf),
	}
	ch.obj = weak.Make(obj)
	fh.engine.cache.add(ch)

	logging.WithFields(logging.Fields{
		"object":  obj.ID,
		"offset":  chunkOffset,
		"len":     copyLen,
		"restore": restoredOK,
	}).Debug("serviced fault")
}
