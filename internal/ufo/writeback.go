package ufo

import (
	"fmt"
	"os"
	"sync"

	"ufo/internal/config"
)

// writebackStore backs one object's body region with a MAP_SHARED
// scratch file. The file is unlinked immediately after creation so the
// kernel reclaims it on crash or process exit; only open file
// descriptors (held by this process and any child that inherited them)
// keep the backing storage alive.
//
// present tracks, one bit per chunk, whether a chunk has ever been
// written back. A chunk that has never been written back has no
// meaningful data in the file and must not be restored from it.
type writebackStore struct {
	mu      sync.Mutex
	file    *os.File
	mapped  []byte // MAP_SHARED view of the file, len == body size
	present []bool // one entry per chunk index
}

// newWritebackStore creates and unlinks a scratch file sized to hold the
// body (post-header) region of an object and maps it MAP_SHARED.
func newWritebackStore(dir string, bodySize int64, chunkCt int64) (*writebackStore, error) {
	if dir == "" {
		dir = config.UFOHome()
	}
	f, err := os.CreateTemp(dir, "ufo-writeback-*")
	if err != nil {
		return nil, fmt.Errorf("create writeback file: %w", err)
	}
	name := f.Name()
	if err := f.Truncate(bodySize); err != nil {
		f.Close()
		os.Remove(name)
		return nil, fmt.Errorf("truncate writeback file: %w", err)
	}

	var mapped []byte
	if bodySize > 0 {
		mapped, err = mapFile(f, bodySize)
		if err != nil {
			f.Close()
			os.Remove(name)
			return nil, err
		}
	}

	// Unlink now; the fd (and the mapping) keep the storage alive.
	if err := os.Remove(name); err != nil {
		if mapped != nil {
			unmapFile(mapped)
		}
		f.Close()
		return nil, fmt.Errorf("unlink writeback file: %w", err)
	}

	return &writebackStore{
		file:    f,
		mapped:  mapped,
		present: make([]bool, chunkCt),
	}, nil
}

// tryRestore returns the previously written-back bytes for chunkIdx, if
// any were ever persisted, along with whether data was found.
func (w *writebackStore) tryRestore(offset, length int64, chunkIdx int64) ([]byte, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.mapped == nil {
		return nil, false
	}
	if chunkIdx < 0 || int(chunkIdx) >= len(w.present) || !w.present[chunkIdx] {
		return nil, false
	}
	out := make([]byte, length)
	copy(out, w.mapped[offset:offset+length])
	return out, true
}

// persist copies data into the writeback file at the chunk's body offset
// and marks the chunk present for future restores. A no-op once the store
// has been closed, rather than writing through a dangling mapping.
func (w *writebackStore) persist(offset int64, data []byte, chunkIdx int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.mapped == nil {
		return
	}
	copy(w.mapped[offset:offset+int64(len(data))], data)
	if chunkIdx >= 0 && int(chunkIdx) < len(w.present) {
		w.present[chunkIdx] = true
	}
}

// clearAll discards every persisted chunk. Used by Reset. MADV_DONTNEED
// against a MAP_SHARED file-backed mapping does not reliably discard
// dirty pages, so the bitmap is cleared directly and the bytes are
// zeroed by hand.
func (w *writebackStore) clearAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.present {
		w.present[i] = false
	}
	for i := range w.mapped {
		w.mapped[i] = 0
	}
}

func (w *writebackStore) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var errs []error
	if w.mapped != nil {
		if err := unmapFile(w.mapped); err != nil {
			errs = append(errs, err)
		}
		w.mapped = nil
	}
	if err := w.file.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("closing writeback store: %v", errs)
	}
	return nil
}
