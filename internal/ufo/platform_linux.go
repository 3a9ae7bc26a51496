//go:build linux

package ufo

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

var pageSize = int64(unix.Getpagesize())

// reserveAnonymous reserves an anonymous, unbacked region of size bytes.
// No physical page exists until the region (once registered with a fault
// channel) is faulted and populated.
func reserveAnonymous(size int64) ([]byte, error) {
	data, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANONYMOUS|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("reserve anonymous region of %d bytes: %w", size, err)
	}
	return data, nil
}

// releaseVirtual unmaps an entire reservation, returning it to the system.
// Used on object Free and to undo a failed Allocate — the reservation does
// not outlive the object.
func releaseVirtual(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("unmap reservation: %w", err)
	}
	return nil
}

// decommit releases the physical pages backing [offset, offset+length) of
// an anonymous reservation back to the kernel while preserving the virtual
// mapping (and, if it is uffd-registered, its missing-fault behavior) so a
// subsequent access raises a fresh fault instead of silently reading stale
// data.
func decommit(data []byte, offset, length int64) error {
	region := data[offset : offset+length]
	if len(region) == 0 {
		return nil
	}
	if err := unix.Madvise(region, unix.MADV_DONTNEED); err != nil {
		return fmt.Errorf("decommit range [%d,%d): %w", offset, offset+length, err)
	}
	return nil
}

// mapFile creates a shared file-backed mapping of size bytes over f. The
// kernel flushes writes through this mapping back to the file.
func mapFile(f *os.File, size int64) ([]byte, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap file %s: %w", f.Name(), err)
	}
	return data, nil
}

func unmapFile(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("munmap file region: %w", err)
	}
	return nil
}
