//go:build !linux

package ufo

import "os"

var pageSize = int64(4096)

func reserveAnonymous(size int64) ([]byte, error) { return nil, ErrUnsupportedPlatform }

func releaseVirtual(data []byte) error { return ErrUnsupportedPlatform }

func decommit(data []byte, offset, length int64) error { return ErrUnsupportedPlatform }

func mapFile(f *os.File, size int64) ([]byte, error) { return nil, ErrUnsupportedPlatform }

func unmapFile(data []byte) error { return ErrUnsupportedPlatform }

func newFaultChannel() (*faultChannel, error) { return nil, ErrUnsupportedPlatform }

// faultChannel is declared here too so the rest of the package (which is
// not itself build-tagged) can reference the type on every platform; the
// real definition with methods lives in uffd_linux.go.
type faultChannel struct{}

func (fc *faultChannel) register(base uintptr, length int64) error { return ErrUnsupportedPlatform }

func (fc *faultChannel) unregister(base uintptr, length int64) error { return ErrUnsupportedPlatform }

func (fc *faultChannel) installPages(dst, src uintptr, length int64) error {
	return ErrUnsupportedPlatform
}

func (fc *faultChannel) nextEvent() (faultEvent, error) { return faultEvent{}, ErrUnsupportedPlatform }

func (fc *faultChannel) close() error { return ErrUnsupportedPlatform }

// faultHandler is declared for the same reason; NewEngine fails at
// newFaultChannel before one is ever started on these platforms.
type faultHandler struct {
	engine *Engine
}

func (fh *faultHandler) run() {}

type faultEventKind int

const (
	eventPagefault faultEventKind = iota
	eventClosed
	eventOther
)

type faultEvent struct {
	kind faultEventKind
	addr uint64
}
