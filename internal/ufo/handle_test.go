//go:build linux

package ufo

import (
	"errors"
	"runtime"
	"testing"
	"time"
)

func TestHandleFreeIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	proto, err := NewPrototype(0, 8)
	if err != nil {
		t.Fatalf("NewPrototype: %v", err)
	}
	h, err := e.Allocate(proto, 128, indexPopulate(8))
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	if err := h.Free(); err != nil {
		t.Fatalf("first Free: %v", err)
	}
	if err := h.Free(); err != nil {
		t.Fatalf("second Free: %v", err)
	}
}

func TestHandleOpsFailAfterEngineShutdown(t *testing.T) {
	e, err := NewEngine(EngineConfig{WatermarkLow: 16384, WatermarkHigh: 65536, TempDir: t.TempDir()})
	if err != nil {
		t.Skipf("userfaultfd unavailable in this environment: %v", err)
	}
	proto, perr := NewPrototype(0, 8)
	if perr != nil {
		t.Fatalf("NewPrototype: %v", perr)
	}
	h, err := e.Allocate(proto, 128, indexPopulate(8))
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	e.Shutdown()

	if err := h.Reset(); err == nil {
		t.Error("Reset after shutdown should report an error, got nil")
	}
	if err := h.Free(); !errors.Is(err, ErrEngineShutdown) {
		t.Errorf("Free after shutdown = %v, want ErrEngineShutdown", err)
	}
}

// TestHandleDropTriggersFree is a best-effort check that dropping a
// handle's last reference without an explicit Free eventually frees the
// underlying object via runtime.AddCleanup. GC cleanup timing is not
// guaranteed, so this polls briefly rather than asserting on the first
// attempt.
func TestHandleDropTriggersFree(t *testing.T) {
	e := newTestEngine(t)
	proto, err := NewPrototype(0, 8)
	if err != nil {
		t.Fatalf("NewPrototype: %v", err)
	}

	id := func() ID {
		h, err := e.Allocate(proto, 128, indexPopulate(8))
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		return h.id
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		runtime.GC()
		if _, ok := e.reg.get(id); !ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Skip("cleanup did not run within the polling window; GC timing is not guaranteed")
}
