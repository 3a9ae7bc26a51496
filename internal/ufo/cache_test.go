//go:build linux

package ufo

import (
	"testing"
	"weak"
)

func newTestObject(t *testing.T, id ID, bodySize int64) *Object {
	t.Helper()
	base, err := reserveAnonymous(bodySize)
	if err != nil {
		t.Fatalf("reserveAnonymous: %v", err)
	}
	t.Cleanup(func() { releaseVirtual(base) })

	h, err := newHasher()
	if err != nil {
		t.Fatalf("newHasher: %v", err)
	}
	wb, err := newWritebackStore(t.TempDir(), bodySize, 2)
	if err != nil {
		t.Fatalf("newWritebackStore: %v", err)
	}
	t.Cleanup(func() { wb.close() })

	cfg := &ObjectConfig{
		HeaderSizeWithPadding: 0,
		Stride:                8,
		ElementCt:             bodySize / 8,
		ElementsPerChunk:      4096 / 8,
		ChunkSize:             4096,
		TrueSize:              bodySize,
		Populate:              func(int64, int64, []byte) error { return nil },
	}

	return &Object{ID: id, Config: cfg, base: base, writeback: wb, hasher: h}
}

func chunkFor(obj *Object, offset, length int64) *Chunk {
	return &Chunk{
		obj:    weak.Make(obj),
		id:     obj.ID,
		offset: offset,
		length: length,
		hash:   obj.hasher.sum(obj.liveBytes(offset, length)),
	}
}

func TestCacheEvictToLowWatermark(t *testing.T) {
	obj := newTestObject(t, 1, 8192)
	c := newChunkCache(4096, 8192)

	c.add(chunkFor(obj, 0, 4096))
	c.add(chunkFor(obj, 4096, 4096))

	if c.used != 8192 {
		t.Fatalf("used = %d, want 8192", c.used)
	}
	if err := c.evictToLowWatermark(); err != nil {
		t.Fatalf("evictToLowWatermark: %v", err)
	}
	if c.used > c.low {
		t.Errorf("used = %d after eviction, want <= low (%d)", c.used, c.low)
	}
}

func TestCacheEvictionPersistsDirtyChunk(t *testing.T) {
	obj := newTestObject(t, 1, 4096)
	c := newChunkCache(2048, 4096)

	ch := chunkFor(obj, 0, 4096)
	c.add(ch)

	obj.liveBytes(0, 4096)[0] = 0xAB // dirty the chunk after admission hash was taken

	if err := c.evictToLowWatermark(); err != nil {
		t.Fatalf("evictToLowWatermark: %v", err)
	}
	if ch.length != 0 {
		t.Errorf("chunk length = %d after eviction, want 0 (tombstoned)", ch.length)
	}

	restored, ok := obj.writeback.tryRestore(0, 4096, 0)
	if !ok {
		t.Fatal("expected dirty chunk to have been persisted to the writeback store")
	}
	if restored[0] != 0xAB {
		t.Errorf("restored[0] = %#x, want 0xab", restored[0])
	}
}

func TestCacheEvictionSkipsCleanChunk(t *testing.T) {
	obj := newTestObject(t, 1, 4096)
	c := newChunkCache(2048, 4096)

	ch := chunkFor(obj, 0, 4096)
	c.add(ch)

	if err := c.evictToLowWatermark(); err != nil {
		t.Fatalf("evictToLowWatermark: %v", err)
	}
	if _, ok := obj.writeback.tryRestore(0, 4096, 0); ok {
		t.Error("unmodified chunk should not have been persisted")
	}
}

func TestCacheDropChunksOfSkipsWriteback(t *testing.T) {
	obj := newTestObject(t, 1, 4096)
	c := newChunkCache(2048, 4096)

	ch := chunkFor(obj, 0, 4096)
	c.add(ch)
	obj.liveBytes(0, 4096)[0] = 0xCD

	c.dropChunksOf(obj.ID)

	if ch.length != 0 {
		t.Errorf("chunk length = %d after dropChunksOf, want 0", ch.length)
	}
	if c.used != 0 {
		t.Errorf("used = %d after dropChunksOf, want 0", c.used)
	}
	if _, ok := obj.writeback.tryRestore(0, 4096, 0); ok {
		t.Error("dropChunksOf must not run the writeback protocol")
	}
}

func TestCacheEvictionOfFreedObjectIsNoOp(t *testing.T) {
	obj := newTestObject(t, 1, 4096)
	c := newChunkCache(2048, 4096)
	ch := chunkFor(obj, 0, 4096)
	c.add(ch)

	obj.mu.Lock()
	obj.freed = true
	obj.mu.Unlock()

	if err := c.evictToLowWatermark(); err != nil {
		t.Fatalf("evictToLowWatermark: %v", err)
	}
	if ch.length != 0 {
		t.Errorf("chunk length = %d, want 0", ch.length)
	}
}
