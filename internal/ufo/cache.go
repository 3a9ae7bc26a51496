package ufo

import (
	"fmt"
	"sync"
	"weak"

	"ufo/internal/logging"
)

// Chunk describes one resident, page-aligned region of an object's body.
// A chunk with length 0 is tombstoned: it occupies a cache slot but holds
// no memory. The weak pointer lets the cache describe a region without
// keeping the object alive past Free.
type Chunk struct {
	obj    weak.Pointer[Object]
	id     ID
	offset int64 // chunk-aligned offset from the object base, header included
	length int64
	hash   contentHash
}

// chunkCache is the engine-wide FIFO of resident chunks, bounded by byte
// watermarks rather than chunk count.
type chunkCache struct {
	mu         sync.Mutex
	low, high  int64
	chunks     []*Chunk
	used       int64
	evictions  int64
	writebacks int64
}

func newChunkCache(low, high int64) *chunkCache {
	return &chunkCache{low: low, high: high}
}

// ensureCapacity runs eviction if admitting a chunk of the given size
// would exceed the high watermark. The check uses the requested size,
// not the cache's pre-request occupancy.
func (c *chunkCache) ensureCapacity(chunkSize int64) error {
	c.mu.Lock()
	needsEvict := c.used+chunkSize > c.high
	c.mu.Unlock()
	if !needsEvict {
		return nil
	}
	return c.evictToLowWatermark()
}

// add admits a newly-populated chunk. Callers must have already called
// ensureCapacity for chunkSize.
func (c *chunkCache) add(ch *Chunk) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunks = append(c.chunks, ch)
	c.used += ch.length
}

// evictToLowWatermark pops the oldest chunks until used <= low or the
// queue is exhausted. Exhausting the queue while still over watermark
// (and a fault still needs room) is a configuration error: a single
// chunk larger than high-low cannot be reclaimed into.
func (c *chunkCache) evictToLowWatermark() error {
	for {
		c.mu.Lock()
		if c.used <= c.low || len(c.chunks) == 0 {
			empty := len(c.chunks) == 0
			over := c.used > c.low
			c.mu.Unlock()
			if empty && over {
				return fmt.Errorf("%w: cache exhausted above low watermark (used=%d low=%d)", ErrCacheExhausted, c.used, c.low)
			}
			return nil
		}
		ch := c.chunks[0]
		c.chunks = c.chunks[1:]
		c.mu.Unlock()

		if ch.length == 0 {
			continue
		}
		c.evictChunk(ch)
	}
}

// evictChunk runs the chunk eviction protocol: hash the live bytes, flush
// them to writeback if dirty, decommit the pages, tombstone the chunk.
func (c *chunkCache) evictChunk(ch *Chunk) {
	size := ch.length
	obj := ch.obj.Value()
	if obj == nil {
		// Object already freed; its reservation is already released.
		c.mu.Lock()
		c.used -= size
		c.mu.Unlock()
		ch.length = 0
		return
	}

	obj.mu.Lock()
	if obj.freed {
		// Lost the race with a concurrent Free: its reservation and
		// writeback store are already gone, so there is nothing left to
		// flush. No writeback is attempted after unregister.
		obj.mu.Unlock()
		c.mu.Lock()
		c.used -= size
		c.mu.Unlock()
		ch.length = 0
		return
	}
	live := obj.liveBytes(ch.offset, ch.length)
	newHash := obj.hasher.sum(live)
	dirty := newHash != ch.hash
	if dirty {
		chunkIdx := (ch.offset - obj.Config.HeaderSizeWithPadding) / obj.Config.ChunkSize
		obj.writeback.persist(ch.offset-obj.Config.HeaderSizeWithPadding, live, chunkIdx)
	}
	if err := decommit(obj.base, ch.offset, ch.length); err != nil {
		obj.mu.Unlock()
		logging.Fatalf("ufo: decommit chunk at offset %d of object %d: %v", ch.offset, ch.id, err)
	}
	obj.mu.Unlock()

	c.mu.Lock()
	c.used -= size
	c.evictions++
	if dirty {
		c.writebacks++
	}
	c.mu.Unlock()
	ch.length = 0

	logging.WithFields(logging.Fields{
		"object": ch.id,
		"offset": ch.offset,
		"dirty":  dirty,
	}).Debug("evicted chunk")
}

// dropChunksOf tombstones every chunk belonging to id without running the
// writeback protocol; used by Free and Reset, which handle the whole
// object's storage at once.
func (c *chunkCache) dropChunksOf(id ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.chunks {
		if ch.id == id && ch.length != 0 {
			c.used -= ch.length
			ch.length = 0
		}
	}
}

// stats reports a point-in-time snapshot for the monitor/bench CLI.
type cacheStats struct {
	Used       int64
	Low        int64
	High       int64
	Evictions  int64
	Writebacks int64
}

// perObjectUsage reports resident bytes per object id, for the monitor
// CLI's per-object gauge.
func (c *chunkCache) perObjectUsage() map[ID]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	usage := make(map[ID]int64)
	for _, ch := range c.chunks {
		if ch.length > 0 {
			usage[ch.id] += ch.length
		}
	}
	return usage
}

func (c *chunkCache) stats() cacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cacheStats{
		Used:       c.used,
		Low:        c.low,
		High:       c.high,
		Evictions:  c.evictions,
		Writebacks: c.writebacks,
	}
}
