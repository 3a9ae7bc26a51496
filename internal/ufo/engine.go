package ufo

import (
	"fmt"
	"sync"
	"unsafe"
	"weak"

	"ufo/internal/logging"
)

// EngineConfig holds the tunables an Engine is constructed with. It
// mirrors the config package's Watermarks/Storage tables but is decoupled
// from TOML so callers embedding the package need not touch config files.
type EngineConfig struct {
	WatermarkLow  int64
	WatermarkHigh int64
	TempDir       string
}

// Engine owns the registry, the chunk cache, the fault channel, and the
// control goroutine that serializes all mutation of object state. A zero
// Engine is not usable; construct with NewEngine.
type Engine struct {
	reg    *registry
	cache  *chunkCache
	fc     *faultChannel
	hasher *hasher

	tempDir string

	reqs chan ctrlRequest // unbuffered: senders rendezvous with the control loop
	done chan struct{}    // closed once the control loop has exited

	handlerWG sync.WaitGroup
}

type ctrlRequest interface{ isCtrlRequest() }

type allocateRequest struct {
	proto     *Prototype
	elementCt int64
	populate  PopulateFunc
	reply     chan allocateReply
}

type allocateReply struct {
	handle *Handle
	err    error
}

type resetRequest struct {
	id   ID
	sync chan error
}

type freeRequest struct {
	id   ID
	sync chan error
}

type shutdownRequest struct {
	sync chan struct{}
}

func (allocateRequest) isCtrlRequest() {}
func (resetRequest) isCtrlRequest()    {}
func (freeRequest) isCtrlRequest()     {}
func (shutdownRequest) isCtrlRequest() {}

// NewEngine validates cfg, opens a fault channel, and starts the control
// and fault-handler goroutines. The caller must eventually call Shutdown.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.WatermarkLow <= 0 || cfg.WatermarkHigh <= 0 {
		return nil, fmt.Errorf("%w: watermarks must be positive", ErrInvalidConfig)
	}
	if cfg.WatermarkLow >= cfg.WatermarkHigh {
		return nil, ErrWatermarkInversion
	}

	fc, err := newFaultChannel()
	if err != nil {
		return nil, fmt.Errorf("opening fault channel: %w", err)
	}
	h, err := newHasher()
	if err != nil {
		fc.close()
		return nil, err
	}

	e := &Engine{
		reg:     newRegistry(),
		cache:   newChunkCache(cfg.WatermarkLow, cfg.WatermarkHigh),
		fc:      fc,
		hasher:  h,
		tempDir: cfg.TempDir,
		reqs:    make(chan ctrlRequest),
		done:    make(chan struct{}),
	}

	fh := &faultHandler{engine: e}
	e.handlerWG.Add(1)
	go func() {
		defer e.handlerWG.Done()
		fh.run()
	}()
	go e.runControlLoop()

	logging.WithFields(logging.Fields{
		"low":  cfg.WatermarkLow,
		"high": cfg.WatermarkHigh,
	}).Info("engine started")

	return e, nil
}

// Allocate creates a new object from proto with elementCt elements and
// returns a Handle to it. Blocks until the control loop processes the
// request.
func (e *Engine) Allocate(proto *Prototype, elementCt int64, populate PopulateFunc) (*Handle, error) {
	reply := make(chan allocateReply, 1)
	if err := e.send(allocateRequest{proto: proto, elementCt: elementCt, populate: populate, reply: reply}); err != nil {
		return nil, err
	}
	r := <-reply
	return r.handle, r.err
}

// reset sends a synchronous Reset request for id.
func (e *Engine) reset(id ID) error {
	sync := make(chan error, 1)
	if err := e.send(resetRequest{id: id, sync: sync}); err != nil {
		return err
	}
	return <-sync
}

// free sends a synchronous Free request for id.
func (e *Engine) free(id ID) error {
	sync := make(chan error, 1)
	if err := e.send(freeRequest{id: id, sync: sync}); err != nil {
		return err
	}
	return <-sync
}

// send delivers req to the control loop, or reports ErrEngineShutdown if
// the engine has already finished shutting down. Never blocks forever:
// once e.done is closed, a send that has not yet rendezvoused gives up.
func (e *Engine) send(req ctrlRequest) error {
	select {
	case e.reqs <- req:
		return nil
	case <-e.done:
		return fmt.Errorf("%w: send %T", ErrEngineShutdown, req)
	}
}

// Shutdown frees every remaining object and stops both goroutines. Safe
// to call more than once; later calls observe the already-closed done
// channel and return immediately.
func (e *Engine) Shutdown() {
	sync := make(chan struct{})
	select {
	case e.reqs <- shutdownRequest{sync: sync}:
		<-sync
	case <-e.done:
	}
	e.handlerWG.Wait()
}

func (e *Engine) runControlLoop() {
	for req := range e.reqs {
		switch r := req.(type) {
		case allocateRequest:
			r.reply <- e.handleAllocate(r.proto, r.elementCt, r.populate)
		case resetRequest:
			r.sync <- e.handleReset(r.id)
		case freeRequest:
			r.sync <- e.handleFree(r.id)
		case shutdownRequest:
			e.handleShutdown()
			close(e.done)
			close(r.sync)
			return
		}
	}
}

func (e *Engine) handleAllocate(proto *Prototype, elementCt int64, populate PopulateFunc) allocateReply {
	cfg, err := newObjectConfig(pageSize, proto, elementCt, populate)
	if err != nil {
		return allocateReply{err: err}
	}
	if cfg.ChunkSize > e.cache.high-e.cache.low {
		return allocateReply{err: fmt.Errorf("%w: chunk size %d exceeds headroom %d", ErrChunkTooLarge, cfg.ChunkSize, e.cache.high-e.cache.low)}
	}

	base, err := reserveAnonymous(cfg.TrueSize)
	if err != nil {
		return allocateReply{err: fmt.Errorf("allocate: %w", err)}
	}

	chunkCt := (cfg.TrueSize - cfg.HeaderSizeWithPadding) / cfg.ChunkSize
	if (cfg.TrueSize-cfg.HeaderSizeWithPadding)%cfg.ChunkSize != 0 {
		chunkCt++
	}
	wb, err := newWritebackStore(e.tempDir, cfg.TrueSize-cfg.HeaderSizeWithPadding, chunkCt)
	if err != nil {
		releaseVirtual(base)
		return allocateReply{err: fmt.Errorf("allocate: %w", err)}
	}

	id := e.reg.allocateID()
	obj := newObject(id, cfg, base, wb, e.hasher)

	baseAddr := obj.BaseAddr()
	if err := e.fc.register(baseAddr, cfg.TrueSize); err != nil {
		wb.close()
		releaseVirtual(base)
		return allocateReply{err: fmt.Errorf("allocate: %w", err)}
	}

	if cfg.HeaderSizeWithPadding > 0 {
		zero := make([]byte, cfg.HeaderSizeWithPadding)
		if err := e.fc.installPages(baseAddr, uintptr(unsafe.Pointer(&zero[0])), cfg.HeaderSizeWithPadding); err != nil {
			e.fc.unregister(baseAddr, cfg.TrueSize)
			wb.close()
			releaseVirtual(base)
			return allocateReply{err: fmt.Errorf("allocate: pre-install header: %w", err)}
		}
	}

	if err := e.reg.insert(obj); err != nil {
		e.fc.unregister(baseAddr, cfg.TrueSize)
		wb.close()
		releaseVirtual(base)
		return allocateReply{err: err}
	}

	logging.WithFields(logging.Fields{"object": id, "true_size": cfg.TrueSize}).Info("object allocated")

	h := &Handle{
		engine:     weak.Make(e),
		id:         id,
		base:       baseAddr,
		headerSize: cfg.HeaderSizeWithPadding,
		bodySize:   cfg.TrueSize - cfg.HeaderSizeWithPadding,
	}
	armHandleCleanup(h)
	return allocateReply{handle: h}
}

func (e *Engine) handleReset(id ID) error {
	obj, ok := e.reg.get(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownObject, id)
	}

	obj.mu.Lock()
	bodyOffset := obj.Config.HeaderSizeWithPadding
	bodyLen := obj.Config.TrueSize - bodyOffset
	if err := decommit(obj.base, bodyOffset, bodyLen); err != nil {
		obj.mu.Unlock()
		logging.Fatalf("ufo: reset decommit object %d: %v", id, err)
	}
	obj.writeback.clearAll()
	obj.mu.Unlock()

	// Lock order: the cache must never be locked while an object lock is
	// held, so dropChunksOf runs only after obj.mu has been released.
	e.cache.dropChunksOf(id)

	logging.WithFields(logging.Fields{"object": id}).Info("object reset")
	return nil
}

func (e *Engine) handleFree(id ID) error {
	obj, ok := e.reg.get(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownObject, id)
	}

	if err := e.fc.unregister(obj.BaseAddr(), obj.Config.TrueSize); err != nil {
		logging.WithFields(logging.Fields{"object": id}).Warn("unregister fault range failed during free")
	}
	e.reg.remove(id)
	e.cache.dropChunksOf(id)

	// A fault that was already looked up in the registry before remove()
	// ran above can still be mid-service on the fault handler goroutine,
	// touching obj.base/obj.writeback. Wait for it to finish before tearing
	// either down, rather than racing it.
	obj.mu.Lock()
	for obj.inflight > 0 {
		obj.cond.Wait()
	}
	obj.writeback.close()
	releaseVirtual(obj.base)
	obj.base = nil
	obj.freed = true
	obj.mu.Unlock()

	logging.WithFields(logging.Fields{"object": id}).Info("object freed")
	return nil
}

// Stats is a point-in-time snapshot of engine occupancy, for the bench
// and monitor CLI commands. It sends no control message — the cache and
// registry hold their own locks for this kind of read.
type Stats struct {
	CacheUsed      int64
	CacheLow       int64
	CacheHigh      int64
	Evictions      int64
	Writebacks     int64
	ObjectCt       int
	PerObjectBytes map[ID]int64
}

func (e *Engine) Stats() Stats {
	cs := e.cache.stats()
	return Stats{
		CacheUsed:      cs.Used,
		CacheLow:       cs.Low,
		CacheHigh:      cs.High,
		Evictions:      cs.Evictions,
		Writebacks:     cs.Writebacks,
		ObjectCt:       len(e.reg.allIDs()),
		PerObjectBytes: e.cache.perObjectUsage(),
	}
}

func (e *Engine) handleShutdown() {
	logging.Info("engine shutdown begun")
	for _, id := range e.reg.allIDs() {
		if err := e.handleFree(id); err != nil {
			logging.WithFields(logging.Fields{"object": id}).Warn("free during shutdown failed")
		}
	}
	if err := e.fc.close(); err != nil {
		logging.Warn("closing fault channel: " + err.Error())
	}
	logging.Info("engine shutdown finished")
}
