package ufo

import "errors"

// Sentinel errors. All but ErrCacheExhausted are "fail that operation,
// engine remains healthy" outcomes per the error handling design;
// ErrCacheExhausted is raised inside fault servicing, where the fault
// handler passes it to logging.Fatalf. Other fatal conditions (populate
// failure, writeback I/O failure) do not use sentinels — they go through
// logging.Fatalf and tear the engine down instead, since they cannot be
// reported back to the kernel and recovered from.
var (
	ErrUnsupportedPlatform = errors.New("ufo: platform does not support userfaultfd")
	ErrInvalidConfig       = errors.New("ufo: invalid object configuration")
	ErrWatermarkInversion  = errors.New("ufo: low watermark must be less than high watermark")
	ErrChunkTooLarge       = errors.New("ufo: chunk size exceeds high minus low watermark headroom")
	ErrUnknownObject       = errors.New("ufo: unknown object id")
	ErrEngineShutdown      = errors.New("ufo: engine is shut down")
	ErrOverlappingSegment  = errors.New("ufo: reservation overlaps an existing object")
	ErrCacheExhausted      = errors.New("ufo: cache has no evictable chunks left but is still over the low watermark")
)
