// Package ufo implements a user-faulted virtual memory engine: callers
// reserve an address range for a large logical array and a populate
// callback fills each page lazily, on first touch, via the kernel's
// userfaultfd(2) facility. Evicted dirty pages are persisted to a
// per-object scratch file so a later re-fault restores them instead of
// invoking the callback again.
//
// The engine is Linux-only (userfaultfd has no portable equivalent); on
// other platforms every entry point returns ErrUnsupportedPlatform.
package ufo
