// Package alloc implements the runtime's heap front end: a pluggable
// allocator backend plus process-wide, atomically maintained usage stats.
//
// Go does not expose an interceptable malloc, so this is not a real heap
// implementation — it is a stats-and-policy layer, with a default backend
// that delegates to Go's own allocator via make([]byte, n) and a
// SetAllocator hook for callers who want an arena, a sync.Pool-backed
// recycler, or similar.
package alloc

import (
	"sync/atomic"

	"github.com/outlandish-labs/greenrt/internal/rtlog"
)

// Stats is an atomic snapshot of the allocator's usage counters.
type Stats struct {
	AllocCount uint64
	FreeCount  uint64
	BytesAlloc uint64
	BytesFreed uint64
	PeakBytes  uint64
}

// Current returns bytes currently live (BytesAlloc - BytesFreed).
func (s Stats) Current() uint64 {
	if s.BytesFreed > s.BytesAlloc {
		return 0
	}
	return s.BytesAlloc - s.BytesFreed
}

// AllocFn, ReallocFn, and FreeFn form a pluggable allocator backend.
// ReallocFn receives the old slice (nil for a fresh allocation) and the
// requested new size; it returns a slice of exactly newSize bytes.
type (
	AllocFn   func(ctx any, size int) []byte
	ReallocFn func(ctx any, old []byte, newSize int) []byte
	FreeFn    func(ctx any, buf []byte)
)

func defaultAlloc(_ any, size int) []byte { return make([]byte, size) }

func defaultRealloc(_ any, old []byte, newSize int) []byte {
	if newSize <= len(old) {
		return old[:newSize]
	}
	buf := make([]byte, newSize)
	copy(buf, old)
	return buf
}

func defaultFree(_ any, _ []byte) {}

// Allocator is a heap front end with usage accounting. The zero value is
// ready to use with the default (Go-native) backend.
type Allocator struct {
	allocFn   AllocFn
	reallocFn ReallocFn
	freeFn    FreeFn
	ctx       any

	allocCount uint64
	freeCount  uint64
	bytesAlloc uint64
	bytesFreed uint64
	peak       uint64
}

// New returns an Allocator using the default Go-backed allocator.
func New() *Allocator {
	return &Allocator{
		allocFn:   defaultAlloc,
		reallocFn: defaultRealloc,
		freeFn:    defaultFree,
	}
}

// SetAllocator replaces the backend. Call it before any allocation through
// this instance; calling it afterwards is safe but accounting from the
// previous backend's outstanding allocations is not retroactively
// attributed.
func (a *Allocator) SetAllocator(allocFn AllocFn, reallocFn ReallocFn, freeFn FreeFn, ctx any) {
	a.allocFn, a.reallocFn, a.freeFn, a.ctx = allocFn, reallocFn, freeFn, ctx
}

// Alloc returns a size-byte slice. size<=0 returns nil; a backend returning
// nil for a positive size is fatal.
func (a *Allocator) Alloc(size int) []byte {
	if size <= 0 {
		return nil
	}
	buf := a.allocFn(a.ctx, size)
	if buf == nil {
		rtlog.Fatal("alloc: backend returned nil for positive size", map[string]any{"size": size})
	}
	a.recordAlloc(size)
	return buf
}

// Realloc resizes buf to newSize, preserving oldSize as the accounting basis
// for the freed/allocated byte pair. newSize<=0 frees buf and returns nil.
func (a *Allocator) Realloc(buf []byte, oldSize, newSize int) []byte {
	if newSize <= 0 {
		a.Free(buf, oldSize)
		return nil
	}
	out := a.reallocFn(a.ctx, buf, newSize)
	if out == nil {
		rtlog.Fatal("alloc: backend returned nil on realloc", map[string]any{"old_size": oldSize, "new_size": newSize})
	}
	// Emit a free-of-old + alloc-of-new pair to keep byte counters accurate.
	if buf != nil {
		a.recordFree(oldSize)
	}
	a.recordAlloc(newSize)
	return out
}

// Free releases buf, whose size is known, keeping byte counters exact.
func (a *Allocator) Free(buf []byte, size int) {
	a.freeFn(a.ctx, buf)
	a.recordFree(size)
}

// FreeUnsized releases buf without a known size. Only FreeCount advances;
// BytesFreed undercounts on this path, so Current (and any peak recorded
// afterwards) over-reports. Callers should prefer Free with a known size
// whenever one is available.
func (a *Allocator) FreeUnsized(buf []byte) {
	a.freeFn(a.ctx, buf)
	atomic.AddUint64(&a.freeCount, 1)
}

func (a *Allocator) recordAlloc(size int) {
	atomic.AddUint64(&a.allocCount, 1)
	newBytes := atomic.AddUint64(&a.bytesAlloc, uint64(size))
	freed := atomic.LoadUint64(&a.bytesFreed)
	a.bumpPeak(newBytes - freed)
}

func (a *Allocator) recordFree(size int) {
	atomic.AddUint64(&a.freeCount, 1)
	atomic.AddUint64(&a.bytesFreed, uint64(size))
}

// bumpPeak raises peak via a weak-CAS loop:
// while current > peak: CAS(&peak, peak, current).
func (a *Allocator) bumpPeak(current uint64) {
	for {
		peak := atomic.LoadUint64(&a.peak)
		if current <= peak {
			return
		}
		if atomic.CompareAndSwapUint64(&a.peak, peak, current) {
			return
		}
	}
}

// ReadStats returns an atomic snapshot of the five counters.
func (a *Allocator) ReadStats() Stats {
	return Stats{
		AllocCount: atomic.LoadUint64(&a.allocCount),
		FreeCount:  atomic.LoadUint64(&a.freeCount),
		BytesAlloc: atomic.LoadUint64(&a.bytesAlloc),
		BytesFreed: atomic.LoadUint64(&a.bytesFreed),
		PeakBytes:  atomic.LoadUint64(&a.peak),
	}
}
