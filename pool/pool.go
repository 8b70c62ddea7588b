// Package pool implements the runtime's handle-based sparse storage: a
// generation-counted slot array that detects use of a dangling handle after
// its slot has been recycled.
//
// Each slot carries a generation counter that increments on every removal;
// a handle is valid only while its index is in range, its slot occupied,
// and its generation matches the slot's. Freed slots chain onto a singly
// linked free list.
package pool

import (
	"fmt"
	"sync/atomic"
)

var poolIDCounter uint64

func nextPoolID() uint64 {
	return atomic.AddUint64(&poolIDCounter, 1)
}

// Handle identifies a slot within a specific Pool. PoolID 0 never occurs and
// is used as the "invalid" sentinel.
type Handle struct {
	PoolID     uint64
	Index      uint32
	Generation uint32
}

// PackedHandle encodes (Index, Generation) into a single 64-bit word, with
// PoolID recovered out of band from the Pool that is asked to resolve it.
type PackedHandle uint64

// Pack encodes h's index and generation, dropping its PoolID.
func Pack(h Handle) PackedHandle {
	return PackedHandle(uint64(h.Index) | uint64(h.Generation)<<32)
}

// Unpack reconstructs a full Handle from a PackedHandle, using poolID
// supplied by the caller (ordinarily Pool.ID()).
func Unpack(p PackedHandle, poolID uint64) Handle {
	return Handle{
		PoolID:     poolID,
		Index:      uint32(uint64(p)),
		Generation: uint32(uint64(p) >> 32),
	}
}

type slot[T any] struct {
	generation uint32
	occupied   bool
	nextFree   int32 // -1 terminates the free list
	value      T
}

// Pool is generation-counted sparse storage for values of type T.
type Pool[T any] struct {
	id       uint64
	slots    []slot[T]
	freeHead int32 // -1 means empty
	length   int
}

// New returns an empty Pool with an initial capacity of 4.
func New[T any]() *Pool[T] {
	return WithCapacity[T](4)
}

// WithCapacity returns an empty Pool pre-sized to n slots (minimum 4).
func WithCapacity[T any](n int) *Pool[T] {
	if n < 4 {
		n = 4
	}
	p := &Pool[T]{id: nextPoolID(), freeHead: -1}
	p.growTo(n)
	return p
}

// ID returns the pool's process-wide unique identifier, used to recover the
// PoolID for packed-handle accessors.
func (p *Pool[T]) ID() uint64 { return p.id }

// Length returns the number of occupied slots.
func (p *Pool[T]) Length() int { return p.length }

// growTo doubles capacity (starting at 4) until it reaches at least n,
// chaining newly created slots onto the free list at generation 0.
func (p *Pool[T]) growTo(n int) {
	oldCap := len(p.slots)
	if n <= oldCap {
		return
	}
	newCap := oldCap
	if newCap == 0 {
		newCap = 4
	}
	for newCap < n {
		newCap *= 2
	}
	grown := make([]slot[T], newCap)
	copy(grown, p.slots)
	p.slots = grown

	// Chain new slots onto the free list, newest-first (mirrors simple
	// free-list construction used by the original allocator design).
	for i := newCap - 1; i >= oldCap; i-- {
		p.slots[i].nextFree = p.freeHead
		p.freeHead = int32(i)
	}
}

func (p *Pool[T]) takeFreeSlot() int32 {
	if p.freeHead == -1 {
		p.growTo(len(p.slots) * 2)
	}
	idx := p.freeHead
	p.freeHead = p.slots[idx].nextFree
	return idx
}

// Alloc reserves a zero-initialized slot and returns its handle.
func (p *Pool[T]) Alloc() Handle {
	idx := p.takeFreeSlot()
	var zero T
	p.slots[idx].value = zero
	p.slots[idx].occupied = true
	p.length++
	return Handle{PoolID: p.id, Index: uint32(idx), Generation: p.slots[idx].generation}
}

// Insert reserves a slot, stores elem, and returns its handle.
func (p *Pool[T]) Insert(elem T) Handle {
	h := p.Alloc()
	p.slots[h.Index].value = elem
	return h
}

// isValid reports whether h refers to a currently occupied slot in this
// pool; handles carrying a different PoolID are never valid here.
func (p *Pool[T]) isValid(h Handle) bool {
	if h.PoolID != p.id {
		return false
	}
	if h.Index >= uint32(len(p.slots)) {
		return false
	}
	s := &p.slots[h.Index]
	return s.occupied && s.generation == h.Generation
}

// IsValid reports whether h is a live handle into this pool.
func (p *Pool[T]) IsValid(h Handle) bool {
	return p.isValid(h)
}

// Get returns a pointer to h's payload, or nil if h is invalid.
func (p *Pool[T]) Get(h Handle) *T {
	if !p.isValid(h) {
		return nil
	}
	return &p.slots[h.Index].value
}

// MustGet returns a pointer to h's payload, panicking if h is invalid —
// the checked variant of Get.
func (p *Pool[T]) MustGet(h Handle) *T {
	ptr := p.Get(h)
	if ptr == nil {
		panic(fmt.Sprintf("pool: invalid handle %+v", h))
	}
	return ptr
}

// Remove invalidates h, returning the stored value and true on success, or
// the zero value and false if h was already invalid.
func (p *Pool[T]) Remove(h Handle) (T, bool) {
	if !p.isValid(h) {
		var zero T
		return zero, false
	}
	s := &p.slots[h.Index]
	value := s.value
	var zero T
	s.value = zero
	s.occupied = false
	if s.generation != ^uint32(0) {
		s.generation++ // saturates at UINT32_MAX; later reuses of the slot keep that generation
	}
	s.nextFree = p.freeHead
	p.freeHead = int32(h.Index)
	p.length--
	return value, true
}

// --- Packed-handle accessors ---

// GetPacked resolves a PackedHandle, reconstructing the full Handle using
// this pool's own ID (so a packed handle issued by a different pool will
// never validate, even if its index/generation happen to coincide).
func (p *Pool[T]) GetPacked(ph PackedHandle) *T {
	return p.Get(Unpack(ph, p.id))
}

// RemovePacked removes the slot referenced by a packed handle.
func (p *Pool[T]) RemovePacked(ph PackedHandle) (T, bool) {
	return p.Remove(Unpack(ph, p.id))
}

// IsValidPacked reports whether a packed handle is live in this pool.
func (p *Pool[T]) IsValidPacked(ph PackedHandle) bool {
	return p.isValid(Unpack(ph, p.id))
}
