package greenrt

import "github.com/outlandish-labs/greenrt/pool"

// PackHandle encodes h's index and generation into a single 64-bit word
// (low 32 bits index, high 32 bits generation). The pool id is not part of
// the packed word — it is recovered from whichever *pool.Pool[T] the caller
// asks to resolve the handle against.
func PackHandle(h pool.Handle) pool.PackedHandle {
	return pool.Pack(h)
}

// UnpackHandle reconstructs a full Handle from a packed word, given the id
// of the pool it is being resolved against.
func UnpackHandle(p pool.PackedHandle, poolID uint64) pool.Handle {
	return pool.Unpack(p, poolID)
}
