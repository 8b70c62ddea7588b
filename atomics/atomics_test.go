package atomics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInt64LoadStoreSwap(t *testing.T) {
	i := NewInt64(10)
	require.Equal(t, int64(10), i.Load(SeqCst))
	i.Store(20, SeqCst)
	require.Equal(t, int64(20), i.Load(Relaxed))
	old := i.Swap(30, AcqRel)
	require.Equal(t, int64(20), old)
	require.Equal(t, int64(30), i.IntoInner())
}

func TestInt64CompareAndSwap(t *testing.T) {
	i := NewInt64(1)
	require.True(t, i.CompareAndSwapStrong(1, 2, SeqCst, SeqCst))
	require.False(t, i.CompareAndSwapStrong(1, 3, SeqCst, SeqCst))
	require.Equal(t, int64(2), i.Load(SeqCst))
	require.True(t, i.CompareAndSwapWeak(2, 5, SeqCst, SeqCst))
}

func TestInt64FetchOps(t *testing.T) {
	i := NewInt64(10)
	require.Equal(t, int64(10), i.FetchAdd(5, SeqCst))
	require.Equal(t, int64(15), i.Load(SeqCst))
	require.Equal(t, int64(15), i.FetchSub(5, SeqCst))
	require.Equal(t, int64(10), i.Load(SeqCst))

	i.Store(0b1100, SeqCst)
	require.Equal(t, int64(0b1100), i.FetchAnd(0b1010, SeqCst))
	require.Equal(t, int64(0b1000), i.Load(SeqCst))

	i.Store(0b1000, SeqCst)
	i.FetchOr(0b0001, SeqCst)
	require.Equal(t, int64(0b1001), i.Load(SeqCst))

	i.Store(0b1111, SeqCst)
	i.FetchXor(0b0101, SeqCst)
	require.Equal(t, int64(0b1010), i.Load(SeqCst))
}

func TestInt64FetchNandMaxMin(t *testing.T) {
	i := NewInt64(0b1100)
	i.FetchNand(0b1010, SeqCst)
	require.Equal(t, ^int64(0b1000), i.Load(SeqCst))

	i.Store(5, SeqCst)
	i.FetchMax(10, SeqCst)
	require.Equal(t, int64(10), i.Load(SeqCst))
	i.FetchMax(3, SeqCst)
	require.Equal(t, int64(10), i.Load(SeqCst))

	i.Store(5, SeqCst)
	i.FetchMin(3, SeqCst)
	require.Equal(t, int64(3), i.Load(SeqCst))
	i.FetchMin(10, SeqCst)
	require.Equal(t, int64(3), i.Load(SeqCst))
}

func TestUint64Ops(t *testing.T) {
	u := NewUint64(100)
	u.Store(200, SeqCst)
	require.Equal(t, uint64(200), u.Load(SeqCst))
	require.True(t, u.CompareAndSwapStrong(200, 50, SeqCst, SeqCst))
	require.Equal(t, uint64(50), u.FetchAdd(200, SeqCst))
	require.Equal(t, uint64(250), u.Load(SeqCst))
}

func TestBoolOps(t *testing.T) {
	b := NewBool(false)
	require.False(t, b.Load(SeqCst))
	old := b.Swap(true, SeqCst)
	require.False(t, old)
	require.True(t, b.CompareAndSwapStrong(true, false, SeqCst, SeqCst))
	require.False(t, b.IntoInner())
}

func TestFenceAndCompilerFenceDoNotPanic(t *testing.T) {
	require.NotPanics(t, func() {
		Fence(SeqCst)
		CompilerFence(SeqCst)
	})
}

func TestUnrecognizedOrderingTreatedAsSeqCst(t *testing.T) {
	i := NewInt64(1)
	// Ordering(99) is not one of the named constants; it must still
	// behave like SeqCst since sync/atomic never differentiates.
	i.Store(2, Ordering(99))
	require.Equal(t, int64(2), i.Load(Ordering(99)))
}
