package sched

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/outlandish-labs/greenrt/fault"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T, workers int) *Scheduler {
	s := New(workers, nil)
	s.Start()
	t.Cleanup(s.Shutdown)
	return s
}

func TestSpawnAndJoin(t *testing.T) {
	s := newTestScheduler(t, 2)

	var ran atomic.Bool
	h := s.Go(func(ctx *TaskCtx) { ran.Store(true) })
	panicVal, panicked := h.Join()
	require.False(t, panicked)
	require.Nil(t, panicVal)
	require.True(t, ran.Load())
}

func TestJoinReportsPanic(t *testing.T) {
	s := newTestScheduler(t, 2)

	h := s.Go(func(ctx *TaskCtx) {
		fault.Panic(ctx.Catch(), "boom")
	})
	panicVal, panicked := h.Join()
	require.True(t, panicked)
	require.Equal(t, "boom", panicVal.Message)
}

func TestHandleDoubleJoinPanics(t *testing.T) {
	s := newTestScheduler(t, 1)
	h := s.Go(func(ctx *TaskCtx) {})
	h.Join()
	require.Panics(t, func() { h.Join() })
}

func TestHandleDetach(t *testing.T) {
	s := newTestScheduler(t, 1)
	done := make(chan struct{})
	h := s.Go(func(ctx *TaskCtx) { close(done) })
	h.Detach()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("detached task never ran")
	}
	require.Panics(t, func() { h.Join() })
}

func TestEnsureHooksRunLIFO(t *testing.T) {
	s := newTestScheduler(t, 1)

	var order []int
	h := s.Go(func(ctx *TaskCtx) {
		ctx.Ensure(func() { order = append(order, 1) })
		ctx.Ensure(func() { order = append(order, 2) })
		ctx.Ensure(func() { order = append(order, 3) })
	})
	h.Join()
	require.Equal(t, []int{3, 2, 1}, order)
}

func TestEnsureHooksRunAfterPanic(t *testing.T) {
	s := newTestScheduler(t, 1)

	var ranEnsure atomic.Bool
	h := s.Go(func(ctx *TaskCtx) {
		ctx.Ensure(func() { ranEnsure.Store(true) })
		fault.Panic(ctx.Catch(), "boom")
	})
	h.Join()
	require.True(t, ranEnsure.Load())
}

func TestCooperativeCancel(t *testing.T) {
	s := newTestScheduler(t, 1)

	started := make(chan struct{})
	h := s.Go(func(ctx *TaskCtx) {
		close(started)
		for !ctx.Canceled() {
			ctx.Yield()
		}
	})
	<-started
	_, panicked := h.Cancel()
	require.False(t, panicked)
}

func TestCancelConsumesHandle(t *testing.T) {
	s := newTestScheduler(t, 1)

	h := s.Go(func(ctx *TaskCtx) {})
	h.Cancel()
	require.Panics(t, func() { h.Join() })
}

func TestJoinAndRepanicTransfersMessage(t *testing.T) {
	s := newTestScheduler(t, 1)

	h := s.Go(func(ctx *TaskCtx) {
		fault.Panic(ctx.Catch(), "boom")
	})
	defer func() {
		v, ok := fault.Recover(recover())
		require.True(t, ok)
		require.Equal(t, "boom", v.Message)
	}()
	h.JoinAndRepanic()
	t.Fatal("JoinAndRepanic returned without panicking")
}

func TestOverloadHookFiresOnceAboveThreshold(t *testing.T) {
	var fired atomic.Int64
	release := make(chan struct{})
	s := New(1, nil, WithOverloadHook(2, func(err error) {
		require.ErrorIs(t, err, ErrOverloaded)
		fired.Add(1)
	}))

	// Pre-load the global queue past the threshold before the worker
	// starts draining it, so the over-threshold push is deterministic.
	handles := make([]*Handle, 0, 8)
	for i := 0; i < 8; i++ {
		handles = append(handles, s.Go(func(ctx *TaskCtx) { <-release }))
	}
	require.Equal(t, int64(1), fired.Load())

	s.Start()
	close(release)
	for _, h := range handles {
		h.Join()
	}
	s.Shutdown()
}

func TestChildSpawnFromTask(t *testing.T) {
	s := newTestScheduler(t, 2)

	var childRan atomic.Bool
	h := s.Go(func(ctx *TaskCtx) {
		child := ctx.Spawn(func(ctx *TaskCtx) { childRan.Store(true) })
		child.Join()
	})
	h.Join()
	require.True(t, childRan.Load())
}

func TestManyTasksAcrossWorkersTriggerStealing(t *testing.T) {
	s := newTestScheduler(t, 4)

	const n = 500
	handles := make([]*Handle, n)
	var completed atomic.Int64
	for i := 0; i < n; i++ {
		handles[i] = s.Go(func(ctx *TaskCtx) { completed.Add(1) })
	}
	for _, h := range handles {
		h.Join()
	}
	require.Equal(t, int64(n), completed.Load())
}

func TestActiveTaskCount(t *testing.T) {
	s := newTestScheduler(t, 1)
	require.Equal(t, int64(0), s.ActiveTaskCount())

	block := make(chan struct{})
	h := s.Go(func(ctx *TaskCtx) { <-block })
	require.Eventually(t, func() bool { return s.ActiveTaskCount() == 1 }, time.Second, time.Millisecond)
	close(block)
	h.Join()
	require.Equal(t, int64(0), s.ActiveTaskCount())
}
