package sched

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestShutdownDrainsQueuedTasksBeforeStopping reproduces the scenario a
// maintainer flagged: Shutdown called while tasks are still sitting in the
// global queue behind a long-running one. Shutdown must wait for
// activeTaskCount to reach zero before it lets any worker see the shutdown
// flag, or those queued tasks are abandoned and their Joins hang forever.
func TestShutdownDrainsQueuedTasksBeforeStopping(t *testing.T) {
	s := New(1, nil)
	s.Start()

	const n = 50
	var completed atomic.Int64
	block := make(chan struct{})

	handles := make([]*Handle, n)
	handles[0] = s.Go(func(ctx *TaskCtx) {
		<-block
		completed.Add(1)
	})
	for i := 1; i < n; i++ {
		handles[i] = s.Go(func(ctx *TaskCtx) { completed.Add(1) })
	}

	shutdownDone := make(chan struct{})
	go func() {
		s.Shutdown()
		close(shutdownDone)
	}()

	// Give Shutdown a chance to observe the nonzero active count and start
	// waiting before the blocking task (and everything queued behind it) is
	// allowed to run.
	time.Sleep(20 * time.Millisecond)
	close(block)

	select {
	case <-shutdownDone:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown never returned; queued tasks were likely abandoned")
	}

	require.Equal(t, int64(n), completed.Load())
	for _, h := range handles {
		_, panicked := h.Join()
		require.False(t, panicked)
	}
}

// TestShutdownDrainsStolenWorkAcrossWorkers is the multi-worker variant:
// tasks spread across local deques via stealing must all still run to
// completion before Shutdown returns.
func TestShutdownDrainsStolenWorkAcrossWorkers(t *testing.T) {
	s := New(4, nil)
	s.Start()

	const n = 200
	var completed atomic.Int64
	handles := make([]*Handle, n)
	for i := 0; i < n; i++ {
		handles[i] = s.Go(func(ctx *TaskCtx) { completed.Add(1) })
	}

	shutdownDone := make(chan struct{})
	go func() {
		s.Shutdown()
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown never returned with work scattered across workers")
	}

	require.Equal(t, int64(n), completed.Load())
	for _, h := range handles {
		_, panicked := h.Join()
		require.False(t, panicked)
	}
}
