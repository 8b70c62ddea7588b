package threadtask

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/outlandish-labs/greenrt/fault"
	"github.com/stretchr/testify/require"
)

func TestSpawnAndJoin(t *testing.T) {
	var ran atomic.Bool
	h := Spawn(func(ctx *Ctx) { ran.Store(true) })
	v, panicked := h.Join()
	require.False(t, panicked)
	require.Nil(t, v)
	require.True(t, ran.Load())
}

func TestJoinReportsPanic(t *testing.T) {
	h := Spawn(func(ctx *Ctx) {
		fault.Panic(ctx.Catch(), "thread boom")
	})
	v, panicked := h.Join()
	require.True(t, panicked)
	require.Equal(t, "thread boom", v.Message)
}

func TestJoinAndRepanicReraises(t *testing.T) {
	h := Spawn(func(ctx *Ctx) {
		fault.Panic(ctx.Catch(), "rethrown")
	})
	require.Panics(t, h.JoinAndRepanic)
}

func TestDoubleJoinPanics(t *testing.T) {
	h := Spawn(func(ctx *Ctx) {})
	h.Join()
	require.Panics(t, func() { h.Join() })
}

func TestDetach(t *testing.T) {
	done := make(chan struct{})
	h := Spawn(func(ctx *Ctx) { close(done) })
	h.Detach()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("detached task never ran")
	}
}

func TestEnsureHooksRunLIFOEvenOnPanic(t *testing.T) {
	var order []int
	h := Spawn(func(ctx *Ctx) {
		ctx.Ensure(func() { order = append(order, 1) })
		ctx.Ensure(func() { order = append(order, 2) })
		fault.Panic(ctx.Catch(), "x")
	})
	h.Join()
	require.Equal(t, []int{2, 1}, order)
}

func TestCooperativeCancel(t *testing.T) {
	started := make(chan struct{})
	h := Spawn(func(ctx *Ctx) {
		close(started)
		for !ctx.Canceled() {
			time.Sleep(time.Millisecond)
		}
	})
	<-started
	_, panicked := h.Cancel()
	require.False(t, panicked)
	require.Panics(t, func() { h.Join() })
}
