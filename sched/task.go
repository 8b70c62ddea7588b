package sched

import (
	"sync/atomic"
	"time"

	"github.com/outlandish-labs/greenrt/fault"
	"github.com/outlandish-labs/greenrt/ioengine"
)

// TaskFunc is a green task's body. A Go closure already carries its
// function pointer and captured environment, so a task needs no separate
// [func_ptr|captures] struct.
type TaskFunc func(ctx *TaskCtx)

type taskImpl struct {
	fn       TaskFunc
	sched    *Scheduler
	ctx      *TaskCtx
	doneCh   chan struct{}
	panicVal *fault.Value
}

// TaskCtx is what a running task's body receives: its ensure-hook stack,
// cancellation flag, panic catch point, and (set by the worker that is
// currently executing it) enough scheduler access to spawn onto the local
// deque and perform I/O yields.
type TaskCtx struct {
	task       *taskImpl
	sched      *Scheduler
	worker     *worker
	point      *fault.Point
	ensure     []func()
	canceled   atomic.Bool
}

// Ensure registers fn to run, LIFO, after the task body returns or panics,
// before the task is reported done.
func (ctx *TaskCtx) Ensure(fn func()) {
	ctx.ensure = append(ctx.ensure, fn)
}

// Cancel marks the task as canceled. Cooperative: the task body must poll
// Canceled() at a suitable point and return early.
func (ctx *TaskCtx) Cancel() { ctx.canceled.Store(true) }

// Canceled reports whether Cancel has been called on this task.
func (ctx *TaskCtx) Canceled() bool { return ctx.canceled.Load() }

// Catch returns the task's fault catch point, for fault.Panic/fault.Panicf.
func (ctx *TaskCtx) Catch() *fault.Point { return ctx.point }

// Spawn creates a child task, enqueued on the spawning task's own worker's
// local deque, giving it cache/scheduling locality with its parent.
func (ctx *TaskCtx) Spawn(fn TaskFunc) *Handle {
	return ctx.sched.spawnOnto(fn, ctx.worker)
}

type ioResult struct {
	n   int
	err error
}

// YieldRead submits a read and blocks the calling task, not the whole
// worker pool: the dedicated poller goroutine (see pollerLoop in
// scheduler.go) keeps driving the I/O engine's Poll and firing completions
// even if every other worker is itself parked inside a yield.
func (ctx *TaskCtx) YieldRead(fd int, buf []byte) (int, error) {
	return ctx.yieldIO(func(cb ioengine.CompletionFunc) (ioengine.SlotID, error) {
		return ctx.sched.ioEngine.SubmitRead(fd, buf, cb)
	})
}

// YieldWrite submits a write and blocks the calling task until it completes.
func (ctx *TaskCtx) YieldWrite(fd int, buf []byte) (int, error) {
	return ctx.yieldIO(func(cb ioengine.CompletionFunc) (ioengine.SlotID, error) {
		return ctx.sched.ioEngine.SubmitWrite(fd, buf, cb)
	})
}

// YieldAccept submits an accept and blocks the calling task until it
// completes, returning the new connection's file descriptor.
func (ctx *TaskCtx) YieldAccept(fd int) (int, error) {
	if ctx.sched.ioEngine == nil {
		return 0, ioengine.ErrUnsupported
	}
	resultCh := make(chan ioResult, 1)
	_, err := ctx.sched.ioEngine.SubmitAccept(fd, func(connFd int, err error) {
		resultCh <- ioResult{n: connFd, err: err}
	})
	if err != nil {
		return 0, err
	}
	res := <-resultCh
	return res.n, res.err
}

// YieldTimeout blocks the calling task until d elapses.
func (ctx *TaskCtx) YieldTimeout(d time.Duration) {
	if ctx.sched.ioEngine == nil {
		time.Sleep(d)
		return
	}
	doneCh := make(chan struct{})
	_, err := ctx.sched.ioEngine.SubmitTimeout(time.Now().Add(d), func() { close(doneCh) })
	if err != nil {
		time.Sleep(d)
		return
	}
	<-doneCh
}

// Yield is the plain cooperative yield, giving other work a chance to run.
func (ctx *TaskCtx) Yield() {
	yieldOSThread()
}

func (ctx *TaskCtx) yieldIO(submit func(ioengine.CompletionFunc) (ioengine.SlotID, error)) (int, error) {
	if ctx.sched.ioEngine == nil {
		return 0, ioengine.ErrUnsupported
	}
	resultCh := make(chan ioResult, 1)
	_, err := submit(func(n int, err error) {
		resultCh <- ioResult{n: n, err: err}
	})
	if err != nil {
		return 0, err
	}
	res := <-resultCh
	return res.n, res.err
}

// Handle is an affine reference to a spawned task: it must be Joined,
// Detached, or Canceled exactly once; any further use panics.
type Handle struct {
	t    *taskImpl
	used atomic.Bool
}

func (h *Handle) claim(op string) {
	if !h.used.CompareAndSwap(false, true) {
		panic("sched: handle " + op + " on an already-consumed task handle")
	}
}

// Join blocks until the task completes, returning its panic value (nil if
// it completed normally) and whether it panicked.
func (h *Handle) Join() (*fault.Value, bool) {
	h.claim("join")
	return h.await()
}

// JoinAndRepanic is Join, but re-raises the task's panic in the joining
// goroutine instead of returning it, for callers that want the panic to
// keep unwinding.
func (h *Handle) JoinAndRepanic() {
	v, panicked := h.Join()
	if panicked {
		panic(v)
	}
}

// Detach releases the handle without waiting for completion; the task runs
// to completion independently and any panic it raises is only logged, never
// observed by this caller.
func (h *Handle) Detach() {
	h.claim("detach")
}

// Cancel sets the task's cancel flag, then joins. Cancellation is
// cooperative — the body must poll ctx.Canceled() — so Cancel blocks until
// the task observes the flag and returns (or panics). Cancel consumes the
// handle the same way Join does.
func (h *Handle) Cancel() (*fault.Value, bool) {
	h.claim("cancel")
	h.t.ctx.Cancel()
	return h.await()
}

func (h *Handle) await() (*fault.Value, bool) {
	<-h.t.doneCh
	return h.t.panicVal, h.t.panicVal != nil
}
