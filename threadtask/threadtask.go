// Package threadtask implements the runtime's non-green parallel tasks: one
// dedicated, LockOSThread-pinned goroutine per spawn, for code that needs
// genuine OS-thread parallelism or must call blocking syscalls without
// stalling a green scheduler worker.
//
// Shares sched's affine Handle discipline (a handle must be Joined or
// Detached exactly once) and its fault/ensure-hook plumbing. As in sched,
// panics are surfaced through Join's return; unlike sched, they are not
// logged.
package threadtask

import (
	"runtime"
	"sync/atomic"

	"github.com/outlandish-labs/greenrt/fault"
)

// Func is an OS-thread task's body.
type Func func(ctx *Ctx)

// Ctx carries the ensure-hook stack, cancellation flag, and fault catch
// point for a running OS-thread task, mirroring sched.TaskCtx.
type Ctx struct {
	point    *fault.Point
	ensure   []func()
	canceled atomic.Bool
}

// Ensure registers fn to run, LIFO, after the task body returns or panics.
func (c *Ctx) Ensure(fn func()) { c.ensure = append(c.ensure, fn) }

// Cancel marks the task canceled. Cooperative: the body must poll
// Canceled().
func (c *Ctx) Cancel() { c.canceled.Store(true) }

// Canceled reports whether Cancel has been called.
func (c *Ctx) Canceled() bool { return c.canceled.Load() }

// Catch returns the task's fault catch point.
func (c *Ctx) Catch() *fault.Point { return c.point }

type task struct {
	doneCh   chan struct{}
	panicVal *fault.Value
	cancelFn func()
}

// Handle is an affine reference to a spawned OS-thread task: it must be
// Joined, Detached, or Canceled exactly once.
type Handle struct {
	t    *task
	used atomic.Bool
}

func (h *Handle) claim(op string) {
	if !h.used.CompareAndSwap(false, true) {
		panic("threadtask: handle " + op + " on an already-consumed task handle")
	}
}

// Join blocks until the task completes, returning its panic value (nil if
// none) and whether it panicked.
func (h *Handle) Join() (*fault.Value, bool) {
	h.claim("join")
	return h.await()
}

// JoinAndRepanic is Join, but re-raises the task's panic in the caller
// instead of returning it, for callers that want default Go panic
// propagation semantics.
func (h *Handle) JoinAndRepanic() {
	v, panicked := h.Join()
	if panicked {
		panic(v)
	}
}

// Detach releases the handle without waiting. A panic in a detached task is
// recovered and recorded on the task, but it is neither logged nor observed
// by the spawner.
func (h *Handle) Detach() {
	h.claim("detach")
}

// Cancel sets the task's cancel flag, then joins. Cancellation is
// cooperative — the body must poll ctx.Canceled() — so Cancel blocks until
// the task observes the flag and returns (or panics). Cancel consumes the
// handle the same way Join does.
func (h *Handle) Cancel() (*fault.Value, bool) {
	h.claim("cancel")
	h.t.cancelFn()
	return h.await()
}

func (h *Handle) await() (*fault.Value, bool) {
	<-h.t.doneCh
	return h.t.panicVal, h.t.panicVal != nil
}

// Spawn launches fn on a new, LockOSThread-pinned goroutine and returns an
// affine Handle for it.
func Spawn(fn Func) *Handle {
	ctx := &Ctx{point: fault.NewPoint()}
	t := &task{doneCh: make(chan struct{}), cancelFn: ctx.Cancel}

	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		defer func() {
			r := recover()
			runEnsureHooks(ctx)
			if v, ok := fault.Recover(r); ok {
				t.panicVal = v
			}
			close(t.doneCh)
		}()
		fn(ctx)
	}()

	return &Handle{t: t}
}

func runEnsureHooks(ctx *Ctx) {
	for i := len(ctx.ensure) - 1; i >= 0; i-- {
		func(hook func()) {
			defer func() { recover() }()
			hook()
		}(ctx.ensure[i])
	}
}
