// Package sched implements the runtime's green-task M:N work-stealing
// scheduler: a fixed pool of worker goroutines, each with a lock-free local
// deque, a mutex-guarded global injection queue, and an optional completion-
// based I/O engine it polls as a low-priority fallback.
//
// A worker prefers its own deque, then steals from a peer, then drains the
// global queue, then polls I/O without blocking, then spin-yields, and
// finally parks.
//
// A task's body runs inline on whichever worker goroutine dispatches it, for
// the whole of its execution: Go gives every goroutine its own growable
// stack for free, so a "green task" yielding on I/O is simply that worker
// goroutine blocking on a channel that the I/O engine's completion callback
// fires. Tasks are cooperative and suspend only at I/O and explicit yields.
//
// Driving the I/O engine cannot be left to the worker loop's own poll step
// alone: every worker can simultaneously be inside runTask, blocked on a
// yield's result channel, with none of them looping back around to the poll step —
// trivially reached with a single worker plus one yielding task, or N
// workers all yielding concurrently. A dedicated poller goroutine
// (pollerLoop, started by Start alongside the workers) exists precisely so
// at least one goroutine is always available to call the engine's Poll and
// fire the completions that unblock yielding tasks, independent of whether
// any worker is currently free to do it. The worker poll step and pollerLoop share
// one I/O engine, so pollOnce CAS-guards against the two calling Poll at the
// same time; whichever loses the race just falls through to its next step
// (worker) or backs off briefly (poller) rather than blocking on it.
package sched

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/outlandish-labs/greenrt/fault"
	"github.com/outlandish-labs/greenrt/ioengine"
	"github.com/outlandish-labs/greenrt/internal/rtlog"
)

// ErrOverloaded is the error an overload hook receives when the global
// injection queue's length exceeds the hook's configured threshold.
var ErrOverloaded = errors.New("sched: global injection queue overloaded")

const (
	spinIterations = 64
	// pollerTimeout bounds how long the dedicated poller goroutine blocks in
	// a single Poll call, so it keeps rechecking the shutdown flag instead
	// of blocking in the engine indefinitely.
	pollerTimeout = 10 * time.Millisecond
	// pollBackoff is how long pollerLoop waits before retrying after losing
	// the pollInFlight race to a worker's opportunistic poll.
	pollBackoff = time.Millisecond
	// drainPollInterval is how often Shutdown rechecks activeTaskCount while
	// waiting for it to reach zero.
	drainPollInterval = 10 * time.Millisecond
)

func yieldOSThread() { runtime.Gosched() }

type worker struct {
	id    int
	sched *Scheduler
	deque *deque
}

// Scheduler is a fixed-size pool of work-stealing workers sharing one
// global queue and one I/O engine.
type Scheduler struct {
	workers         []*worker
	globalMu        sync.Mutex
	globalQ         []*taskImpl
	ioEngine        ioengine.Backend
	pollInFlight    atomic.Bool
	activeTaskCount atomic.Int64
	shutdown        atomic.Bool
	wg              sync.WaitGroup

	overloadAt   int
	onOverload   func(error)
	overloadFire atomic.Bool

	parkMu   sync.Mutex
	parkCond *sync.Cond
}

// Option configures a Scheduler at construction.
type Option interface {
	apply(*Scheduler)
}

type optionFunc func(*Scheduler)

func (f optionFunc) apply(s *Scheduler) { f(s) }

// WithOverloadHook registers fn to be called with ErrOverloaded whenever a
// spawn leaves the global injection queue holding more than threshold tasks.
// The global queue is unbounded (its submitters' burst size is not a
// design-time constant the way a worker's local backlog is), so the hook is
// the back-pressure signal: callers can shed load or slow their spawn rate.
// fn runs outside the queue lock and is edge-triggered — it fires once when
// the queue crosses the threshold and re-arms after the queue drains below
// it, rather than on every over-threshold push.
func WithOverloadHook(threshold int, fn func(error)) Option {
	return optionFunc(func(s *Scheduler) {
		s.overloadAt = threshold
		s.onOverload = fn
	})
}

// New constructs a Scheduler with workerCount workers. engine may be nil,
// in which case YieldRead/Write/Accept return ioengine.ErrUnsupported and
// YieldTimeout falls back to time.Sleep.
func New(workerCount int, engine ioengine.Backend, opts ...Option) *Scheduler {
	if workerCount < 1 {
		workerCount = 1
	}
	s := &Scheduler{ioEngine: engine}
	s.parkCond = sync.NewCond(&s.parkMu)
	s.workers = make([]*worker, workerCount)
	for i := range s.workers {
		s.workers[i] = &worker{id: i, sched: s, deque: newDeque()}
	}
	for _, o := range opts {
		if o != nil {
			o.apply(s)
		}
	}
	return s
}

// Start launches the worker goroutines, plus (when an I/O engine is
// configured) the dedicated poller goroutine that drives it.
func (s *Scheduler) Start() {
	s.wg.Add(len(s.workers))
	for _, w := range s.workers {
		go w.loop()
	}
	if s.ioEngine != nil {
		s.wg.Add(1)
		go s.pollerLoop()
	}
}

// Shutdown waits for every spawned task to finish — draining both the
// global queue and every worker's local deque, since a task counts as
// active from spawn until its body returns — THEN sets the shutdown flag,
// wakes any parked worker, and joins every worker and the poller goroutine.
// This order matters: flipping the flag first would let a worker's loop
// return before running tasks still sitting in a deque or the global
// queue, silently abandoning them and hanging any Join on their doneCh.
func (s *Scheduler) Shutdown() {
	for s.activeTaskCount.Load() != 0 {
		time.Sleep(drainPollInterval)
	}
	s.shutdown.Store(true)
	s.wakeAll()
	s.wg.Wait()
}

// ActiveTaskCount returns the number of tasks spawned but not yet completed.
func (s *Scheduler) ActiveTaskCount() int64 { return s.activeTaskCount.Load() }

// Go spawns a top-level task onto the global queue.
func (s *Scheduler) Go(fn TaskFunc) *Handle {
	return s.spawnOnto(fn, nil)
}

func (s *Scheduler) spawnOnto(fn TaskFunc, owner *worker) *Handle {
	t := &taskImpl{sched: s, doneCh: make(chan struct{})}
	t.fn = fn
	t.ctx = &TaskCtx{task: t, sched: s, point: fault.NewPoint()}
	s.activeTaskCount.Add(1)

	if owner != nil {
		owner.deque.pushBottom(t)
	} else {
		s.pushGlobal(t)
	}
	s.wakeAll()
	return &Handle{t: t}
}

func (s *Scheduler) pushGlobal(t *taskImpl) {
	s.globalMu.Lock()
	s.globalQ = append(s.globalQ, t)
	depth := len(s.globalQ)
	s.globalMu.Unlock()

	if s.onOverload != nil && depth > s.overloadAt &&
		s.overloadFire.CompareAndSwap(false, true) {
		s.onOverload(ErrOverloaded)
	}
}

func (s *Scheduler) popGlobal() (*taskImpl, bool) {
	s.globalMu.Lock()
	if len(s.globalQ) == 0 {
		s.globalMu.Unlock()
		return nil, false
	}
	t := s.globalQ[0]
	s.globalQ = s.globalQ[1:]
	depth := len(s.globalQ)
	s.globalMu.Unlock()

	if s.onOverload != nil && depth <= s.overloadAt {
		s.overloadFire.Store(false)
	}
	return t, true
}

func (s *Scheduler) wakeAll() {
	s.parkMu.Lock()
	s.parkCond.Broadcast()
	s.parkMu.Unlock()
}

func (s *Scheduler) park() {
	s.parkMu.Lock()
	if !s.shutdown.Load() {
		s.parkCond.Wait()
	}
	s.parkMu.Unlock()
}

// pollOnce calls the I/O engine's Poll under a CAS guard so at most one
// goroutine (a worker's opportunistic poll step, or pollerLoop) is ever inside
// Poll at a time. ok is false when the engine is absent or another goroutine
// already holds the guard — the caller should treat that exactly like "no
// completion fired" and move on rather than retry-spin against it.
func (s *Scheduler) pollOnce(timeout time.Duration) (n int, ok bool) {
	if s.ioEngine == nil {
		return 0, false
	}
	if !s.pollInFlight.CompareAndSwap(false, true) {
		return 0, false
	}
	defer s.pollInFlight.Store(false)

	n, err := s.ioEngine.Poll(timeout)
	if err != nil {
		return 0, false
	}
	return n, true
}

// pollerLoop is the one goroutine guaranteed to keep calling the I/O
// engine's Poll regardless of what every worker is doing — including the
// case where every worker is currently blocked inside runTask on a yield's
// result channel, with none of them free to reach their own loop's poll step.
// Without this goroutine that scenario permanently stalls every pending
// yield, since nothing else ever calls Poll again.
func (s *Scheduler) pollerLoop() {
	defer s.wg.Done()
	for {
		if s.shutdown.Load() {
			return
		}
		n, did := s.pollOnce(pollerTimeout)
		if !did {
			time.Sleep(pollBackoff)
			continue
		}
		if n > 0 {
			s.wakeAll()
		}
	}
}

func (s *Scheduler) runTask(t *taskImpl) {
	defer func() {
		r := recover()
		runEnsureHooks(t.ctx)
		if v, ok := fault.Recover(r); ok {
			t.panicVal = v
			rtlog.Warn("sched: task panicked", map[string]any{"message": v.Message})
		}
		close(t.doneCh)
		s.activeTaskCount.Add(-1)
	}()
	t.fn(t.ctx)
}

// runEnsureHooks runs ctx's ensure-hooks LIFO, isolating each from the
// others' panics.
func runEnsureHooks(ctx *TaskCtx) {
	for i := len(ctx.ensure) - 1; i >= 0; i-- {
		func(hook func()) {
			defer func() { recover() }()
			hook()
		}(ctx.ensure[i])
	}
}

func (w *worker) steal() (*taskImpl, bool) {
	peers := w.sched.workers
	n := len(peers)
	start := w.id
	for i := 1; i < n; i++ {
		victim := peers[(start+i)%n]
		if t, ok := victim.deque.steal(); ok {
			return t, true
		}
	}
	return nil, false
}

func (w *worker) loop() {
	defer w.sched.wg.Done()
	for {
		if w.sched.shutdown.Load() {
			return
		}

		t, ok := w.deque.popBottom()
		if !ok {
			t, ok = w.steal()
		}
		if !ok {
			t, ok = w.sched.popGlobal()
		}
		if !ok {
			if n, did := w.sched.pollOnce(0); did && n > 0 {
				w.sched.wakeAll()
			}
			t, ok = w.deque.popBottom()
			if !ok {
				t, ok = w.sched.popGlobal()
			}
		}
		if !ok {
			for i := 0; i < spinIterations && !ok; i++ {
				runtime.Gosched()
				t, ok = w.sched.popGlobal()
			}
		}
		if !ok {
			w.park()
			continue
		}

		t.ctx.worker = w
		w.sched.runTask(t)
	}
}
