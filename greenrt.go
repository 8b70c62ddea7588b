// Package greenrt wires the scheduler and I/O engine packages into a single
// process-wide runtime with one New/Init/Shutdown lifecycle, and re-exports
// the pool's packed-handle helpers and a CLI-argument snapshot. The
// allocator, map, and channel packages are used directly, not through it.
//
// Most programs need exactly one Runtime, constructed once at process start
// and shut down once before exit — Init/Shutdown manage that singleton.
// Programs embedding more than one runtime (tests, multi-tenant hosts) can
// use New directly instead.
package greenrt

import (
	"context"
	"errors"
	goruntime "runtime"
	"sync"
	"time"

	"github.com/outlandish-labs/greenrt/internal/rtlog"
	"github.com/outlandish-labs/greenrt/ioengine"
	"github.com/outlandish-labs/greenrt/sched"
)

var (
	// ErrAlreadyRunning is returned by Init when the process singleton has
	// already been started.
	ErrAlreadyRunning = errors.New("greenrt: runtime already initialized")

	// ErrNotRunning is returned by Shutdown (and other package-level
	// accessors) when Init has not been called, or a prior Shutdown already
	// completed.
	ErrNotRunning = errors.New("greenrt: runtime not initialized")
)

// Option configures a Runtime at construction: a small interface wrapping
// a closure over the options struct, rather than exported struct fields, so
// new options can be added without breaking callers.
type Option interface {
	apply(*config)
}

type optionFunc func(*config)

func (f optionFunc) apply(c *config) { f(c) }

type config struct {
	workers    int
	engine     ioengine.Backend
	engineKind ioengine.Kind
}

// WithWorkers overrides the scheduler's worker-goroutine count. The default,
// used when this option is absent or n <= 0, is runtime.GOMAXPROCS(0).
func WithWorkers(n int) Option {
	return optionFunc(func(c *config) { c.workers = n })
}

// WithIOEngine supplies a pre-constructed I/O backend instead of letting
// Init probe for one via ioengine.Auto. Intended for tests that want a
// specific backend, or hosts that already tuned one.
func WithIOEngine(engine ioengine.Backend, kind ioengine.Kind) Option {
	return optionFunc(func(c *config) {
		c.engine = engine
		c.engineKind = kind
	})
}

// Runtime is a scheduler bound to one I/O engine instance. The zero value is
// not usable; construct one with New or the package-level Init.
type Runtime struct {
	sched      *sched.Scheduler
	engine     ioengine.Backend
	engineKind ioengine.Kind
}

// New builds and starts a Runtime without touching the package-level
// singleton. Most callers should prefer Init.
func New(opts ...Option) *Runtime {
	cfg := config{}
	for _, o := range opts {
		if o != nil {
			o.apply(&cfg)
		}
	}

	if cfg.engine == nil {
		engine, kind, err := ioengine.Auto()
		if err != nil {
			rtlog.Get().Warn().Err(err).Msg("greenrt: no I/O engine backend available, tasks cannot yield on I/O")
		} else {
			cfg.engine, cfg.engineKind = engine, kind
		}
	}

	workers := cfg.workers
	if workers <= 0 {
		workers = goruntime.GOMAXPROCS(0)
		if workers < 1 {
			workers = 1
		}
	}

	s := sched.New(workers, cfg.engine)
	s.Start()

	return &Runtime{sched: s, engine: cfg.engine, engineKind: cfg.engineKind}
}

// Scheduler returns the runtime's green-task scheduler.
func (rt *Runtime) Scheduler() *sched.Scheduler { return rt.sched }

// IOEngine returns the runtime's I/O backend, or nil if none could be
// constructed (e.g. the platform has neither io_uring nor epoll).
func (rt *Runtime) IOEngine() ioengine.Backend { return rt.engine }

// IOEngineKind reports which backend IOEngine is, meaningful only when
// IOEngine is non-nil.
func (rt *Runtime) IOEngineKind() ioengine.Kind { return rt.engineKind }

// Shutdown drains the scheduler — waits for the active task count to reach
// zero, wakes every parked worker, joins them, then closes the I/O engine —
// or returns ctx's error if it's canceled first.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		rt.sched.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if rt.engine != nil {
		return rt.engine.Close()
	}
	return nil
}

var (
	singletonMu sync.Mutex
	singleton   *Runtime
)

// Init constructs the process-wide Runtime singleton. Calling Init twice
// without an intervening Shutdown returns ErrAlreadyRunning.
func Init(opts ...Option) error {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	if singleton != nil {
		return ErrAlreadyRunning
	}
	singleton = New(opts...)
	return nil
}

// Shutdown tears down the process-wide Runtime started by Init.
func Shutdown(ctx context.Context) error {
	singletonMu.Lock()
	rt := singleton
	singleton = nil
	singletonMu.Unlock()

	if rt == nil {
		return ErrNotRunning
	}
	return rt.Shutdown(ctx)
}

// Default returns the process-wide Runtime started by Init, or nil if Init
// has not been called (or a prior Shutdown already completed).
func Default() *Runtime {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	return singleton
}

// Go spawns fn as a green task on the process-wide Runtime's scheduler. It
// panics if Init has not been called: the runtime must be live before any
// task is spawned.
func Go(fn sched.TaskFunc) *sched.Handle {
	rt := Default()
	if rt == nil {
		panic("greenrt: Go called before Init")
	}
	return rt.sched.Go(fn)
}

// waitForIdle polls the active task count down to zero, bounded by timeout,
// used by tests that want deterministic drain without a context. Production
// shutdown goes through Scheduler.Shutdown's own park/wake handshake instead
// — this helper exists for callers that only want to observe idleness.
func waitForIdle(rt *Runtime, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for rt.sched.ActiveTaskCount() != 0 {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
	return true
}
