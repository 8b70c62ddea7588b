package sched

import (
	"sync"
	"sync/atomic"

	"github.com/outlandish-labs/greenrt/internal/rtlog"
)

// deque is a Chase-Lev work-stealing deque of *taskImpl: the owning worker
// pushes/pops from the bottom (LIFO, lock-free), other workers steal from
// the top (FIFO, under a short critical section).
//
// Overflow of the fixed-capacity buffer is fatal: an unbounded local deque
// would let one runaway task tree exhaust memory invisibly. The
// last-element pop races stealers via the top CAS.
type deque struct {
	tasks  []*taskImpl
	bottom atomic.Int64
	top    atomic.Int64
	mu     sync.Mutex
}

const deqCapacity = 4096

func newDeque() *deque {
	return &deque{tasks: make([]*taskImpl, deqCapacity)}
}

func (d *deque) mask(i int64) int64 {
	return i % int64(len(d.tasks))
}

// pushBottom adds a task to the owner's end. Fatal on overflow.
func (d *deque) pushBottom(t *taskImpl) {
	b := d.bottom.Load()
	top := d.top.Load()
	if b-top >= int64(len(d.tasks)) {
		rtlog.Fatal("sched: local deque overflow", map[string]any{"capacity": len(d.tasks)})
	}
	d.tasks[d.mask(b)] = t
	d.bottom.Store(b + 1)
}

// popBottom removes a task from the owner's end.
func (d *deque) popBottom() (*taskImpl, bool) {
	b := d.bottom.Load() - 1
	d.bottom.Store(b)
	top := d.top.Load()

	if top > b {
		d.bottom.Store(top)
		return nil, false
	}

	t := d.tasks[d.mask(b)]
	if top == b {
		// Last element: race the stealers for it.
		if !d.top.CompareAndSwap(top, top+1) {
			d.bottom.Store(b + 1)
			return nil, false
		}
		d.bottom.Store(b + 1)
	}
	return t, true
}

// steal removes a task from the thief's end.
func (d *deque) steal() (*taskImpl, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	top := d.top.Load()
	b := d.bottom.Load()
	if top >= b {
		return nil, false
	}
	t := d.tasks[d.mask(top)]
	if !d.top.CompareAndSwap(top, top+1) {
		return nil, false
	}
	return t, true
}

func (d *deque) len() int {
	b := d.bottom.Load()
	top := d.top.Load()
	if n := b - top; n > 0 {
		return int(n)
	}
	return 0
}
