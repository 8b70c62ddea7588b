//go:build linux

package ioengine

import (
	"sync"
	"sync/atomic"
	"time"

	iouring "github.com/iceber/iouring-go"
)

// completion is what a submitted iouring-go request resolves to, forwarded
// onto RingBackend's internal channel so Poll can dispatch on its own
// schedule rather than per-submission goroutines racing callback order.
type completion struct {
	id    SlotID
	n     int
	err   error
	kind  OpKind
	onIO  CompletionFunc
	onAcc AcceptFunc
}

// RingBackend submits operations as io_uring SQEs via
// github.com/iceber/iouring-go and drains completions in Poll. The SlotID is
// allocated locally after submission and is not passed to the ring as user
// data; each request is matched to its SlotID by the goroutine that awaits
// it. Callbacks run outside any internal lock so they can re-submit.
type RingBackend struct {
	ring *iouring.IOURing

	mu      sync.Mutex
	pending map[SlotID]struct{}

	completions chan completion
	nextID      atomic.Uint64
	closed      atomic.Bool
}

// NewRing constructs an io_uring-backed Backend with the given submission
// queue depth. Returns ErrUnsupported if io_uring setup fails (old kernel,
// seccomp filtering it, etc.), so callers (see Auto) can fall back to the
// readiness backend.
func NewRing(queueSize uint) (*RingBackend, error) {
	ring, err := iouring.New(queueSize)
	if err != nil {
		return nil, ErrUnsupported
	}
	return &RingBackend{
		ring:        ring,
		pending:     make(map[SlotID]struct{}),
		completions: make(chan completion, 4*int(queueSize)),
	}, nil
}

func (r *RingBackend) allocID() SlotID {
	return SlotID(r.nextID.Add(1))
}

func (r *RingBackend) track(id SlotID) {
	r.mu.Lock()
	r.pending[id] = struct{}{}
	r.mu.Unlock()
}

// awaitResult spawns a goroutine that blocks on the iouring-go request's own
// completion channel and forwards a normalized completion onto r.completions
// for Poll to dispatch. iouring-go's Requests type multiplexes CQEs
// internally; bridging through our own buffered channel keeps dispatch
// ordering and backpressure entirely under Poll's control.
func (r *RingBackend) awaitResult(id SlotID, kind OpKind, reqs *iouring.Requests, onIO CompletionFunc, onAcc AcceptFunc) {
	res := <-reqs.Done()
	n, err := res.ReturnValue()
	r.completions <- completion{id: id, n: n, err: err, kind: kind, onIO: onIO, onAcc: onAcc}
}

// SubmitRead queues a read SQE.
func (r *RingBackend) SubmitRead(fd int, buf []byte, cb CompletionFunc) (SlotID, error) {
	if r.closed.Load() {
		return 0, ErrClosed
	}
	reqs, err := r.ring.SubmitReadRequest([]int{fd}, buf)
	if err != nil {
		return 0, err
	}
	id := r.allocID()
	r.track(id)
	go r.awaitResult(id, OpRead, reqs, cb, nil)
	return id, nil
}

// SubmitWrite queues a write SQE.
func (r *RingBackend) SubmitWrite(fd int, buf []byte, cb CompletionFunc) (SlotID, error) {
	if r.closed.Load() {
		return 0, ErrClosed
	}
	reqs, err := r.ring.SubmitWriteRequest([]int{fd}, buf)
	if err != nil {
		return 0, err
	}
	id := r.allocID()
	r.track(id)
	go r.awaitResult(id, OpWrite, reqs, cb, nil)
	return id, nil
}

// SubmitAccept queues an accept SQE.
func (r *RingBackend) SubmitAccept(fd int, cb AcceptFunc) (SlotID, error) {
	if r.closed.Load() {
		return 0, ErrClosed
	}
	reqs, err := r.ring.SubmitAcceptRequest(fd, nil)
	if err != nil {
		return 0, err
	}
	id := r.allocID()
	r.track(id)
	go r.awaitResult(id, OpAccept, reqs, nil, cb)
	return id, nil
}

// SubmitTimeout queues a timeout SQE.
func (r *RingBackend) SubmitTimeout(deadline time.Time, cb TimeoutFunc) (SlotID, error) {
	if r.closed.Load() {
		return 0, ErrClosed
	}
	d := time.Until(deadline)
	if d < 0 {
		d = 0
	}
	reqs, err := r.ring.SubmitTimeoutRequest(d)
	if err != nil {
		return 0, err
	}
	id := r.allocID()
	r.track(id)
	go func() {
		<-reqs.Done()
		r.completions <- completion{id: id, kind: OpTimeout, onIO: func(int, error) { cb() }}
	}()
	return id, nil
}

// Cancel marks id no longer tracked. iouring-go does not expose a portable
// per-request cancel SQE in the version this engine targets, so in-flight
// kernel operations still complete; their eventual completion is dropped
// silently by Poll since the id is no longer in r.pending.
func (r *RingBackend) Cancel(id SlotID) bool {
	r.mu.Lock()
	_, ok := r.pending[id]
	delete(r.pending, id)
	r.mu.Unlock()
	return ok
}

// Poll drains up to one batch of completions, blocking up to timeout (or
// indefinitely if timeout is negative) for the first one.
func (r *RingBackend) Poll(timeout time.Duration) (int, error) {
	if r.closed.Load() {
		return 0, ErrClosed
	}

	var first completion
	var gotFirst bool
	if timeout < 0 {
		first = <-r.completions
		gotFirst = true
	} else {
		select {
		case first = <-r.completions:
			gotFirst = true
		case <-time.After(timeout):
		}
	}
	if !gotFirst {
		return 0, nil
	}

	dispatched := 0
	r.dispatch(first)
	dispatched++

	for {
		select {
		case c := <-r.completions:
			r.dispatch(c)
			dispatched++
		default:
			return dispatched, nil
		}
	}
}

func (r *RingBackend) dispatch(c completion) {
	r.mu.Lock()
	_, tracked := r.pending[c.id]
	delete(r.pending, c.id)
	r.mu.Unlock()
	if !tracked {
		// Cancelled before the kernel finished it; drop silently.
		return
	}
	if c.kind == OpAccept {
		c.onAcc(c.n, c.err)
		return
	}
	c.onIO(c.n, c.err)
}

// Pending returns the number of in-flight submissions.
func (r *RingBackend) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Close tears down the io_uring instance.
func (r *RingBackend) Close() error {
	r.closed.Store(true)
	return r.ring.Close()
}
