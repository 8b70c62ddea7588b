//go:build linux

package ioengine

import (
	"container/heap"
	"io"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// initialFDCapacity sizes the direct-indexed pending-op table's starting
// allocation; the table grows (doubling) the first time an fd beyond its
// current length is registered, rather than rejecting or silently dropping
// fds past a fixed bound.
const initialFDCapacity = 1024

type pendingOp struct {
	active bool
	kind   OpKind
	buf    []byte
	onIO   CompletionFunc
	onAcc  AcceptFunc
}

// timerEntry is one entry of the readiness backend's sorted timeout list,
// kept as a container/heap min-heap ordered by deadline.
type timerEntry struct {
	deadline time.Time
	id       SlotID
	cb       TimeoutFunc
	canceled bool
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x any)         { *h = append(*h, x.(*timerEntry)) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return x
}

// ReadinessBackend tracks one pending op per file descriptor, indexed
// directly by fd, plus a sorted list of timeouts. It is built on
// epoll_create1/ctl/wait, with a version counter that detects registration
// changes racing a blocking wait, and dispatches callbacks copied out from
// under the lock.
type ReadinessBackend struct {
	epfd int

	mu      sync.RWMutex
	pending []pendingOp
	version atomic.Uint64

	timers   timerHeap
	timersMu sync.Mutex

	nextID atomic.Uint64
	closed atomic.Bool
}

// NewReadiness constructs an epoll-backed readiness Backend.
func NewReadiness() (*ReadinessBackend, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &ReadinessBackend{epfd: epfd, pending: make([]pendingOp, initialFDCapacity)}, nil
}

// growFor doubles the pending table until fd is in range. Called with mu
// held for writing.
func (r *ReadinessBackend) growFor(fd int) {
	if fd < len(r.pending) {
		return
	}
	newLen := len(r.pending)
	if newLen == 0 {
		newLen = initialFDCapacity
	}
	for fd >= newLen {
		newLen *= 2
	}
	grown := make([]pendingOp, newLen)
	copy(grown, r.pending)
	r.pending = grown
}

func (r *ReadinessBackend) allocID() SlotID {
	return SlotID(r.nextID.Add(1))
}

func (r *ReadinessBackend) registerFD(fd int, events uint32) error {
	ev := &unix.EpollEvent{Events: events, Fd: int32(fd)}
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, ev)
}

func (r *ReadinessBackend) unregisterFD(fd int) {
	_ = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// SubmitRead attempts the read immediately; on EAGAIN it registers fd for
// level-triggered readiness and retries from Poll's dispatch loop, which
// unregisters the fd after dispatching. Registrations must stay
// level-triggered (never ONESHOT): Poll discards a result batch when a
// racing submission bumps the version counter, and that is only safe if a
// still-armed fd re-reports on the next wait. A one-shot registration
// would already have disarmed in the kernel, stranding the op forever.
func (r *ReadinessBackend) SubmitRead(fd int, buf []byte, cb CompletionFunc) (SlotID, error) {
	if r.closed.Load() {
		return 0, ErrClosed
	}
	if fd < 0 {
		return 0, unix.EBADF
	}
	_ = unix.SetNonblock(fd, true)

	n, err := unix.Read(fd, buf)
	if !isAgain(err) {
		cb(n, normalizeReadErr(n, err))
		return 0, nil
	}

	id := r.allocID()
	r.mu.Lock()
	r.growFor(fd)
	r.pending[fd] = pendingOp{active: true, kind: OpRead, buf: buf, onIO: cb}
	r.version.Add(1)
	r.mu.Unlock()
	if err := r.registerFD(fd, unix.EPOLLIN); err != nil {
		r.mu.Lock()
		r.pending[fd] = pendingOp{}
		r.mu.Unlock()
		return 0, err
	}
	return id, nil
}

// SubmitWrite mirrors SubmitRead for the write direction.
func (r *ReadinessBackend) SubmitWrite(fd int, buf []byte, cb CompletionFunc) (SlotID, error) {
	if r.closed.Load() {
		return 0, ErrClosed
	}
	if fd < 0 {
		return 0, unix.EBADF
	}
	_ = unix.SetNonblock(fd, true)

	n, err := unix.Write(fd, buf)
	if !isAgain(err) {
		cb(n, err)
		return 0, nil
	}

	id := r.allocID()
	r.mu.Lock()
	r.growFor(fd)
	r.pending[fd] = pendingOp{active: true, kind: OpWrite, buf: buf, onIO: cb}
	r.version.Add(1)
	r.mu.Unlock()
	if err := r.registerFD(fd, unix.EPOLLOUT); err != nil {
		r.mu.Lock()
		r.pending[fd] = pendingOp{}
		r.mu.Unlock()
		return 0, err
	}
	return id, nil
}

// SubmitAccept attempts accept4 immediately; on EAGAIN it registers for
// level-triggered read readiness (a listening socket signals EPOLLIN when
// a connection is ready to accept).
func (r *ReadinessBackend) SubmitAccept(fd int, cb AcceptFunc) (SlotID, error) {
	if r.closed.Load() {
		return 0, ErrClosed
	}
	if fd < 0 {
		return 0, unix.EBADF
	}
	_ = unix.SetNonblock(fd, true)

	connFd, _, err := unix.Accept4(fd, unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK)
	if !isAgain(err) {
		cb(connFd, err)
		return 0, nil
	}

	id := r.allocID()
	r.mu.Lock()
	r.growFor(fd)
	r.pending[fd] = pendingOp{active: true, kind: OpAccept, onAcc: cb}
	r.version.Add(1)
	r.mu.Unlock()
	if err := r.registerFD(fd, unix.EPOLLIN); err != nil {
		r.mu.Lock()
		r.pending[fd] = pendingOp{}
		r.mu.Unlock()
		return 0, err
	}
	return id, nil
}

// SubmitTimeout inserts a deadline into the sorted timer list.
func (r *ReadinessBackend) SubmitTimeout(deadline time.Time, cb TimeoutFunc) (SlotID, error) {
	if r.closed.Load() {
		return 0, ErrClosed
	}
	id := r.allocID()
	r.timersMu.Lock()
	heap.Push(&r.timers, &timerEntry{deadline: deadline, id: id, cb: cb})
	r.timersMu.Unlock()
	return id, nil
}

// Cancel marks a pending timer as canceled, so it is dropped without firing.
// fd-based ops are not tracked by SlotID, so Cancel returns false for them
// and they still complete. A canceled timer keeps counting toward Pending
// until its deadline passes.
func (r *ReadinessBackend) Cancel(id SlotID) bool {
	r.timersMu.Lock()
	defer r.timersMu.Unlock()
	for _, t := range r.timers {
		if t.id == id && !t.canceled {
			t.canceled = true
			return true
		}
	}
	return false
}

// Poll fires any expired timers, computes a wait deadline as
// min(requested, next_timer), waits for epoll events, retries each ready
// fd's pending op, and re-checks timers.
func (r *ReadinessBackend) Poll(timeout time.Duration) (int, error) {
	if r.closed.Load() {
		return 0, ErrClosed
	}

	dispatched := r.fireExpiredTimers()

	waitMs := r.computeWaitMs(timeout)
	v := r.version.Load()

	var events [256]unix.EpollEvent
	n, err := unix.EpollWait(r.epfd, events[:], waitMs)
	if err != nil {
		if err == unix.EINTR {
			return dispatched, nil
		}
		return dispatched, err
	}

	if r.version.Load() != v {
		// A submission raced this wait; the result set may reference fds
		// that were reassigned, so discard rather than risk misdispatch.
		// Safe because registrations are level-triggered and stay armed:
		// every fd in the discarded batch re-reports on the next wait.
		return dispatched, nil
	}

	for i := 0; i < n; i++ {
		fd := int(events[i].Fd)
		if fd < 0 {
			continue
		}
		r.mu.Lock()
		var op pendingOp
		if fd < len(r.pending) {
			op = r.pending[fd]
			r.pending[fd] = pendingOp{}
		}
		r.mu.Unlock()
		if !op.active {
			continue
		}
		r.unregisterFD(fd)
		r.retry(fd, op)
		dispatched++
	}

	dispatched += r.fireExpiredTimers()
	return dispatched, nil
}

func (r *ReadinessBackend) retry(fd int, op pendingOp) {
	switch op.kind {
	case OpRead:
		n, err := unix.Read(fd, op.buf)
		op.onIO(n, normalizeReadErr(n, err))
	case OpWrite:
		n, err := unix.Write(fd, op.buf)
		op.onIO(n, err)
	case OpAccept:
		connFd, _, err := unix.Accept4(fd, unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK)
		op.onAcc(connFd, err)
	}
}

func (r *ReadinessBackend) fireExpiredTimers() int {
	now := time.Now()
	fired := 0
	r.timersMu.Lock()
	for len(r.timers) > 0 && !r.timers[0].deadline.After(now) {
		t := heap.Pop(&r.timers).(*timerEntry)
		r.timersMu.Unlock()
		if !t.canceled {
			t.cb()
			fired++
		}
		r.timersMu.Lock()
	}
	r.timersMu.Unlock()
	return fired
}

func (r *ReadinessBackend) computeWaitMs(requested time.Duration) int {
	r.timersMu.Lock()
	var nextTimer time.Duration = -1
	if len(r.timers) > 0 {
		nextTimer = time.Until(r.timers[0].deadline)
		if nextTimer < 0 {
			nextTimer = 0
		}
	}
	r.timersMu.Unlock()

	if requested < 0 {
		if nextTimer < 0 {
			return -1
		}
		return ceilMs(nextTimer)
	}
	if nextTimer >= 0 && nextTimer < requested {
		return ceilMs(nextTimer)
	}
	return int(requested / time.Millisecond)
}

// ceilMs rounds a positive duration up to whole milliseconds, so a timer
// under 1ms away yields a 1ms wait rather than a zero-timeout spin.
func ceilMs(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Millisecond - 1) / time.Millisecond)
}

// Pending returns the number of fds with an in-flight op plus outstanding
// timers.
func (r *ReadinessBackend) Pending() int {
	count := 0
	r.mu.RLock()
	for i := range r.pending {
		if r.pending[i].active {
			count++
		}
	}
	r.mu.RUnlock()

	r.timersMu.Lock()
	count += len(r.timers)
	r.timersMu.Unlock()
	return count
}

// Close releases the epoll instance.
func (r *ReadinessBackend) Close() error {
	r.closed.Store(true)
	return unix.Close(r.epfd)
}

func isAgain(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == syscall.EINPROGRESS
}

func normalizeReadErr(n int, err error) error {
	if err == nil && n == 0 {
		return io.EOF
	}
	return err
}
