package sched

import (
	"sync"
	"time"

	"github.com/outlandish-labs/greenrt/ioengine"
)

// fakeTimerEngine is a minimal ioengine.Backend supporting only
// SubmitTimeout, enough to exercise the scheduler's yield/poll wiring
// without a real epoll/io_uring backend.
type fakeTimerEngine struct {
	mu     sync.Mutex
	nextID ioengine.SlotID
	timers map[ioengine.SlotID]fakeTimerEntry
}

type fakeTimerEntry struct {
	deadline time.Time
	cb       ioengine.TimeoutFunc
}

func newFakeTimerEngine() *fakeTimerEngine {
	return &fakeTimerEngine{timers: make(map[ioengine.SlotID]fakeTimerEntry)}
}

func (f *fakeTimerEngine) SubmitRead(int, []byte, ioengine.CompletionFunc) (ioengine.SlotID, error) {
	return 0, ioengine.ErrUnsupported
}

func (f *fakeTimerEngine) SubmitWrite(int, []byte, ioengine.CompletionFunc) (ioengine.SlotID, error) {
	return 0, ioengine.ErrUnsupported
}

func (f *fakeTimerEngine) SubmitAccept(int, ioengine.AcceptFunc) (ioengine.SlotID, error) {
	return 0, ioengine.ErrUnsupported
}

func (f *fakeTimerEngine) SubmitTimeout(deadline time.Time, cb ioengine.TimeoutFunc) (ioengine.SlotID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.timers[id] = fakeTimerEntry{deadline: deadline, cb: cb}
	return id, nil
}

func (f *fakeTimerEngine) Cancel(id ioengine.SlotID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.timers[id]; ok {
		delete(f.timers, id)
		return true
	}
	return false
}

// Poll mirrors the real backends' contract: negative timeout blocks until
// at least one completion fires, zero never blocks, positive blocks up to
// that long.
func (f *fakeTimerEngine) Poll(timeout time.Duration) (int, error) {
	var deadline time.Time
	hasDeadline := timeout > 0
	if hasDeadline {
		deadline = time.Now().Add(timeout)
	}
	for {
		if fired := f.fireDue(); fired > 0 {
			return fired, nil
		}
		if timeout == 0 {
			return 0, nil
		}
		if hasDeadline && time.Now().After(deadline) {
			return 0, nil
		}
		time.Sleep(time.Millisecond)
	}
}

func (f *fakeTimerEngine) fireDue() int {
	f.mu.Lock()
	now := time.Now()
	var due []fakeTimerEntry
	for id, entry := range f.timers {
		if !entry.deadline.After(now) {
			due = append(due, entry)
			delete(f.timers, id)
		}
	}
	f.mu.Unlock()

	for _, entry := range due {
		entry.cb()
	}
	return len(due)
}

func (f *fakeTimerEngine) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

func (f *fakeTimerEngine) Close() error { return nil }
