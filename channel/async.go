package channel

// Yielding operation variants for use inside a green task: instead of
// blocking the worker goroutine on the channel's condition variables, they
// loop on the non-blocking try-operations and call yield between attempts,
// so the scheduler's other work keeps running on that worker. Callers
// outside a green task pass a nil yield and get the plain blocking path —
// "outside a green task, all such operations fall back to blocking
// syscalls" per the runtime's suspension-point contract.

// SendYielding sends data, invoking yield between TrySend attempts while
// the buffer is full. A nil yield degrades to the blocking Send.
//
// On a rendezvous channel this always delegates to the blocking Send:
// TrySend on a rendezvous channel never succeeds (there is no buffer to
// leave a value in), so a try-loop could never complete a handoff.
func (s *Sender[T]) SendYielding(data T, yield func()) Status {
	if yield == nil || s.c.isRendezvous() {
		return s.Send(data)
	}
	for {
		st := s.TrySend(data)
		if st != FULL {
			return st
		}
		yield()
	}
}

// RecvYielding receives a value, invoking yield between TryRecv attempts
// while the channel is empty. A nil yield degrades to the blocking Recv.
func (r *Receiver[T]) RecvYielding(yield func()) (T, Status) {
	if yield == nil {
		return r.Recv()
	}
	for {
		v, st := r.TryRecv()
		if st != EMPTY {
			return v, st
		}
		yield()
	}
}
