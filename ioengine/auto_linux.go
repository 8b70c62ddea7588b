//go:build linux

package ioengine

// Auto selects the ring backend when io_uring is available, falling back to
// the epoll-based readiness backend otherwise (old kernel, seccomp denial).
func Auto() (Backend, Kind, error) {
	if ring, err := NewRing(256); err == nil {
		return ring, KindRing, nil
	}
	readiness, err := NewReadiness()
	if err != nil {
		return nil, 0, err
	}
	return readiness, KindReadiness, nil
}
