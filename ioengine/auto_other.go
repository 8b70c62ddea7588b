//go:build !linux

package ioengine

// Auto reports ErrUnsupported outside Linux: both concrete backends
// (io_uring and epoll) are Linux kernel facilities.
func Auto() (Backend, Kind, error) {
	return nil, 0, ErrUnsupported
}
