// Package rtlog provides the process-wide structured logger shared by every
// greenrt component. It exists so fatal and warning conditions raised deep
// inside the allocator, scheduler, or I/O engine are reported consistently
// without each package taking a logger as a constructor argument.
package rtlog

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

var (
	mu  sync.RWMutex
	log zerolog.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	exitCalls atomic.Int64
)

// Set replaces the global logger. Safe to call concurrently with Get.
func Set(l zerolog.Logger) {
	mu.Lock()
	log = l
	mu.Unlock()
}

// Get returns the current global logger.
func Get() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// Fatal logs msg with the supplied fields at error level and terminates the
// process with exit status 2. Go has no recoverable path out of a true OOM, so component-level
// fatal conditions (allocation failure, deque overflow) end the process the
// same way.
func Fatal(msg string, fields map[string]any) {
	exitCalls.Add(1)
	l := Get()
	ev := l.Error()
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
	os.Exit(2)
}

// Warn logs a recovered panic or other non-fatal anomaly.
func Warn(msg string, fields map[string]any) {
	l := Get()
	ev := l.Warn()
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

// FatalCalls reports how many times Fatal has been invoked. Since Fatal exits
// the process, the count is only observable before that exit completes.
func FatalCalls() int64 {
	return exitCalls.Load()
}
