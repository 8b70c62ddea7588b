package greenrt

import (
	"os"
	"sync"
)

// argsVal is a process-wide snapshot of the CLI arguments. Go's own os.Args
// already captures argc/argv at process start, so InitArgs exists only to
// take an explicit snapshot (letting callers override os.Args, e.g. in
// tests); ArgsCount/ArgsGet read whatever was last snapshotted.
var (
	argsMu  sync.Mutex
	argsVal []string
)

// InitArgs snapshots args for later ArgsCount/ArgsGet calls. Calling it
// more than once replaces the snapshot.
func InitArgs(args []string) {
	argsMu.Lock()
	defer argsMu.Unlock()
	argsVal = append([]string(nil), args...)
}

// ArgsCount returns the number of arguments in the current snapshot,
// snapshotting os.Args automatically on first use if InitArgs was never
// called.
func ArgsCount() int {
	return len(snapshotOrDefault())
}

// ArgsGet returns argument i from the current snapshot, or "" if i is out
// of range.
func ArgsGet(i int) string {
	a := snapshotOrDefault()
	if i < 0 || i >= len(a) {
		return ""
	}
	return a[i]
}

func snapshotOrDefault() []string {
	argsMu.Lock()
	defer argsMu.Unlock()
	if argsVal == nil {
		argsVal = append([]string(nil), os.Args...)
	}
	return argsVal
}
