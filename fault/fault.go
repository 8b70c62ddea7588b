// Package fault implements the runtime's structured panic/catch mechanism.
// It is named fault, not panic, so that ordinary code can import it without
// shadowing the panic builtin.
//
// Setjmp/longjmp-style unwinding to a task-boundary catch point has no Go
// equivalent; the idiomatic substitute is recover() at a deferred call,
// scoped per goroutine via a *Point carried on the task's context rather
// than a process-global. Install/Remove mark that per-task catch point;
// Panic/Panicf raise it. Ensure-hook execution lives in sched and
// threadtask, which own the per-task deferred recover() block — this
// package only defines the catch point and the value it carries.
package fault

import (
	"fmt"

	"github.com/outlandish-labs/greenrt/internal/rtlog"
)

// Value is what Panic/Panicf raise. It is what recover() yields at a task's
// catch point.
type Value struct {
	Message string
}

func (v *Value) Error() string { return v.Message }

// Point is a goroutine/task-local catch point. A nil *Point means no catch
// point is installed for the current task — Panic/Panicf then abort the
// process instead of unwinding, as happens outside any task boundary.
type Point struct {
	installed bool
}

// NewPoint returns an installed catch point, for embedding in a task's
// context (see sched.TaskCtx, threadtask's per-goroutine state).
func NewPoint() *Point {
	return &Point{installed: true}
}

// Install marks p as an active catch point. Used when a *Point is reused
// across task instances.
func (p *Point) Install() {
	if p == nil {
		return
	}
	p.installed = true
}

// Remove marks p as no longer catching — raises from here on abort.
func (p *Point) Remove() {
	if p == nil {
		return
	}
	p.installed = false
}

// Installed reports whether p is an active catch point.
func (p *Point) Installed() bool {
	return p != nil && p.installed
}

// Panic raises msg at p. If p is an installed catch point, this calls Go's
// builtin panic with a *Value, to be recovered at the task-entry boundary
// that owns p. If p is nil or not installed, this logs and aborts the
// process (os.Exit via rtlog.Fatal).
func Panic(p *Point, msg string) {
	if p.Installed() {
		panic(&Value{Message: msg})
	}
	rtlog.Fatal("uncaught fault: no catch point installed", map[string]any{"message": msg})
}

// Panicf is Panic with fmt.Sprintf-style formatting.
func Panicf(p *Point, format string, args ...any) {
	Panic(p, fmt.Sprintf(format, args...))
}

// Recover adapts the result of a deferred recover() call to a *Value,
// reporting ok=false if r is nil (no panic in flight) and wrapping any
// non-*Value panic (e.g. a runtime error) into a *Value so callers have one
// shape to handle. Intended for use as:
//
//	defer func() {
//	    if v, ok := fault.Recover(recover()); ok { ... }
//	}()
func Recover(r any) (*Value, bool) {
	if r == nil {
		return nil, false
	}
	if v, ok := r.(*Value); ok {
		return v, true
	}
	return &Value{Message: fmt.Sprint(r)}, true
}
