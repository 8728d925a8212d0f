// Package boundary attaches the caller's stack to errors returned from public
// operations, so traces start at the user's call site instead of inside the
// bridge.
package boundary

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

const maxDepth = 32

// Error is an error annotated with the stack of the public call that
// returned it.
type Error struct {
	err error
	pcs []uintptr
}

func (e *Error) Error() string { return e.err.Error() }

func (e *Error) Unwrap() error { return e.err }

// StackTrace formats the recorded frames, innermost first.
func (e *Error) StackTrace() string {
	var b strings.Builder
	frames := runtime.CallersFrames(e.pcs)
	for {
		f, more := frames.Next()
		if f.Function != "" {
			fmt.Fprintf(&b, "%s\n\t%s:%d\n", f.Function, f.File, f.Line)
		}
		if !more {
			break
		}
	}
	return b.String()
}

// Wrap annotates err with the stack above the function that called Wrap.
// Wrapping an already annotated error moves its trace to the outer call.
func Wrap(err error) error {
	return wrap(err, 3)
}

// Call runs fn and annotates its error with the stack of Call's caller's caller.
func Call(fn func() error) error {
	return wrap(fn(), 3)
}

// Do is Call for operations that return a value.
func Do[T any](fn func() (T, error)) (T, error) {
	v, err := fn()
	return v, wrap(err, 3)
}

// wrap skips runtime.Callers, wrap itself and skip more frames.
func wrap(err error, skip int) error {
	if err == nil {
		return nil
	}
	var inner *Error
	if errors.As(err, &inner) && inner == err {
		err = inner.err
	}
	pcs := make([]uintptr, maxDepth)
	n := runtime.Callers(skip+1, pcs)
	return &Error{err: err, pcs: pcs[:n]}
}
