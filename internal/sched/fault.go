package sched

import (
	"context"
	"fmt"
	"runtime/debug"
)

// PanicError wraps a value recovered from a panicking callback.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("callback panicked: %v", e.Value)
}

// Unwrap exposes the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// invoke runs fn to completion, turning a panic into a *PanicError.
func invoke(ctx context.Context, fn TaskFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn(ctx)
}

// check evaluates an interrupt predicate; a panicking predicate reports false.
func check(fn CheckFunc) (fired bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			fired, err = false, &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn(), nil
}
