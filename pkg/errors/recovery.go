package errors

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic converts a recovered panic value into a typed error of the given kind.
// The stack trace is kept in details.
func RecoverPanic(r interface{}, base *Error) error {
	if r == nil {
		return nil
	}
	if base == nil {
		base = ErrExtraction
	}

	var err error
	switch v := r.(type) {
	case error:
		err = v
	case string:
		err = fmt.Errorf("panic: %s", v)
	default:
		err = fmt.Errorf("panic: %v", v)
	}

	return base.New(err.Error()).
		WithCause(err).
		WithDetail("panic", true).
		WithDetail("stack_trace", string(debug.Stack()))
}

// RecoverPanicWithCallback recovers from a panic and calls a callback with the error
func RecoverPanicWithCallback(r interface{}, base *Error, callback func(error)) error {
	err := RecoverPanic(r, base)
	if err != nil && callback != nil {
		callback(err)
	}
	return err
}
