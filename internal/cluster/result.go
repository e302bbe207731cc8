package cluster

import "errors"

// ErrNoValue is the error of a zero Result.
var ErrNoValue = errors.New("cluster: result has no value")

// Result is either a value or an error, passed by value so a failed round
// still yields something to reason about.
type Result[T any] struct {
	value T
	err   error
	ok    bool
}

// Ok wraps a value.
func Ok[T any](v T) Result[T] { return Result[T]{value: v, ok: true} }

// Fail wraps an error. A nil err becomes ErrNoValue.
func Fail[T any](err error) Result[T] {
	if err == nil {
		err = ErrNoValue
	}
	return Result[T]{err: err}
}

// IsOk reports whether r holds a value.
func (r Result[T]) IsOk() bool { return r.ok }

// Get returns the value or the error.
func (r Result[T]) Get() (T, error) {
	if !r.ok {
		var zero T
		return zero, r.Err()
	}
	return r.value, nil
}

// Err returns the error, or nil for a value.
func (r Result[T]) Err() error {
	if r.ok {
		return nil
	}
	if r.err == nil {
		return ErrNoValue
	}
	return r.err
}
