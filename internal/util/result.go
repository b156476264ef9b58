package util

// Result is the single return type of route handlers: a success payload or
// a typed failure, never both.
type Result[T any] struct {
	value T
	err   error
}

// OK wraps a success payload.
func OK[T any](value T) Result[T] {
	return Result[T]{value: value}
}

// Fail wraps a failure. A nil err is treated as an internal failure so a
// Result built with Fail is never mistaken for success.
func Fail[T any](err error) Result[T] {
	if err == nil {
		err = ErrInternal
	}
	return Result[T]{err: err}
}

// FromPair builds a Result from a conventional (value, error) pair.
func FromPair[T any](value T, err error) Result[T] {
	if err != nil {
		return Fail[T](err)
	}
	return OK(value)
}

// IsOK reports whether the result carries a success payload.
func (r Result[T]) IsOK() bool {
	return r.err == nil
}

// Value returns the success payload (zero value on failure).
func (r Result[T]) Value() T {
	return r.value
}

// Err returns the failure, or nil on success.
func (r Result[T]) Err() error {
	return r.err
}

// Get returns the payload and failure as a conventional pair.
func (r Result[T]) Get() (T, error) {
	return r.value, r.err
}
