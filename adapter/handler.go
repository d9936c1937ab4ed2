package adapter

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Handler invokes one toolkit operation with the call's positional arguments.
type Handler func(args []json.RawMessage) (any, error)

// Nullary wraps an operation that takes no arguments.
func Nullary[R any](fn func() (R, error)) Handler {
	return func(args []json.RawMessage) (any, error) {
		if err := decodeArgs(args, 0); err != nil {
			return nil, err
		}
		return fn()
	}
}

// Unary wraps an operation with one argument. required is 0 when the argument
// may be omitted, in which case fn receives the zero value.
func Unary[A, R any](required int, fn func(A) (R, error)) Handler {
	return func(args []json.RawMessage) (any, error) {
		var a A
		if err := decodeArgs(args, required, &a); err != nil {
			return nil, err
		}
		return fn(a)
	}
}

// Binary wraps an operation with two arguments, the first required ones of
// which must be present.
func Binary[A, B, R any](required int, fn func(A, B) (R, error)) Handler {
	return func(args []json.RawMessage) (any, error) {
		var (
			a A
			b B
		)
		if err := decodeArgs(args, required, &a, &b); err != nil {
			return nil, err
		}
		return fn(a, b)
	}
}

// decodeArgs fills dst positionally from args. Arity outside [required, len(dst)]
// and values of the wrong JSON shape are ErrBadArguments.
func decodeArgs(args []json.RawMessage, required int, dst ...any) error {
	if len(args) < required || len(args) > len(dst) {
		if required == len(dst) {
			return fmt.Errorf("%w: want %d args, got %d", ErrBadArguments, required, len(args))
		}
		return fmt.Errorf("%w: want %d to %d args, got %d", ErrBadArguments, required, len(dst), len(args))
	}
	for i, raw := range args {
		if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			continue
		}
		if err := json.Unmarshal(raw, dst[i]); err != nil {
			return fmt.Errorf("%w: arg %d: %v", ErrBadArguments, i, err)
		}
	}
	return nil
}

// void adapts an operation that returns nothing; the caller sees null.
func void(fn func() error) func() (any, error) {
	return func() (any, error) {
		return nil, fn()
	}
}
