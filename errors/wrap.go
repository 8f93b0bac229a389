package errors

import (
	"context"
	"errors"
	"fmt"
)

// as finds the outermost *Error in err's chain.
func as(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// Wrap adds message to err and returns nil for a nil err.
//
// A wrapped *Error keeps its code, category, metadata and agent ID.
// Context errors become TIMEOUT or CANCELED. Anything else is INTERNAL.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	if inner, ok := as(err); ok {
		e := *inner
		e.message = message
		e.cause = err
		e.metadata = inner.Metadata()
		for _, opt := range opts {
			opt(&e)
		}
		return &e
	}

	code := ErrCodeInternal
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		code = ErrCodeTimeout
	case errors.Is(err, context.Canceled):
		code = ErrCodeCanceled
	}
	return New(code, message, append(opts, WithCause(err))...)
}

// WrapWithCode wraps err under an explicit code. Nil stays nil.
func WrapWithCode(err error, code ErrorCode, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	return New(code, message, append(opts, WithCause(err))...)
}

// Is reports whether the outermost *Error in err's chain carries code.
func Is(err error, code ErrorCode) bool {
	e, ok := as(err)
	return ok && e.code == code
}

// IsRetryable reports whether err may succeed on retry. Errors outside the
// taxonomy are not retryable.
func IsRetryable(err error) bool {
	e, ok := as(err)
	return ok && e.Retryable()
}

// Code returns err's code, or "" if it has none.
func Code(err error) ErrorCode {
	if e, ok := as(err); ok {
		return e.code
	}
	return ""
}

// GetMetadata returns a copy of err's metadata, or nil.
func GetMetadata(err error) map[string]string {
	if e, ok := as(err); ok {
		return e.Metadata()
	}
	return nil
}

// Cause follows Unwrap to the innermost error.
func Cause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

// RecoverPanic turns a recovered value into a PANIC error. Nil stays nil.
func RecoverPanic(recovered interface{}) *Error {
	if recovered == nil {
		return nil
	}
	message := fmt.Sprint(recovered)
	if err, ok := recovered.(error); ok {
		message = err.Error()
	}
	return New(ErrCodePanic, message, WithMetadata("panic_value", fmt.Sprintf("%T", recovered)))
}
