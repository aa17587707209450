/*************************************************************************
 * Copyright 2026 S7Tools Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package result provides the uniform success/failure carrier used at every
// engine boundary. No exceptions escape the engine for expected failures;
// programmer bugs may still panic.
package result

import (
	"errors"
	"fmt"
)

// Kind tags an Error with the taxonomy the rest of the engine dispatches on.
type Kind int

const (
	Internal Kind = iota
	Validation
	NotFound
	Conflict
	Unauthorized
	Timeout
	Transport
	Protocol
	ResourceBusy
	Cancelled
	External
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return `Validation`
	case NotFound:
		return `NotFound`
	case Conflict:
		return `Conflict`
	case Unauthorized:
		return `Unauthorized`
	case Timeout:
		return `Timeout`
	case Transport:
		return `Transport`
	case Protocol:
		return `Protocol`
	case ResourceBusy:
		return `ResourceBusy`
	case Cancelled:
		return `Cancelled`
	case External:
		return `External`
	default:
		return `Internal`
	}
}

// Error is the engine's uniform failure type. Property names a struct field
// for field-level UI binding and is empty when the error isn't field-scoped.
// Suppressed carries secondary errors (e.g. teardown failures) that must not
// mask the primary one.
type Error struct {
	Kind       Kind
	Message    string
	Property   string
	Cause      error
	Suppressed []error
}

func New(k Kind, msg string) *Error {
	return &Error{Kind: k, Message: msg}
}

func Newf(k Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...)}
}

func Wrap(k Kind, cause error, msg string) *Error {
	return &Error{Kind: k, Message: msg, Cause: cause}
}

func (e *Error) Error() string {
	if e == nil {
		return ``
	}
	if e.Property != `` {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Property)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// WithProperty returns a copy of e scoped to a struct field.
func (e *Error) WithProperty(property string) *Error {
	if e == nil {
		return nil
	}
	n := *e
	n.Property = property
	return &n
}

// Suppress appends a secondary error that must not replace the primary one.
func (e *Error) Suppress(err error) *Error {
	if e == nil || err == nil {
		return e
	}
	e.Suppressed = append(e.Suppressed, err)
	return e
}

// Is lets errors.Is match on Kind via a sentinel *Error{Kind: k}.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok || e == nil {
		return false
	}
	return e.Kind == te.Kind
}

// KindOf extracts the Kind of err, defaulting to Internal for plain errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if err == nil {
		return Internal
	}
	return Internal
}

// Result[T] carries either a value or an *Error, never both populated.
type Result[T any] struct {
	value T
	err   *Error
}

func Ok[T any](v T) Result[T] {
	return Result[T]{value: v}
}

func Err[T any](err *Error) Result[T] {
	return Result[T]{err: err}
}

func (r Result[T]) IsOk() bool  { return r.err == nil }
func (r Result[T]) IsErr() bool { return r.err != nil }

// Value returns the success value and true, or the zero value and false.
func (r Result[T]) Value() (T, bool) {
	return r.value, r.err == nil
}

// Error returns the failure, or nil if the result is Ok.
func (r Result[T]) Error() *Error {
	return r.err
}

// Unwrap returns the value or panics on error; reserved for call sites that
// have already checked IsOk themselves (e.g. after a combinator chain whose
// final branch is guaranteed Ok).
func (r Result[T]) Unwrap() T {
	if r.err != nil {
		panic(r.err)
	}
	return r.value
}

// Map transforms the success value, passing errors through untouched.
func Map[T, U any](r Result[T], f func(T) U) Result[U] {
	if r.err != nil {
		return Err[U](r.err)
	}
	return Ok(f(r.value))
}

// Bind chains a fallible continuation onto a Result.
func Bind[T, U any](r Result[T], f func(T) Result[U]) Result[U] {
	if r.err != nil {
		return Err[U](r.err)
	}
	return f(r.value)
}

// OnSuccess runs f for its side effect when r is Ok, returning r unchanged.
func (r Result[T]) OnSuccess(f func(T)) Result[T] {
	if r.err == nil {
		f(r.value)
	}
	return r
}

// OnFailure runs f for its side effect when r is an error, returning r unchanged.
func (r Result[T]) OnFailure(f func(*Error)) Result[T] {
	if r.err != nil {
		f(r.err)
	}
	return r
}
