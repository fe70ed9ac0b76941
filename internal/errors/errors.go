package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Basic error check functions from standard library
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
)

// appError implements the Error interface
type appError struct {
	code    ErrorCode
	message string
	err     error
	data    any
}

func (e *appError) Error() string {
	msg := e.message
	if msg == "" {
		msg = GetErrorMessage(e.code)
	}

	parts := []string{fmt.Sprintf("%s (%s)", msg, e.code)}
	if e.data != nil {
		parts = append(parts, fmt.Sprintf("%v", e.data))
	}
	if e.err != nil {
		parts = append(parts, e.err.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *appError) Code() ErrorCode {
	return e.code
}

func (e *appError) WithMessage(msg string) Error {
	return &appError{
		code:    e.code,
		message: msg,
		err:     e.err,
		data:    e.data,
	}
}

func (e *appError) WithData(data any) Error {
	return &appError{
		code:    e.code,
		message: e.message,
		err:     e.err,
		data:    data,
	}
}

func (e *appError) GetData() any {
	return e.data
}

func (e *appError) Unwrap() error {
	return e.err
}

// Is reports a match when target is an Error carrying the same code, so
// errors.Is(err, errors.New().New(ErrAccessDenied)) works across wrapping.
func (e *appError) Is(target error) bool {
	var t Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code() == e.code
}

type defaultFactory struct{}

func (*defaultFactory) New(code ErrorCode) Error {
	return &appError{
		code: code,
	}
}

func (*defaultFactory) Wrap(code ErrorCode, err error) Error {
	return &appError{
		code: code,
		err:  err,
	}
}

func (*defaultFactory) WithMessage(code ErrorCode, msg string) Error {
	return &appError{
		code:    code,
		message: msg,
	}
}

func (*defaultFactory) WithData(code ErrorCode, data any) Error {
	return &appError{
		code: code,
		data: data,
	}
}

// New creates a Factory instance for error creation
func New() Factory {
	return &defaultFactory{}
}

// HasCode walks the chain of err and reports whether any link carries code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		var e Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Code() == code {
			return true
		}
		err = e.Unwrap()
	}
	return false
}

// CodeOf returns the code of the outermost Error in the chain, or
// ErrInternal when err carries none.
func CodeOf(err error) ErrorCode {
	var e Error
	if errors.As(err, &e) {
		return e.Code()
	}
	return ErrInternal
}
