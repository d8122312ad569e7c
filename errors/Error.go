package errors

import (
	"errors"
	"fmt"
)

type ERR int32

const (
	ERR_UNKNOWN ERR = iota
	ERR_INVALID_ARGUMENT
	ERR_PROCESSING
	ERR_CONFIGURATION
	ERR_CONTEXT_CANCELED
	ERR_BLOCK_NOT_FOUND
	ERR_BLOCK_INVALID
	ERR_BLOCK_EXISTS
	ERR_TX_NOT_FOUND
	ERR_TX_INVALID
	ERR_TX_INVALID_DOUBLE_SPEND
	ERR_TX_ALREADY_EXISTS
	ERR_INSUFFICIENT_FUNDS
	ERR_STORAGE_ERROR
	ERR_STATE_ERROR
)

var ERR_name = map[ERR]string{
	ERR_UNKNOWN:                 "UNKNOWN",
	ERR_INVALID_ARGUMENT:        "INVALID_ARGUMENT",
	ERR_PROCESSING:              "PROCESSING",
	ERR_CONFIGURATION:           "CONFIGURATION",
	ERR_CONTEXT_CANCELED:        "CONTEXT_CANCELED",
	ERR_BLOCK_NOT_FOUND:         "BLOCK_NOT_FOUND",
	ERR_BLOCK_INVALID:           "BLOCK_INVALID",
	ERR_BLOCK_EXISTS:            "BLOCK_EXISTS",
	ERR_TX_NOT_FOUND:            "TX_NOT_FOUND",
	ERR_TX_INVALID:              "TX_INVALID",
	ERR_TX_INVALID_DOUBLE_SPEND: "TX_INVALID_DOUBLE_SPEND",
	ERR_TX_ALREADY_EXISTS:       "TX_ALREADY_EXISTS",
	ERR_INSUFFICIENT_FUNDS:      "INSUFFICIENT_FUNDS",
	ERR_STORAGE_ERROR:           "STORAGE_ERROR",
	ERR_STATE_ERROR:             "STATE_ERROR",
}

func (c ERR) String() string {
	if name, ok := ERR_name[c]; ok {
		return name
	}

	return fmt.Sprintf("ERR(%d)", int32(c))
}

type Error struct {
	code       ERR
	message    string
	wrappedErr error
}

type Interface interface {
	Error() string
	Is(target error) bool
	Unwrap() error

	Code() ERR
	Message() string
	WrappedErr() error
}

func (e *Error) Error() string {
	// predefined errors may be nil pointers when wrapped
	if e == nil {
		return "<nil>"
	}

	if e.wrappedErr == nil {
		return fmt.Sprintf("Error: %s (error code: %d), Message: %v", e.code, e.code, e.message)
	}

	return fmt.Sprintf("Error: %s (error code: %d), Message: %v, Wrapped err: %v", e.code, e.code, e.message, e.wrappedErr)
}

// Is reports whether error codes match, anywhere along the wrap chain.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}

	targetError, ok := target.(*Error)
	if !ok {
		return errors.Is(e.wrappedErr, target)
	}

	if e.code == targetError.code {
		return true
	}

	if ue, ok := e.wrappedErr.(*Error); ok {
		return ue.Is(target)
	}

	return false
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.wrappedErr
}

func (e *Error) Code() ERR {
	if e == nil {
		return ERR_UNKNOWN
	}

	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}

	return e.message
}

func (e *Error) WrappedErr() error {
	if e == nil {
		return nil
	}

	return e.wrappedErr
}

// New creates a coded error. If the last param is an error it becomes the wrapped error,
// the remaining params format the message.
func New(code ERR, message string, params ...interface{}) *Error {
	var wErr error

	if len(params) > 0 {
		if err, ok := params[len(params)-1].(error); ok {
			wErr = err
			params = params[:len(params)-1]
		}
	}

	if len(params) > 0 {
		message = fmt.Sprintf(message, params...)
	}

	if _, ok := ERR_name[code]; !ok {
		return &Error{
			code:       code,
			message:    "invalid error code",
			wrappedErr: wErr,
		}
	}

	return &Error{
		code:       code,
		message:    message,
		wrappedErr: wErr,
	}
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

// CodeOf returns the code of the outermost coded error in the chain.
func CodeOf(err error) ERR {
	var tErr *Error
	if As(err, &tErr) {
		return tErr.Code()
	}

	return ERR_UNKNOWN
}
