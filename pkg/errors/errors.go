// Package errors defines the sentinel error kinds shared by the index core
// and its outer layers (protocol, ingest, cmd), wrapped in an AppError that
// carries an HTTP status code for the edges that need one.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrCorrupt          = errors.New("corrupt segment")
	ErrIO               = errors.New("i/o error")
	ErrLocked           = errors.New("writer locked")
	ErrTimedOut         = errors.New("operation timed out")
	ErrNotOpen          = errors.New("index not open")
	ErrInvalidOperation = errors.New("invalid operation")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidOperation):
		return http.StatusBadRequest
	case errors.Is(err, ErrLocked), errors.Is(err, ErrTimedOut):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrNotOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrCorrupt), errors.Is(err, ErrIO):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
