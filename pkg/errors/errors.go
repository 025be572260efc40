package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrConfig            = errors.New("stored search settings malformed")
	ErrDaemonUnavailable = errors.New("search daemon unavailable")
	ErrDaemonTimeout     = errors.New("search daemon timed out")
	ErrDaemonProtocol    = errors.New("search daemon protocol error")
	ErrReconciliation    = errors.New("reconciliation metadata inconsistent")
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrInternal          = errors.New("internal error")
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

// IsDaemonFailure reports whether err belongs to the daemon-failure family
// that the interceptor recovers from by falling back to native search.
func IsDaemonFailure(err error) bool {
	return errors.Is(err, ErrDaemonUnavailable) ||
		errors.Is(err, ErrDaemonTimeout) ||
		errors.Is(err, ErrDaemonProtocol) ||
		errors.Is(err, ErrReconciliation)
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrDaemonTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrDaemonUnavailable), errors.Is(err, ErrDaemonProtocol):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
