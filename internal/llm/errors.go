package llm

import (
	"context"
	"errors"
	"net"
)

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeConnection
	ErrTypeTimeout
	ErrTypeStatus
	ErrTypeModelNotFound
	ErrTypeInvalidResponse
	ErrTypeCanceled
)

func (t ErrorType) String() string {
	switch t {
	case ErrTypeConnection:
		return "connection"
	case ErrTypeTimeout:
		return "timeout"
	case ErrTypeStatus:
		return "status"
	case ErrTypeModelNotFound:
		return "model_not_found"
	case ErrTypeInvalidResponse:
		return "invalid_response"
	case ErrTypeCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// ClientError represents a failure talking to the inference endpoint.
type ClientError struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Cause      error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// classifyTransport wraps an error from http.Client.Do.
func classifyTransport(err error) *ClientError {
	switch {
	case errors.Is(err, context.Canceled):
		return &ClientError{Type: ErrTypeCanceled, Message: "request canceled", Cause: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &ClientError{Type: ErrTypeTimeout, Message: "request timed out", Cause: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ClientError{Type: ErrTypeTimeout, Message: "request timed out", Cause: err}
	}
	return &ClientError{Type: ErrTypeConnection, Message: "cannot reach inference endpoint", Cause: err}
}

func isType(err error, t ErrorType) bool {
	var clientErr *ClientError
	return errors.As(err, &clientErr) && clientErr.Type == t
}

// IsTimeout checks if an error is a timeout error.
func IsTimeout(err error) bool { return isType(err, ErrTypeTimeout) }

// IsModelNotFound checks if an error is a model not found error.
func IsModelNotFound(err error) bool { return isType(err, ErrTypeModelNotFound) }

// IsConnection checks if the endpoint could not be reached.
func IsConnection(err error) bool { return isType(err, ErrTypeConnection) }

// IsCanceled checks if the request was abandoned by its context.
func IsCanceled(err error) bool {
	return isType(err, ErrTypeCanceled) || errors.Is(err, context.Canceled)
}
