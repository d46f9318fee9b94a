package gateway

import (
	"context"
	"errors"
	"fmt"
)

// GenericFailure is shown when the server gives no usable error message.
const GenericFailure = "The server could not process the request. Please try again later."

// TransportError is a network failure with no structured response.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e.Timeout() {
		return "request timed out"
	}
	return fmt.Sprintf("could not reach server: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(e.Err, &te) && te.Timeout()
}

// ServerError is a non-2xx response. Message is the server's "error" field, empty when absent.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("server error %d", e.StatusCode)
}

// UserMessage is the text to show: the server's message verbatim, or a generic one.
func (e *ServerError) UserMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return GenericFailure
}

// ProtocolError is a 2xx response the client cannot use.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	return "unexpected server response: " + e.Reason
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// UserMessage maps any gateway error to the message a user should see.
func UserMessage(err error) string {
	var se *ServerError
	if errors.As(err, &se) {
		return se.UserMessage()
	}
	var te *TransportError
	if errors.As(err, &te) {
		if te.Timeout() {
			return "The request timed out. Please try again."
		}
		return "Could not reach the server. Please check your connection and try again."
	}
	if errors.Is(err, context.Canceled) {
		return "The request was cancelled."
	}
	return GenericFailure
}
