package util

import (
	"context"

	"github.com/google/uuid"
)

// RequestIDHeader carries the request id on requests and responses.
const RequestIDHeader = "X-Request-ID"

type requestIDKey struct{}

func SetRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// GetRequestID returns the id stored in ctx, or a fresh one for work that
// did not start from a request.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		return id
	}
	return NewRequestID()
}

func NewRequestID() string {
	return uuid.New().String()
}

// RequestIDFrom keeps an id supplied by a proxy when it is a UUID and mints a
// new one otherwise, so arbitrary header text never reaches the logs.
func RequestIDFrom(header string) string {
	if id, err := uuid.Parse(header); err == nil {
		return id.String()
	}
	return NewRequestID()
}
