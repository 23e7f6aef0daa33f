package upload

import (
	"context"
)

// Request is one round trip to the collector. Body is the JSON-encoded payload.
type Request struct {
	Kind      string
	Body      []byte
	Token     string
	DeviceID  string
	RequestID string
	UserAgent string
}

type Response struct {
	Status     int
	RetryAfter string
	Body       []byte
}

// Transport performs a single attempt. A non-nil error means no status was
// received (network failure, timeout, cancellation).
type Transport interface {
	Post(ctx context.Context, req Request) (Response, error)
	Close() error
}
