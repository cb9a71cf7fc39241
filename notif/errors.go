package notif

import (
	"errors"
	"fmt"
)

var (
	// ErrSubscriptionClosed ends a subscription. When the connection failed
	// the returned error also wraps the cause.
	ErrSubscriptionClosed = errors.New("subscription closed")

	ErrNoTopics     = errors.New("no topics")
	ErrInvalidTopic = errors.New("invalid topic")
	ErrEmptyTopic   = errors.New("empty topic")
	ErrNilHandler   = errors.New("nil handler")
)

// AuthError is a missing or malformed API key, or a 401 from the server.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "authentication failed: " + e.Reason
}

// APIError is a non-auth failure reported by the server, either as an HTTP
// status or as an error frame on the stream. Error frames use status 400.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// ConnectionError is a transport failure while connecting, reading or writing.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError is a malformed or unexpected frame.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}
	return "protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// SerializationError is a payload that could not be encoded or decoded.
type SerializationError struct {
	Err error
}

func (e *SerializationError) Error() string {
	return "serialization error: " + e.Err.Error()
}

func (e *SerializationError) Unwrap() error { return e.Err }

// errorKind labels delivery errors in logs and metrics.
func errorKind(err error) string {
	var (
		apiErr   *APIError
		authErr  *AuthError
		connErr  *ConnectionError
		protoErr *ProtocolError
		serErr   *SerializationError
	)
	switch {
	case errors.As(err, &authErr):
		return "auth"
	case errors.As(err, &apiErr):
		return "api"
	case errors.As(err, &connErr):
		return "connection"
	case errors.As(err, &protoErr):
		return "protocol"
	case errors.As(err, &serErr):
		return "serialization"
	default:
		return "other"
	}
}
