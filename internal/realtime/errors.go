package realtime

import (
	"errors"
	"fmt"
)

// Domain-specific errors for realtime operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrConnectionFailed is returned when a connection attempt fails.
	// Errors of type *ConnectionError match it via errors.Is.
	ErrConnectionFailed = errors.New("realtime: connection failed")

	// ErrConnectInProgress is returned by Connect while another attempt or a
	// reconnect cycle is outstanding. No second socket is opened.
	ErrConnectInProgress = errors.New("realtime: connection attempt in progress")

	// ErrNotConnected is returned when sending without an open socket.
	ErrNotConnected = errors.New("realtime: client not connected")

	// ErrNotSubscribed is returned when unsubscribing from a topic that was
	// never subscribed.
	ErrNotSubscribed = errors.New("realtime: topic not subscribed")

	// ErrInvalidTopic is returned when an empty topic is provided.
	ErrInvalidTopic = errors.New("realtime: topic cannot be empty")

	// ErrSendFailed is returned when a command frame cannot be written.
	ErrSendFailed = errors.New("realtime: send failed")

	// ErrTimeout is returned when the server does not answer a connection
	// attempt within the connect timeout.
	ErrTimeout = errors.New("realtime: operation timed out")
)

// ConnectionError reports a failed connection attempt against a websocket address.
type ConnectionError struct {
	// Address is the websocket URL that could not be reached.
	Address string

	// Err is the underlying transport error.
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("realtime: could not connect to %s", e.Address)
	}
	return fmt.Sprintf("realtime: could not connect to %s: %v", e.Address, e.Err)
}

// Unwrap exposes both ErrConnectionFailed and the transport cause to errors.Is.
func (e *ConnectionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConnectionFailed}
	}
	return []error{ErrConnectionFailed, e.Err}
}
