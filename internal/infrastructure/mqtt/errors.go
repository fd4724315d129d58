package mqtt

import "errors"

// Broker failures from paho are wrapped with %w around these, so callers
// match them with errors.Is.
var (
	// ErrNotConnected means the broker connection is down.
	ErrNotConnected = errors.New("mqtt: broker connection down")

	// ErrConnectionFailed wraps the error from the first connect.
	ErrConnectionFailed = errors.New("mqtt: cannot reach broker")

	// ErrPublishFailed covers oversized, unencodable and unacknowledged publishes.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	ErrSubscribeFailed   = errors.New("mqtt: subscribe failed")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS rejects QoS levels above 2.
	ErrInvalidQoS = errors.New("mqtt: qos must be 0, 1 or 2")

	// ErrInvalidTopic rejects an empty topic.
	ErrInvalidTopic = errors.New("mqtt: empty topic")
)
