package relay

import "errors"

var (
	// ErrInvalidTopic is returned for topics that are not 1 to 4 levels of
	// non-empty names.
	ErrInvalidTopic = errors.New("relay: invalid topic")

	// ErrInvalidPayload is returned for insert payloads that are not JSON.
	ErrInvalidPayload = errors.New("relay: payload is not valid JSON")

	// ErrSubscribeFailed is returned when the realtime subscribe could not be sent.
	ErrSubscribeFailed = errors.New("relay: subscribe failed")

	// ErrInsertFailed is returned when an insert could be neither sent nor spooled.
	ErrInsertFailed = errors.New("relay: insert failed")

	// ErrNoPublisher is returned by ListenMQTT when MQTT is not configured.
	ErrNoPublisher = errors.New("relay: mqtt not configured")
)
