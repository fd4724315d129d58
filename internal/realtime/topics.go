package realtime

import "strings"

// Topic layout constants.
const (
	// TopicSeparator splits a topic into its hierarchy levels.
	TopicSeparator = "/"

	// DownlinkSuffix marks a pending command addressed to a stream.
	DownlinkSuffix = "/downlink"

	// streamDepth is the number of levels in user/device/stream.
	streamDepth = 3

	// downlinkDepth is the number of levels in user/device/stream/downlink.
	downlinkDepth = 4
)

// User returns the user-level topic. Subscribing to it receives every
// stream event of every device the user owns.
func User(user string) string {
	return user
}

// Device returns the device-level topic.
//
// Example: alice/phone
func Device(user, device string) string {
	return user + TopicSeparator + device
}

// Stream returns the topic of a single stream.
//
// Example: alice/phone/battery
func Stream(user, device, stream string) string {
	return Device(user, device) + TopicSeparator + stream
}

// Downlink returns the downlink topic of a stream.
//
// Example: alice/phone/light/downlink
func Downlink(user, device, stream string) string {
	return Stream(user, device, stream) + DownlinkSuffix
}

// SplitTopic returns the hierarchy levels of a topic.
func SplitTopic(topic string) []string {
	return strings.Split(topic, TopicSeparator)
}

// IsDownlink reports whether topic is a user/device/stream/downlink address.
func IsDownlink(topic string) bool {
	return strings.HasSuffix(topic, DownlinkSuffix) &&
		strings.Count(topic, TopicSeparator) == downlinkDepth-1
}

// DownlinkTarget returns the stream a downlink topic acknowledges into.
//
// Example: alice/phone/light/downlink -> alice/phone/light
func DownlinkTarget(topic string) (string, bool) {
	if !IsDownlink(topic) {
		return "", false
	}
	return strings.TrimSuffix(topic, DownlinkSuffix), true
}

// matchKeys returns the registry keys that receive a frame on topic, in
// dispatch order: the exact topic first, then for stream-level topics the
// device and the user scopes. Device-level, downlink and substream topics
// only match exactly.
func matchKeys(topic string) []string {
	parts := SplitTopic(topic)
	if len(parts) != streamDepth {
		return []string{topic}
	}
	return []string{
		topic,
		Device(parts[0], parts[1]),
		User(parts[0]),
	}
}

// ValidTopic reports whether topic is a usable subscription or insert
// address: one to four non-empty levels.
func ValidTopic(topic string) bool {
	if topic == "" {
		return false
	}
	parts := SplitTopic(topic)
	if len(parts) > downlinkDepth {
		return false
	}
	for _, part := range parts {
		if part == "" {
			return false
		}
	}
	return true
}
