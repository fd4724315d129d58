package mqtt

import "strings"

// DefaultTopicPrefix is used when the configuration leaves the prefix empty.
const DefaultTopicPrefix = "streamlink"

// Topics builds the MQTT topics streamlink publishes and listens on.
// Using these helpers keeps the layout consistent across the codebase.
//
//	topics := mqtt.Topics{Prefix: "streamlink"}
//	topics.Stream("alice/phone/battery") // streamlink/stream/alice/phone/battery
//	topics.Insert("alice/phone/battery") // streamlink/insert/alice/phone/battery
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return strings.TrimSuffix(t.Prefix, "/")
}

// Stream returns the topic stream events are republished on.
//
// Example: streamlink/stream/alice/phone/battery
func (t Topics) Stream(stream string) string {
	return t.prefix() + "/stream/" + stream
}

// Insert returns the topic whose messages are inserted into stream.
//
// Example: streamlink/insert/alice/phone/battery
func (t Topics) Insert(stream string) string {
	return t.prefix() + "/insert/" + stream
}

// Status returns the retained agent status topic (also the LWT topic).
//
// Example: streamlink/status
func (t Topics) Status() string {
	return t.prefix() + "/status"
}

// Stats returns the retained relay statistics topic.
//
// Example: streamlink/stats
func (t Topics) Stats() string {
	return t.prefix() + "/stats"
}

// AllInserts returns a pattern matching every insert topic.
//
// Pattern: streamlink/insert/+/+/+
func (t Topics) AllInserts() string {
	return t.prefix() + "/insert/+/+/+"
}

// InsertTarget returns the stream an insert topic addresses.
// It reports false for topics outside {prefix}/insert/user/device/stream.
func (t Topics) InsertTarget(topic string) (string, bool) {
	stream, ok := strings.CutPrefix(topic, t.prefix()+"/insert/")
	if !ok || strings.Count(stream, "/") != 2 {
		return "", false
	}
	for _, part := range strings.Split(stream, "/") {
		if part == "" {
			return "", false
		}
	}
	return stream, true
}
