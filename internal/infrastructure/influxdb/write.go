package influxdb

import (
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// DatapointMeasurement is the measurement stream datapoints are written to.
const DatapointMeasurement = "datapoints"

// Field names for recorded values. Numbers and booleans use separate
// fields so a stream never produces a field type conflict.
const (
	fieldValue = "value"
	fieldState = "state"
)

// streamTags are the tag keys for the levels of a stream topic.
var streamTags = []string{"user", "device", "stream", "channel"}

// WriteDatapoint records one stream value.
//
// The write is non-blocking; data is batched and sent asynchronously.
// Only numbers and booleans are recorded.
//
// Parameters:
//   - topic: The stream topic (e.g., "alice/phone/battery")
//   - value: The datapoint data
//   - timestamp: The datapoint timestamp
//
// Returns:
//   - bool: false if the client is closed or the value is not recordable.
//     Unrecordable values are counted as skipped.
//
// Example:
//
//	client.WriteDatapoint("alice/phone/battery", 87.0, dp.Time())
func (c *Client) WriteDatapoint(topic string, value any, timestamp time.Time) bool {
	if !c.IsConnected() {
		return false
	}

	point, ok := datapointPoint(topic, value, timestamp)
	if !ok {
		c.skipped.Add(1)
		return false
	}

	c.writeAPI.WritePoint(point)
	c.written.Add(1)
	return true
}

// datapointPoint builds the point for a stream value, reporting false
// for values that are neither numeric nor boolean.
func datapointPoint(topic string, value any, timestamp time.Time) (*write.Point, bool) {
	fields := make(map[string]interface{}, 1)
	switch v := value.(type) {
	case bool:
		fields[fieldState] = v
	default:
		f, ok := toFloat(value)
		if !ok {
			return nil, false
		}
		fields[fieldValue] = f
	}

	tags := make(map[string]string, len(streamTags))
	for i, level := range strings.SplitN(topic, "/", len(streamTags)) {
		if level != "" {
			tags[streamTags[i]] = level
		}
	}

	return write.NewPoint(DatapointMeasurement, tags, fields, timestamp), true
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}
