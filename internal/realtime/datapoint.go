package realtime

import (
	"encoding/json"
	"fmt"
	"time"
)

// Datapoint is a single timestamped value as stored by the service.
// Timestamp is in unix seconds with fractional part.
type Datapoint struct {
	Timestamp float64 `json:"t"`
	Data      any     `json:"d"`
}

// NewDatapoint stamps data with the current time.
func NewDatapoint(data any) Datapoint {
	return Datapoint{
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
		Data:      data,
	}
}

// Time returns the datapoint timestamp as a time.Time.
func (d Datapoint) Time() time.Time {
	sec := int64(d.Timestamp)
	nsec := int64((d.Timestamp - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}

// DecodeDatapoints parses the data of a stream message. The service sends
// arrays of datapoints; a single object is accepted as a one-element array.
func DecodeDatapoints(raw json.RawMessage) ([]Datapoint, error) {
	var points []Datapoint
	if err := json.Unmarshal(raw, &points); err == nil {
		return points, nil
	}

	var single Datapoint
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, fmt.Errorf("decoding datapoints: %w", err)
	}
	return []Datapoint{single}, nil
}
