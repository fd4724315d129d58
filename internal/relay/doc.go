// Package relay connects the realtime stream client to the rest of the
// agent.
//
// Each configured subscription carries a rule:
//   - relay_mqtt: republish every event on {prefix}/stream/{topic}
//   - record: write numeric and boolean datapoints to InfluxDB
//   - acknowledge: echo downlink data back into the target stream
//
// In the other direction, messages published on
// {prefix}/insert/{user}/{device}/{stream} and inserts from the local API
// go through Insert, which spools them when the realtime channel is down.
package relay
