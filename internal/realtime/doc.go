// Package realtime provides a websocket client for a realtime datapoint
// stream service.
//
// This package manages:
//   - A single websocket connection with optional handshake headers
//   - Insert, subscribe and unsubscribe commands as JSON text frames
//   - Dispatch of inbound datapoint frames to per-topic handlers
//   - Downlink acknowledgement by writing back into the target stream
//   - Reconnection with a randomised backoff and subscription replay
//
// # Topics
//
// Topics are slash-separated paths of one to four parts:
//
//	alice                          user
//	alice/phone                    device
//	alice/phone/battery            stream
//	alice/phone/battery/downlink   downlink of a stream
//
// A frame published on a stream is delivered to the exact subscription
// first, then to the device subscription, then to the user subscription.
// Downlink frames only reach exact downlink subscriptions.
//
// # Reconnection
//
// Connect reports a failure to its caller and does not retry. Once a
// connection has been open, an unexpected close schedules a reconnect after
// a delay that random-walks between 1 second and about 10 minutes, and
// resets when a socket opens. Disconnect cancels any pending reconnect and
// drops all subscriptions.
//
// # Usage
//
//	header := realtime.BasicAuthHeader(user, password)
//	client := realtime.New(realtime.WebsocketURL(baseURL), header, cfg.Realtime)
//	defer client.Disconnect()
//
//	client.Subscribe("alice/phone/battery/downlink",
//	    func(topic string, data json.RawMessage) realtime.Reply {
//	        return realtime.Echo()
//	    })
//
//	client.Insert("alice/phone/battery", []realtime.Datapoint{realtime.NewDatapoint(87)})
package realtime
