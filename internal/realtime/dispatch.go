package realtime

import (
	"encoding/json"
)

// Handler is called for every message delivered to a subscription.
//
// Handlers run on the connection's reader goroutine; a slow handler delays
// all later frames. A handler may subscribe, unsubscribe or insert.
//
// Parameters:
//   - topic: The topic the message was published on (not the subscription key)
//   - data: The raw message payload, typically an array of datapoints
//
// Returns:
//   - Reply: Whether to acknowledge a downlink, and with what data
type Handler func(topic string, data json.RawMessage) Reply

// Reply tells the dispatcher what to write back after a downlink message.
// It only has an effect for user/device/stream/downlink topics.
type Reply struct {
	echo bool
	data any
}

// NoReply acknowledges nothing.
var NoReply = Reply{}

// Echo acknowledges a downlink by writing the received data unchanged to
// the underlying stream.
func Echo() Reply {
	return Reply{echo: true}
}

// ReplyWith acknowledges a downlink by writing data to the underlying
// stream. A nil data or false is the same as NoReply, and true is the same
// as Echo.
func ReplyWith(data any) Reply {
	switch v := data.(type) {
	case nil:
		return NoReply
	case bool:
		if v {
			return Echo()
		}
		return NoReply
	}
	return Reply{data: data}
}

// payload returns the data to write back, if any.
func (r Reply) payload(received json.RawMessage) (any, bool) {
	switch {
	case r.echo:
		return received, true
	case r.data != nil:
		return r.data, true
	default:
		return nil, false
	}
}

// dispatch routes one inbound frame to every matching subscription.
func (c *Client) dispatch(frame []byte) {
	msg, err := decodeMessage(frame)
	if err != nil {
		c.log().Warn("dropping inbound frame", "error", err)
		return
	}
	c.log().Debug("message received", "stream", msg.Stream)

	// Each lookup takes and releases the registry lock on its own, so the
	// handler below always runs unlocked.
	for _, key := range matchKeys(msg.Stream) {
		handler, ok := c.registry.Lookup(key)
		if !ok {
			continue
		}
		reply := c.invoke(key, handler, msg)
		c.acknowledge(msg, reply)
	}
}

// invoke runs a handler with panic recovery. A panicking handler replies nothing.
func (c *Client) invoke(key string, handler Handler, msg Message) (reply Reply) {
	defer func() {
		if r := recover(); r != nil {
			c.log().Error("realtime handler panic recovered",
				"subscription", key,
				"stream", msg.Stream,
				"panic", r,
			)
			reply = NoReply
		}
	}()
	return handler(msg.Stream, msg.Data)
}

// acknowledge writes the reply of a downlink handler into the stream the
// downlink belongs to.
func (c *Client) acknowledge(msg Message, reply Reply) {
	data, ok := reply.payload(msg.Data)
	if !ok {
		return
	}
	target, ok := DownlinkTarget(msg.Stream)
	if !ok {
		return
	}
	if !c.Insert(target, data) {
		c.log().Warn("downlink acknowledgement not delivered", "stream", target)
	}
}
