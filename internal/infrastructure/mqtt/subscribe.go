package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Subscribe routes messages matching topic to handler. The subscription is
// tracked and replayed after a reconnect; if the broker rejects it, it is
// not tracked.
//
// topic may use the + and # wildcards, as in Topics.AllInserts:
//
//	err := client.Subscribe(client.Topics().AllInserts(), 1,
//	    func(topic string, payload []byte) error {
//	        stream, _ := client.Topics().InsertTarget(topic)
//	        return forward(stream, payload)
//	    })
//
// Returns:
//   - error: ErrInvalidTopic, ErrInvalidQoS, ErrNotConnected, or wrapped ErrSubscribeFailed
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	switch {
	case topic == "":
		return ErrInvalidTopic
	case qos > maxQoS:
		return ErrInvalidQoS
	case handler == nil:
		return fmt.Errorf("%w: nil handler for %s", ErrSubscribeFailed, topic)
	case !c.IsConnected():
		return ErrNotConnected
	}

	c.mu.Lock()
	c.routes[topic] = route{qos: qos, handler: handler}
	c.mu.Unlock()

	token := c.paho.Subscribe(topic, qos, c.wrapHandler(handler))
	err := awaitToken(token, ErrSubscribeFailed)
	if err != nil {
		c.drop(topic)
	}
	return err
}

// Unsubscribe stops routing topic. The tracked subscription is dropped
// even when the broker does not confirm.
//
// Returns:
//   - error: ErrInvalidTopic, ErrNotConnected, or wrapped ErrUnsubscribeFailed
func (c *Client) Unsubscribe(topic string) error {
	switch {
	case topic == "":
		return ErrInvalidTopic
	case !c.IsConnected():
		return ErrNotConnected
	}

	c.drop(topic)
	return awaitToken(c.paho.Unsubscribe(topic), ErrUnsubscribeFailed)
}

// SubscriptionCount returns the number of tracked subscriptions.
func (c *Client) SubscriptionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.routes)
}

func (c *Client) drop(topic string) {
	c.mu.Lock()
	delete(c.routes, topic)
	c.mu.Unlock()
}

// awaitToken waits defaultPublishTimeout for token and wraps its failure in sentinel.
func awaitToken(token pahomqtt.Token, sentinel error) error {
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: no ack within %v", sentinel, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return nil
}
