package mqtt

import (
	"context"
	"fmt"
	"sort"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/streamlink/internal/infrastructure/config"
)

// Client is the relay's connection to the local MQTT broker.
//
// Besides publish and subscribe it owns the agent's presence: the broker
// holds an LWT on Topics.Status, and every connect overwrites it with a
// retained online message. Tracked subscriptions are replayed in topic
// order whenever paho reconnects. Methods are safe for concurrent use.
type Client struct {
	paho   pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics
	id     string

	mu           sync.RWMutex
	up           bool
	routes       map[string]route
	onConnect    func()
	onDisconnect func(err error)
	logger       Logger
}

// Logger receives handler failures. *logging.Logger and *slog.Logger
// satisfy it.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// route is a tracked subscription.
type route struct {
	qos     byte
	handler MessageHandler
}

// MessageHandler handles one message. paho runs it on its own goroutine.
// A returned error is logged; the message is acknowledged regardless.
type MessageHandler func(topic string, payload []byte) error

// newClient builds a client without connecting it.
func newClient(cfg config.MQTTConfig) *Client {
	c := &Client{
		cfg:    cfg,
		topics: Topics{Prefix: cfg.TopicPrefix},
		id:     clientID(cfg.Broker.ClientID),
		routes: make(map[string]route),
	}

	opts := buildClientOptions(cfg, c.id)
	configureLWT(opts, c.topics, c.id)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleDisconnect(err) })

	c.paho = pahomqtt.NewClient(opts)
	return c
}

// Connect dials the broker and waits up to defaultConnectTimeout for the
// CONNACK. The LWT is registered with the connect, and the retained online
// status follows from the connect handler.
//
// Returns:
//   - *Client: Connected client
//   - error: ErrConnectionFailed wrapping the timeout or broker error
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := newClient(cfg)

	token := c.paho.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: no connack within %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The connect handler runs asynchronously; report connected as soon as
	// Connect returns.
	c.setUp(true)
	return c, nil
}

// Topics returns the topic builder for the configured prefix.
func (c *Client) Topics() Topics {
	return c.topics
}

// ClientID returns the client ID presented to the broker.
func (c *Client) ClientID() string {
	return c.id
}

// QoS returns the configured default QoS.
func (c *Client) QoS() byte {
	return byte(c.cfg.QoS)
}

func (c *Client) setUp(up bool) {
	c.mu.Lock()
	c.up = up
	c.mu.Unlock()
}

func (c *Client) handleConnect() {
	c.setUp(true)
	c.replay()
	c.publishStatus(StatusOnline, "")

	c.mu.RLock()
	callback := c.onConnect
	c.mu.RUnlock()
	if callback != nil {
		callback()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.mu.Lock()
	c.up = false
	callback := c.onDisconnect
	logger := c.logger
	c.mu.Unlock()

	if logger != nil {
		logger.Warn("MQTT connection lost", "error", err)
	}
	if callback != nil {
		callback(err)
	}
}

// replay re-subscribes every tracked topic in sorted order. Tokens are not
// awaited: this runs inside paho's connect handler.
func (c *Client) replay() {
	c.mu.RLock()
	topics := make([]string, 0, len(c.routes))
	for topic := range c.routes {
		topics = append(topics, topic)
	}
	routes := make([]route, 0, len(topics))
	sort.Strings(topics)
	for _, topic := range topics {
		routes = append(routes, c.routes[topic])
	}
	c.mu.RUnlock()

	for i, topic := range topics {
		c.paho.Subscribe(topic, routes[i].qos, c.wrapHandler(routes[i].handler))
	}
}

// publishStatus publishes the retained agent status.
func (c *Client) publishStatus(status, reason string) pahomqtt.Token {
	return c.paho.Publish(c.topics.Status(), c.QoS(), true, statusPayload(status, c.id, reason))
}

// Close replaces the retained status with a graceful offline message, so
// the LWT never fires for a clean stop, then disconnects.
//
// Returns:
//   - error: Always nil; closing a closed client is not an error
func (c *Client) Close() error {
	if c.paho == nil {
		return nil
	}

	if c.IsConnected() {
		c.publishStatus(StatusOffline, "graceful_shutdown").WaitTimeout(defaultPublishTimeout)
	}
	c.paho.Disconnect(defaultDisconnectQuiesce)
	c.setUp(false)
	return nil
}

// HealthCheck returns ErrNotConnected while the broker connection is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether both paho and the last connection event say
// the broker is reachable.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	up := c.up
	c.mu.RUnlock()
	return up && c.paho.IsConnected()
}

// SetOnConnect sets a callback run after every connect, once subscriptions
// are replayed and the online status is published.
func (c *Client) SetOnConnect(callback func()) {
	c.mu.Lock()
	c.onConnect = callback
	c.mu.Unlock()
}

// SetOnDisconnect sets a callback run when the connection is lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.mu.Lock()
	c.onDisconnect = callback
	c.mu.Unlock()
}

// SetLogger sets where handler errors and panics are reported. Without one
// they are dropped.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) log() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}

func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.deliver(handler, msg.Topic(), msg.Payload())
	}
}

// deliver runs handler, reporting a returned error or a panic to the logger.
func (c *Client) deliver(handler MessageHandler, topic string, payload []byte) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if logger := c.log(); logger != nil {
			logger.Error("MQTT handler panicked", "topic", topic, "panic", r)
		}
	}()

	err := handler(topic, payload)
	if err == nil {
		return
	}
	if logger := c.log(); logger != nil {
		logger.Warn("MQTT handler failed", "topic", topic, "error", err)
	}
}
