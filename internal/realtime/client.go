package realtime

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/streamlink/internal/infrastructure/config"
)

// Client is a websocket client for the realtime stream service.
//
// It sends insert and subscription commands, dispatches inbound datapoint
// frames to registered handlers, and reconnects with a randomised backoff
// when an established connection drops.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Outbound frames are serialised; handlers run on the reader goroutine.
//   - Subscriptions are replayed after every successful reconnect.
type Client struct {
	url    string
	header http.Header
	dialer *websocket.Dialer

	connectTimeout time.Duration
	writeTimeout   time.Duration
	pingInterval   time.Duration
	pongTimeout    time.Duration
	maxMessageSize int64

	registry  *Registry
	backoff   *Backoff
	scheduler Scheduler

	// sendMu serialises frame writes. Never acquired while holding mu.
	sendMu sync.Mutex

	// mu guards the connection state below.
	mu               sync.Mutex
	state            State
	conn             *websocket.Conn
	attempt          *attempt
	wantsConnection  bool
	retrying         bool
	reconnectPending bool
	reconnectTimer   Timer
	generation       uint64 // bumped whenever a socket is orphaned
	session          uint64 // bumped by Disconnect

	// Callbacks for connection events (optional, set via SetOnConnect/SetOnDisconnect).
	onConnect    func()
	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	// logger (optional, set via SetLogger).
	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a client for the websocket at url. header is sent verbatim
// with every handshake; use BasicAuthHeader for username/password login.
// No connection is made until Connect, Insert or Subscribe is called.
func New(url string, header http.Header, cfg config.RealtimeConfig) *Client {
	c := &Client{
		url:            url,
		header:         header.Clone(),
		connectTimeout: seconds(cfg.ConnectTimeout, defaultConnectTimeout),
		writeTimeout:   seconds(cfg.WriteTimeout, defaultWriteTimeout),
		pingInterval:   seconds(cfg.PingInterval, 0),
		pongTimeout:    seconds(cfg.PongTimeout, 0),
		maxMessageSize: int64(cfg.MaxMessageSize),
		registry:       NewRegistry(),
		backoff:        NewBackoff(),
		scheduler:      timeScheduler{},
	}
	if c.header == nil {
		c.header = make(http.Header)
	}
	if c.maxMessageSize <= 0 {
		c.maxMessageSize = defaultMaxMessageSize
	}
	if c.pingInterval > 0 && c.pongTimeout <= 0 {
		c.pongTimeout = c.pingInterval
	}
	c.dialer = &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.connectTimeout,
	}
	return c
}

func seconds(n int, fallback time.Duration) time.Duration {
	if n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}

// Connect opens the websocket and blocks until it is open.
//
// It returns nil immediately if the connection is already open, and
// ErrConnectInProgress if another attempt or a reconnect cycle is under
// way. A failed or timed-out attempt returns a *ConnectionError wrapping
// ErrConnectionFailed; it does not start a reconnect cycle.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	alreadyOpen := c.state == StateOpen
	c.mu.Unlock()
	if alreadyOpen {
		return nil
	}

	opened, err := c.open(ctx, false)
	if err != nil {
		return err
	}
	if !opened {
		// Another caller opened the socket first and has already notified.
		return nil
	}
	c.log().Info("connected to websocket", "url", c.url)
	c.notifyConnect()
	return nil
}

// Disconnect closes the connection and drops every subscription.
//
// Any pending reconnect is cancelled and a timer that already fired opens
// nothing. A Connect blocked on an attempt is released with an error.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.wantsConnection = false
	c.retrying = false
	c.reconnectPending = false
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.session++
	c.generation++
	if c.attempt != nil {
		c.attempt.finish(fmt.Errorf("%w: disconnected", ErrNotConnected))
	}
	conn := c.conn
	c.conn = nil
	wasOpen := c.state == StateOpen
	c.state = StateClosing
	c.mu.Unlock()

	if conn != nil {
		c.sendMu.Lock()
		//nolint:errcheck // Best-effort close frame; the socket is closed regardless
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod))
		c.sendMu.Unlock()
		conn.Close() //nolint:errcheck // Nothing useful to do on close failure
	}

	c.mu.Lock()
	if c.state == StateClosing {
		c.state = StateIdle
	}
	c.mu.Unlock()

	c.registry.Clear()
	c.log().Info("disconnected from websocket", "url", c.url)
	if wasOpen {
		c.notifyDisconnect(nil)
	}
}

// Insert sends datapoints to a stream, connecting first if needed.
//
// data is either a single datapoint or a list of them. It reports whether
// the command was written to an open socket; delivery is not confirmed.
func (c *Client) Insert(topic string, data any) bool {
	if topic == "" {
		return false
	}
	if err := c.Connect(context.Background()); err != nil {
		c.log().Debug("insert skipped, not connected", "stream", topic, "error", err)
		return false
	}

	c.log().Debug("inserting datapoints", "stream", topic)
	if err := c.Send(InsertCommand(topic, data)); err != nil {
		c.log().Warn("insert failed", "stream", topic, "error", err)
		return false
	}
	return true
}

// Subscribe registers handler for topic and asks the service to start
// sending its datapoints, connecting first if needed.
//
// topic is a user, a user/device or a user/device/stream path. The handler
// replaces any earlier handler for the same topic. It reports false if the
// connection could not be opened or the command could not be sent, in which
// case nothing is registered.
func (c *Client) Subscribe(topic string, handler Handler) bool {
	if topic == "" || handler == nil {
		return false
	}
	if err := c.Connect(context.Background()); err != nil {
		c.log().Debug("subscribe skipped, not connected", "topic", topic, "error", err)
		return false
	}

	c.log().Debug("subscribing", "topic", topic)
	if err := c.Send(SubscribeCommand(topic)); err != nil {
		c.log().Warn("subscribe failed", "topic", topic, "error", err)
		return false
	}
	c.registry.Add(topic, handler)
	return true
}

// Unsubscribe stops delivery for topic.
//
// The unsubscribe command is sent best-effort; the local registration is
// removed regardless, so no further frames reach the handler. Returns
// ErrNotSubscribed if topic had no handler.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}

	c.log().Debug("unsubscribing", "topic", topic)
	if err := c.Send(UnsubscribeCommand(topic)); err != nil {
		c.log().Debug("unsubscribe not sent", "topic", topic, "error", err)
	}
	return c.registry.Remove(topic)
}

// Subscriptions returns the registered topics, sorted.
func (c *Client) Subscriptions() []string {
	return c.registry.Snapshot()
}

// IsConnected returns true if the websocket is currently open.
func (c *Client) IsConnected() bool {
	return c.State() == StateOpen
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// URL returns the websocket address.
func (c *Client) URL() string {
	return c.url
}

// HealthCheck verifies the websocket is open.
// Implements the same contract as the other infrastructure clients.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if state := c.State(); state != StateOpen {
		return fmt.Errorf("%w: state %s", ErrNotConnected, state)
	}
	return nil
}

// SetOnConnect sets a callback invoked after Connect succeeds and after
// every successful reconnect. It runs in its own goroutine.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.onConnect = callback
}

// SetOnDisconnect sets a callback invoked when an open connection closes.
// err is nil for Disconnect. It runs in its own goroutine.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.onDisconnect = callback
}

// SetLogger sets a logger for connection and dispatch events.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	defer c.loggerMu.Unlock()
	c.logger = logger
}

// SetScheduler replaces the reconnect scheduler. Must be called before the
// first Connect.
func (c *Client) SetScheduler(s Scheduler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scheduler = s
}

func (c *Client) log() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	if c.logger == nil {
		return discardLogger
	}
	return c.logger
}

func (c *Client) notifyConnect() {
	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		go callback()
	}
}

func (c *Client) notifyDisconnect(err error) {
	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		go callback(err)
	}
}
