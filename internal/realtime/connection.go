package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// State is the lifecycle state of the websocket connection.
type State int

// Connection states. A dropped connection returns to StateIdle; while a
// connection is still wanted a timer moves it back to StateConnecting.
const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
)

// String returns the state name used in logs and health output.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// attempt is the one-shot signal a blocked Connect waits on.
// A fresh attempt is created for every connection attempt.
type attempt struct {
	done chan struct{}
	err  error
	once sync.Once
}

func newAttempt() *attempt {
	return &attempt{done: make(chan struct{})}
}

// finish records the outcome and releases the waiter. Only the first call
// has an effect; it reports whether it was that call.
func (a *attempt) finish(err error) bool {
	released := false
	a.once.Do(func() {
		a.err = err
		close(a.done)
		released = true
	})
	return released
}

// open starts a connection attempt on a new worker goroutine and blocks
// until the socket opens, fails, the connect timeout passes or ctx is done.
// retry marks attempts made by the reconnect timer, which are allowed while
// a reconnect cycle is outstanding. opened is false when the socket was
// already open and this call did nothing.
func (c *Client) open(ctx context.Context, retry bool) (opened bool, err error) {
	c.mu.Lock()
	switch {
	case c.state == StateOpen:
		c.mu.Unlock()
		return false, nil
	case c.state != StateIdle, c.retrying && !retry:
		c.mu.Unlock()
		return false, ErrConnectInProgress
	}
	c.wantsConnection = true
	c.state = StateConnecting
	c.generation++
	gen := c.generation
	att := newAttempt()
	c.attempt = att
	c.mu.Unlock()

	c.log().Debug("opening websocket", "url", c.url, "retry", retry)
	go c.run(gen, att)

	timer := time.NewTimer(c.connectTimeout)
	defer timer.Stop()

	select {
	case <-att.done:
		err = att.err
	case <-timer.C:
		err = c.abandon(gen, att, ErrTimeout)
	case <-ctx.Done():
		err = c.abandon(gen, att, ctx.Err())
	}
	if err != nil {
		return false, &ConnectionError{Address: c.url, Err: err}
	}
	return true, nil
}

// abandon settles an attempt the caller stopped waiting for. If the worker
// settled it first, the worker's outcome stands.
func (c *Client) abandon(gen uint64, att *attempt, cause error) error {
	c.mu.Lock()
	if !att.finish(cause) {
		c.mu.Unlock()
		return att.err
	}

	retry := false
	var session uint64
	if gen == c.generation {
		// Orphan the worker: a late open closes its own socket.
		c.generation++
		c.state = StateIdle
		retry = c.retryLocked(true)
		session = c.session
	}
	c.mu.Unlock()

	if retry {
		c.scheduleReconnect(session)
	}
	return cause
}

// run is the worker for one socket. It dials, reports the open, then reads
// frames until the socket fails.
func (c *Client) run(gen uint64, att *attempt) {
	conn, resp, err := c.dialer.Dial(c.url, c.header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (http status %d)", err, resp.StatusCode)
		}
		c.handleError(gen, att, err)
		return
	}

	if !c.handleOpen(gen, att, conn) {
		conn.Close() //nolint:errcheck // Orphaned socket; nobody is waiting for it
		return
	}

	stop := make(chan struct{})
	if c.pingInterval > 0 {
		go c.keepalive(conn, stop)
	}

	err = c.readLoop(conn)
	close(stop)
	conn.Close() //nolint:errcheck // Already failed; close releases the fd
	c.handleError(gen, att, err)
}

// handleOpen marks the connection open and releases the waiting Connect.
// It reports false if the attempt was abandoned or superseded meanwhile.
func (c *Client) handleOpen(gen uint64, att *attempt, conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation || !att.finish(nil) {
		return false
	}
	c.conn = conn
	c.state = StateOpen
	c.retrying = false
	c.backoff.Reset()

	c.log().Debug("websocket opened", "url", c.url)
	return true
}

// handleError is called when a socket fails to open or dies. It releases a
// waiting Connect and, while a connection is still wanted, schedules a
// reconnect.
func (c *Client) handleError(gen uint64, att *attempt, cause error) {
	c.mu.Lock()
	released := att.finish(cause)
	if gen != c.generation {
		// Superseded by Disconnect or by an abandoned attempt.
		c.mu.Unlock()
		return
	}
	wasOpen := c.state == StateOpen
	c.conn = nil
	c.state = StateIdle
	retry := c.retryLocked(released)
	session := c.session
	c.mu.Unlock()

	c.log().Debug("websocket error", "url", c.url, "error", cause)
	if wasOpen {
		c.notifyDisconnect(cause)
	}
	if retry {
		c.scheduleReconnect(session)
	}
}

// retryLocked decides whether a failure schedules a reconnect.
//
// A failure that released a waiting Connect is reported to that caller, so
// it only retries when the attempt was itself a retry. At most one
// reconnect is pending at a time. Caller holds c.mu.
func (c *Client) retryLocked(releasedWaiter bool) bool {
	if releasedWaiter && !c.retrying {
		c.wantsConnection = false
		return false
	}
	if !c.wantsConnection || c.reconnectPending {
		return false
	}
	c.retrying = true
	c.reconnectPending = true
	return true
}

// scheduleReconnect arms the reconnect timer with the next backoff delay.
func (c *Client) scheduleReconnect(session uint64) {
	delay := c.backoff.Next()
	c.log().Warn("disconnected from websocket, retrying",
		"url", c.url,
		"delay", delay.Round(time.Millisecond),
	)

	timer := c.scheduler.AfterFunc(delay, func() {
		c.reconnect(session)
	})

	c.mu.Lock()
	if session == c.session && c.reconnectPending {
		c.reconnectTimer = timer
	}
	c.mu.Unlock()
}

// reconnect runs on the timer. It is a no-op once the session ended, so a
// timer firing after Disconnect never opens a socket.
func (c *Client) reconnect(session uint64) {
	c.mu.Lock()
	if session != c.session {
		c.mu.Unlock()
		return
	}
	c.reconnectPending = false
	c.reconnectTimer = nil
	if !c.wantsConnection || c.state != StateIdle {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.log().Debug("reconnecting websocket", "url", c.url)
	opened, err := c.open(context.Background(), true)
	if err != nil {
		// The failure path has already scheduled the next attempt.
		c.log().Debug("reconnect attempt failed", "url", c.url, "error", err)
		return
	}
	if !opened {
		return
	}

	c.resubscribe()
	c.log().Info("websocket reconnected", "url", c.url, "subscriptions", c.registry.Len())
	c.notifyConnect()
}

// resubscribe replays every registered subscription on a fresh socket.
func (c *Client) resubscribe() {
	for _, topic := range c.registry.Snapshot() {
		c.log().Debug("resubscribing", "topic", topic)
		if err := c.Send(SubscribeCommand(topic)); err != nil {
			// The socket is gone again; the next reconnect replays everything.
			c.log().Warn("resubscribe failed", "topic", topic, "error", err)
			return
		}
	}
}

// readLoop delivers inbound frames until the socket fails.
func (c *Client) readLoop(conn *websocket.Conn) error {
	conn.SetReadLimit(c.maxMessageSize)

	deadline := c.pingInterval + c.pongTimeout
	if c.pingInterval > 0 {
		//nolint:errcheck // Best-effort deadline on connection setup
		conn.SetReadDeadline(time.Now().Add(deadline))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(deadline))
		})
	}

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if c.pingInterval > 0 {
			//nolint:errcheck // Best-effort deadline reset
			conn.SetReadDeadline(time.Now().Add(deadline))
		}
		c.dispatch(frame)
	}
}

// keepalive pings the server until stop is closed or a ping fails.
// A missing pong surfaces as a read deadline error in readLoop.
func (c *Client) keepalive(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.sendMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
			c.sendMu.Unlock()
			if err != nil {
				c.log().Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}

// currentConn returns the open socket, or nil.
func (c *Client) currentConn() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}
