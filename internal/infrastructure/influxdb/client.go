package influxdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/streamlink/internal/infrastructure/config"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second

	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second
)

var errUnhealthy = errors.New("server reports unhealthy")

// Stats counts recorder activity since Connect.
type Stats struct {
	Written     uint64 `json:"written"`
	Skipped     uint64 `json:"skipped"`
	WriteErrors uint64 `json:"write_errors"`
	LastError   string `json:"last_error,omitempty"`
}

// Client records stream datapoints in one InfluxDB bucket.
//
// Points are buffered by the non-blocking write API and sent every
// batch_size points or flush_interval, whichever comes first. Batch
// failures arrive asynchronously: they are counted in Stats and handed to
// the SetOnError callback.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI

	written atomic.Uint64
	skipped atomic.Uint64
	failed  atomic.Uint64

	mu      sync.RWMutex
	open    bool
	lastErr error
	onError func(err error)
}

// writeOptions maps the recorder settings onto client options. Unset or
// negative values fall back to the defaults.
func writeOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	flush := time.Duration(cfg.FlushInterval) * time.Second
	if flush <= 0 {
		flush = defaultFlushInterval
	}

	// #nosec G115 -- both values are positive here
	return influxdb2.DefaultOptions().
		SetBatchSize(uint(batch)).
		SetFlushInterval(uint(flush.Milliseconds()))
}

// Connect pings the server and opens the batched write API for the
// configured org and bucket.
//
// Returns:
//   - *Client: Recorder ready for WriteDatapoint
//   - error: ErrDisabled, or ErrConnectionFailed if the ping fails
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, writeOptions(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := ping(ctx, client); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		open:     true,
	}
	go c.watchErrors(c.writeAPI.Errors())
	return c, nil
}

func ping(ctx context.Context, client influxdb2.Client) error {
	healthy, err := client.Ping(ctx)
	if err != nil {
		return err
	}
	if !healthy {
		return errUnhealthy
	}
	return nil
}

// watchErrors drains batch failures until the write API closes errs.
func (c *Client) watchErrors(errs <-chan error) {
	for err := range errs {
		c.failed.Add(1)

		c.mu.Lock()
		c.lastErr = err
		callback := c.onError
		c.mu.Unlock()

		if callback != nil {
			callback(err)
		}
	}
}

// Flush sends buffered points now. It is a no-op once closed.
func (c *Client) Flush() {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.Flush()
}

// Close flushes buffered points and releases the client.
//
// Returns:
//   - error: Always nil; the library's Close reports nothing
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	c.Flush()

	c.mu.Lock()
	c.open = false
	c.mu.Unlock()

	c.client.Close()
	return nil
}

// HealthCheck reports ErrNotConnected after Close, and otherwise pings the
// server within pingTimeout.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := ping(ctx, c.client); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}

// IsConnected reports whether the recorder accepts writes. It does not
// contact the server; use HealthCheck for that.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.open
}

// Stats returns a snapshot of the recorder counters.
func (c *Client) Stats() Stats {
	s := Stats{
		Written:     c.written.Load(),
		Skipped:     c.skipped.Load(),
		WriteErrors: c.failed.Load(),
	}
	c.mu.RLock()
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	c.mu.RUnlock()
	return s
}

// SetOnError sets the callback for asynchronous batch failures.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	c.onError = callback
	c.mu.Unlock()
}
