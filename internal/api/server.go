package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/streamlink/internal/infrastructure/config"
	"github.com/nerrad567/streamlink/internal/infrastructure/influxdb"
	"github.com/nerrad567/streamlink/internal/infrastructure/logging"
	"github.com/nerrad567/streamlink/internal/realtime"
	"github.com/nerrad567/streamlink/internal/relay"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Stream is the realtime client as seen by the API. *realtime.Client satisfies it.
type Stream interface {
	State() realtime.State
	Subscriptions() []string
	Unsubscribe(topic string) error
}

// SpoolCounter reports the spool depth. *spool.Spool satisfies it.
type SpoolCounter interface {
	Len(ctx context.Context) (int, error)
}

// Broker reports the MQTT connection. *mqtt.Client satisfies it.
type Broker interface {
	IsConnected() bool
	SubscriptionCount() int
}

// Recorder reports the InfluxDB recorder. *influxdb.Client satisfies it.
type Recorder interface {
	IsConnected() bool
	Stats() influxdb.Stats
}

// DBStatser exposes connection pool statistics. *database.DB satisfies it.
type DBStatser interface {
	Stats() sql.DBStats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Logger   *logging.Logger
	Stream   Stream
	Relay    *relay.Relay
	Spool    SpoolCounter // optional
	MQTT     Broker       // optional
	InfluxDB Recorder     // optional
	DB       DBStatser    // optional
	Version  string
}

// Server is the HTTP control API server.
//
// It manages the HTTP listener, routes and middleware.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	stream    Stream
	relay     *relay.Relay
	spool     SpoolCounter
	mqtt      Broker
	influx    Recorder
	db        DBStatser
	version   string
	startTime time.Time
	server    *http.Server
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Stream == nil {
		return nil, fmt.Errorf("realtime stream is required")
	}
	if deps.Relay == nil {
		return nil, fmt.Errorf("relay is required")
	}

	return &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		stream:    deps.Stream,
		relay:     deps.Relay,
		spool:     deps.Spool,
		mqtt:      deps.MQTT,
		influx:    deps.InfluxDB,
		db:        deps.DB,
		version:   deps.Version,
		startTime: time.Now(),
	}, nil
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
//
// Returns:
//   - error: Always nil; listener errors are logged
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.Timeouts.ReadDuration(),
		ReadHeaderTimeout: s.cfg.Timeouts.ReadDuration(),
		WriteTimeout:      s.cfg.Timeouts.WriteDuration(),
		IdleTimeout:       s.cfg.Timeouts.IdleDuration(),
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
