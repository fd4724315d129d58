// streamlink - realtime datapoint stream agent
//
// This is the main entry point for the streamlink agent. It keeps one
// websocket connection to a stream service and bridges it to:
//   - a local MQTT bus (republish stream events, insert from MQTT)
//   - InfluxDB (record numeric and boolean datapoints)
//   - a durable SQLite spool for inserts made while offline
//   - a local HTTP control API
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/streamlink/internal/api"
	"github.com/nerrad567/streamlink/internal/infrastructure/config"
	"github.com/nerrad567/streamlink/internal/infrastructure/database"
	"github.com/nerrad567/streamlink/internal/infrastructure/influxdb"
	"github.com/nerrad567/streamlink/internal/infrastructure/logging"
	"github.com/nerrad567/streamlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/streamlink/internal/realtime"
	"github.com/nerrad567/streamlink/internal/relay"
	"github.com/nerrad567/streamlink/internal/spool"
	"github.com/nerrad567/streamlink/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting streamlink",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database and spool
	var (
		db *database.DB
		sp *spool.Spool
	)
	if cfg.Spool.Enabled {
		db, err = database.Open(cfg.Database)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		log.Info("database connected", "path", cfg.Database.Path)

		applied, migrateErr := db.Migrate(ctx, migrations.FS)
		if migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database migrations complete", "applied", applied)

		sp = spool.New(db, cfg.Spool.BatchSize)
		sp.SetLogger(log.Component("spool"))
	} else {
		log.Info("insert spool disabled")
	}

	// Realtime stream client
	stream := realtime.New(
		realtime.WebsocketURL(cfg.Server.URL),
		realtime.BasicAuthHeader(cfg.Server.Username, cfg.Server.Password),
		cfg.Realtime,
	)
	stream.SetLogger(log.Component("realtime"))
	stream.SetOnConnect(func() {
		if sp == nil {
			return
		}
		if _, flushErr := sp.Flush(ctx, stream); flushErr != nil && ctx.Err() == nil {
			log.Warn("spool flush after connect failed", "error", flushErr)
		}
	})
	stream.SetOnDisconnect(func(err error) {
		log.Warn("realtime connection lost", "error", err)
	})

	if err := connectStream(ctx, stream, log); err != nil {
		return fmt.Errorf("connecting to stream service: %w", err)
	}
	defer func() {
		log.Info("disconnecting from stream service")
		stream.Disconnect()
	}()

	relayDeps := relay.Deps{
		Stream: stream,
		Logger: log.Component("relay"),
	}
	if sp != nil {
		relayDeps.Spool = sp
	}

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", mqttClient.ClientID(),
		)

		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		relayDeps.Publisher = mqttClient
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		relayDeps.Recorder = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, db, stream, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	rl, err := relay.New(relayDeps)
	if err != nil {
		return fmt.Errorf("creating relay: %w", err)
	}
	if applyErr := rl.Apply(cfg.Subscriptions); applyErr != nil {
		log.Warn("some subscriptions failed", "error", applyErr)
	}
	if mqttClient != nil {
		if listenErr := rl.ListenMQTT(); listenErr != nil {
			return fmt.Errorf("listening for MQTT inserts: %w", listenErr)
		}
		defer func() {
			if stopErr := rl.StopMQTT(); stopErr != nil {
				log.Warn("error stopping MQTT inserts", "error", stopErr)
			}
		}()
		log.Info("MQTT inserts enabled", "topic", mqttClient.Topics().AllInserts())

		go rl.ReportStats(ctx, cfg.MQTT.StatsPeriod())
	}

	if sp != nil {
		go sp.Run(ctx, stream, cfg.GetFlushInterval())
	}

	// Local control API
	if cfg.API.Enabled {
		apiDeps := api.Deps{
			Config:  cfg.API,
			Logger:  log.Component("api"),
			Stream:  stream,
			Relay:   rl,
			Version: version,
		}
		if sp != nil {
			apiDeps.Spool = sp
			apiDeps.DB = db
		}
		if mqttClient != nil {
			apiDeps.MQTT = mqttClient
		}
		if influxClient != nil {
			apiDeps.InfluxDB = influxClient
		}

		apiServer, apiErr := api.New(apiDeps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	log.Info("streamlink stopped")
	return nil
}

// getConfigPath returns the config file path from STREAMLINK_CONFIG or the default.
func getConfigPath() string {
	if path := os.Getenv("STREAMLINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// connectStream opens the realtime connection, retrying with the client's
// backoff until it succeeds or ctx is done. The client itself never retries
// a failed first connect.
func connectStream(ctx context.Context, stream *realtime.Client, log *logging.Logger) error {
	backoff := realtime.NewBackoff()
	for {
		err := stream.Connect(ctx)
		if err == nil {
			log.Info("stream service connected", "url", stream.URL())
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, websocket.ErrBadHandshake) {
			// Rejected credentials will not fix themselves.
			return err
		}

		delay := backoff.Next()
		log.Warn("stream service unavailable, retrying",
			"error", err,
			"retry_in", delay.Round(time.Millisecond),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// healthCheck verifies every started component.
func healthCheck(ctx context.Context, db *database.DB, stream *realtime.Client, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if err := stream.HealthCheck(ctx); err != nil {
		return fmt.Errorf("realtime: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
