package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// envPrefix is the prefix of every environment override.
const envPrefix = "STREAMLINK_"

// Config is the root configuration structure for streamlink.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Server        ServerConfig         `yaml:"server"`
	Realtime      RealtimeConfig       `yaml:"realtime"`
	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`
	Database      DatabaseConfig       `yaml:"database"`
	Spool         SpoolConfig          `yaml:"spool"`
	MQTT          MQTTConfig           `yaml:"mqtt"`
	InfluxDB      InfluxDBConfig       `yaml:"influxdb"`
	API           APIConfig            `yaml:"api"`
	Logging       LoggingConfig        `yaml:"logging"`
}

// ServerConfig identifies the stream service and the credentials used
// for the websocket handshake.
type ServerConfig struct {
	// URL is the REST base URL, e.g. "https://cdb.example.com/api/v1/".
	// The websocket address is derived from it.
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// RealtimeConfig contains websocket connection settings. Durations are in seconds.
type RealtimeConfig struct {
	ConnectTimeout int `yaml:"connect_timeout"`
	WriteTimeout   int `yaml:"write_timeout"`

	// PingInterval enables keepalive pings when non-zero. A connection with
	// no pong within PongTimeout after a ping is treated as dropped.
	PingInterval int `yaml:"ping_interval"`
	PongTimeout  int `yaml:"pong_timeout"`

	MaxMessageSize int `yaml:"max_message_size"`
}

// SubscriptionConfig declares a topic subscribed at startup and what is
// done with its events.
type SubscriptionConfig struct {
	Topic string `yaml:"topic"`

	// RelayMQTT republishes events on the MQTT bus.
	RelayMQTT bool `yaml:"relay_mqtt"`

	// Record writes numeric and boolean datapoints to InfluxDB.
	Record bool `yaml:"record"`

	// Acknowledge echoes downlink data back into the target stream.
	// Only meaningful for user/device/stream/downlink topics.
	Acknowledge bool `yaml:"acknowledge"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// SpoolConfig controls the local insert spool.
type SpoolConfig struct {
	Enabled       bool `yaml:"enabled"`
	FlushInterval int  `yaml:"flush_interval"` // seconds
	BatchSize     int  `yaml:"batch_size"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`

	// StatsInterval is how often relay counters are published retained on
	// {prefix}/stats, in seconds. Zero disables it.
	StatsInterval int `yaml:"stats_interval"`
}

// StatsPeriod returns StatsInterval as a Duration.
func (c MQTTConfig) StatsPeriod() time.Duration {
	return time.Duration(c.StatsInterval) * time.Second
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains local control API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: STREAMLINK_SECTION_KEY
// For example: STREAMLINK_SERVER_URL, STREAMLINK_API_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			URL: "https://cdb.example.com/api/v1/",
		},
		Realtime: RealtimeConfig{
			ConnectTimeout: 10,
			WriteTimeout:   5,
			PingInterval:   30,
			PongTimeout:    10,
			MaxMessageSize: 1 << 20,
		},
		Database: DatabaseConfig{
			Path:        "./data/streamlink.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Spool: SpoolConfig{
			Enabled:       true,
			FlushInterval: 30,
			BatchSize:     100,
		},
		MQTT: MQTTConfig{
			TopicPrefix: "streamlink",
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "streamlink",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			StatsInterval: 60,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8081,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: STREAMLINK_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	// Server - credentials belong in the environment rather than the file
	if v := os.Getenv(envPrefix + "SERVER_URL"); v != "" {
		cfg.Server.URL = v
	}
	if v := os.Getenv(envPrefix + "USERNAME"); v != "" {
		cfg.Server.Username = v
	}
	if v := os.Getenv(envPrefix + "PASSWORD"); v != "" {
		cfg.Server.Password = v
	}

	// Database
	if v := os.Getenv(envPrefix + "DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv(envPrefix + "MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv(envPrefix + "MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv(envPrefix + "MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv(envPrefix + "INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// API
	if v := os.Getenv(envPrefix + "API_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sAPI_PORT: %w", envPrefix, err)
		}
		cfg.API.Port = port
	}

	return nil
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Server validation
	if c.Server.URL == "" {
		errs = append(errs, "server.url is required")
	} else if u, err := url.Parse(c.Server.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, "server.url must be an http:// or https:// URL")
	}

	// Realtime validation
	if c.Realtime.ConnectTimeout < 0 || c.Realtime.WriteTimeout < 0 ||
		c.Realtime.PingInterval < 0 || c.Realtime.PongTimeout < 0 {
		errs = append(errs, "realtime timeouts cannot be negative")
	}

	// Subscription validation
	seen := make(map[string]bool, len(c.Subscriptions))
	for i, sub := range c.Subscriptions {
		switch {
		case sub.Topic == "":
			errs = append(errs, fmt.Sprintf("subscriptions[%d].topic is required", i))
		case seen[sub.Topic]:
			errs = append(errs, fmt.Sprintf("subscriptions[%d].topic %q is duplicated", i, sub.Topic))
		}
		seen[sub.Topic] = true

		if sub.Acknowledge && !strings.HasSuffix(sub.Topic, "/downlink") {
			errs = append(errs, fmt.Sprintf("subscriptions[%d]: acknowledge requires a downlink topic", i))
		}
		if sub.RelayMQTT && !c.MQTT.Enabled {
			errs = append(errs, fmt.Sprintf("subscriptions[%d]: relay_mqtt requires mqtt.enabled", i))
		}
		if sub.Record && !c.InfluxDB.Enabled {
			errs = append(errs, fmt.Sprintf("subscriptions[%d]: record requires influxdb.enabled", i))
		}
	}

	// Spool validation
	if c.Spool.Enabled {
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required when the spool is enabled")
		}
		if c.Spool.BatchSize < 1 {
			errs = append(errs, "spool.batch_size must be at least 1")
		}
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.StatsInterval < 0 {
		errs = append(errs, "mqtt.stats_interval cannot be negative")
	}
	if c.MQTT.Enabled && c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required when mqtt is enabled")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ReadDuration returns the API read timeout as a Duration.
func (t APITimeoutConfig) ReadDuration() time.Duration {
	return time.Duration(t.Read) * time.Second
}

// WriteDuration returns the API write timeout as a Duration.
func (t APITimeoutConfig) WriteDuration() time.Duration {
	return time.Duration(t.Write) * time.Second
}

// IdleDuration returns the API idle timeout as a Duration.
func (t APITimeoutConfig) IdleDuration() time.Duration {
	return time.Duration(t.Idle) * time.Second
}

// GetFlushInterval returns the spool flush interval as a Duration.
// Zero disables periodic flushing.
func (c *Config) GetFlushInterval() time.Duration {
	return time.Duration(c.Spool.FlushInterval) * time.Second
}
