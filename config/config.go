// Package config assembles the process configuration from the environment,
// with an optional YAML file layered on top for values not worth setting
// as env vars (peer broker seed lists and similar).
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable the broker process needs at startup.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Broker     BrokerConfig     `yaml:"broker"`
	Bridge     BridgeConfig     `yaml:"bridge"`
	Timeseries TimeseriesConfig `yaml:"timeseries"`
	Storage    StorageConfig    `yaml:"storage"`
	Log        LogConfig        `yaml:"log"`
	Management ManagementConfig `yaml:"management"`
}

// ServerConfig holds listener addresses.
type ServerConfig struct {
	MQTTHost string `yaml:"mqtt_host"`
	MQTTPort int    `yaml:"mqtt_port"`
	HTTPPort int    `yaml:"http_port"`
}

// BrokerConfig holds publish pipeline tunables.
type BrokerConfig struct {
	MessageMaxLength     int           `yaml:"message_max_length"`
	PublishRateLimit     time.Duration `yaml:"publish_rate_limit"`
	MessageExpireTime    time.Duration `yaml:"message_expire_time"`
	CacheCleanupInterval time.Duration `yaml:"cache_cleanup_interval"`
}

// BridgeConfig holds federation settings.
type BridgeConfig struct {
	Enabled           bool          `yaml:"enabled"`
	BrokerID          string        `yaml:"broker_id"`
	BridgeToken       string        `yaml:"bridge_token"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	Peers             []PeerSeed    `yaml:"peers"`
}

// PeerSeed is a federation peer loaded from the YAML override file and
// upserted into the Identity Store on every start; ReloadRemotes reads
// peers from the store only, never from this list.
type PeerSeed struct {
	BrokerID string `yaml:"broker_id"`
	URL      string `yaml:"url"`
	Token    string `yaml:"token"`
}

// TimeseriesConfig holds InfluxDB connection settings.
type TimeseriesConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	RetentionDays int    `yaml:"retention_days"`
}

// StorageConfig holds the identity store's SQLite settings.
type StorageConfig struct {
	SQLitePath          string `yaml:"sqlite_path"`
	SQLiteBusyTimeoutMS int    `yaml:"sqlite_busy_timeout_ms"`
}

// LogConfig controls slog output.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// ManagementConfig holds the admin HTTP surface's settings.
type ManagementConfig struct {
	Port      int    `yaml:"port"`
	UserToken string `yaml:"user_token"` // empty means the surface is open
}

// Default returns the configuration spec.md §6 describes when no
// environment variable or override file supplies a value.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			MQTTHost: "0.0.0.0",
			MQTTPort: 1883,
			HTTPPort: 3000,
		},
		Broker: BrokerConfig{
			MessageMaxLength:     1024,
			PublishRateLimit:     1000 * time.Millisecond,
			MessageExpireTime:    120000 * time.Millisecond,
			CacheCleanupInterval: 10000 * time.Millisecond,
		},
		Bridge: BridgeConfig{
			Enabled:           false,
			ReconnectInterval: 5000 * time.Millisecond,
		},
		Timeseries: TimeseriesConfig{
			Enabled:       false,
			RetentionDays: 30,
		},
		Storage: StorageConfig{
			SQLitePath:          "./iotbroker.db",
			SQLiteBusyTimeoutMS: 5000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Management: ManagementConfig{
			Port: 3001,
		},
	}
}

// Load builds a Config starting from Default, layering in overrideFile (if
// non-empty and present) and then the environment, so env vars always win.
// overrideFile missing is not an error: it falls back to defaults plus env.
func Load(overrideFile string) (*Config, error) {
	cfg := Default()

	if overrideFile != "" {
		data, err := os.ReadFile(overrideFile)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config override: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config override: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	envString(&c.Server.MQTTHost, "MQTT_HOST")
	if err := envInt(&c.Server.MQTTPort, "MQTT_PORT"); err != nil {
		return err
	}
	if err := envInt(&c.Server.HTTPPort, "HTTP_PORT"); err != nil {
		return err
	}
	if err := envInt(&c.Management.Port, "MANAGEMENT_PORT"); err != nil {
		return err
	}

	if err := envInt(&c.Broker.MessageMaxLength, "MESSAGE_MAX_LENGTH"); err != nil {
		return err
	}
	if err := envDurationMS(&c.Broker.PublishRateLimit, "PUBLISH_RATE_LIMIT"); err != nil {
		return err
	}
	if err := envDurationMS(&c.Broker.MessageExpireTime, "MESSAGE_EXPIRE_TIME"); err != nil {
		return err
	}
	if err := envDurationMS(&c.Broker.CacheCleanupInterval, "CACHE_CLEANUP_INTERVAL"); err != nil {
		return err
	}

	if err := envBool(&c.Bridge.Enabled, "BRIDGE_ENABLED"); err != nil {
		return err
	}
	envString(&c.Bridge.BrokerID, "BROKER_ID")
	envString(&c.Bridge.BridgeToken, "BRIDGE_TOKEN")
	if err := envDurationMS(&c.Bridge.ReconnectInterval, "BRIDGE_RECONNECT_INTERVAL"); err != nil {
		return err
	}

	if err := envBool(&c.Timeseries.Enabled, "INFLUXDB_ENABLED"); err != nil {
		return err
	}
	envString(&c.Timeseries.URL, "INFLUXDB_URL")
	envString(&c.Timeseries.Token, "INFLUXDB_TOKEN")
	envString(&c.Timeseries.Org, "INFLUXDB_ORG")
	envString(&c.Timeseries.Bucket, "INFLUXDB_BUCKET")
	if err := envInt(&c.Timeseries.RetentionDays, "TIMESERIES_RETENTION_DAYS"); err != nil {
		return err
	}

	envString(&c.Storage.SQLitePath, "SQLITE_PATH")
	if err := envInt(&c.Storage.SQLiteBusyTimeoutMS, "SQLITE_BUSY_TIMEOUT_MS"); err != nil {
		return err
	}

	envString(&c.Log.Level, "LOG_LEVEL")
	envString(&c.Log.Format, "LOG_FORMAT")

	envString(&c.Management.UserToken, "USER_TOKEN")
	return nil
}

func envString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func envInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func envBool(dst *bool, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

// envDurationMS reads key as an integer count of milliseconds, matching
// spec.md §6's convention for every *_TIME/*_INTERVAL/*_LIMIT variable.
func envDurationMS(dst *time.Duration, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = time.Duration(ms) * time.Millisecond
	return nil
}

// Validate rejects configurations that would misbehave rather than fail
// fast: a listener port outside 1-65535, a non-positive message_max_length,
// a timeseries sink enabled without a bucket to write into, or an unknown
// log level or format.
func (c *Config) Validate() error {
	if c.Server.MQTTPort <= 0 || c.Server.MQTTPort > 65535 {
		return fmt.Errorf("mqtt_port out of range: %d", c.Server.MQTTPort)
	}
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("http_port out of range: %d", c.Server.HTTPPort)
	}
	if c.Management.Port <= 0 || c.Management.Port > 65535 {
		return fmt.Errorf("management_port out of range: %d", c.Management.Port)
	}
	if c.Broker.MessageMaxLength < 1 {
		return fmt.Errorf("message_max_length must be positive")
	}
	if c.Timeseries.Enabled && c.Timeseries.Bucket == "" {
		return fmt.Errorf("influxdb_bucket required when timeseries is enabled")
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log_level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log_format must be one of: text, json")
	}
	return nil
}

// MQTTAddr is the listen address for the MQTT TCP server.
func (c *Config) MQTTAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.MQTTHost, c.Server.MQTTPort)
}

// LogLevel maps Log.Level to a slog.Level, defaulting to Info on an
// unrecognized value (Validate should already have rejected those).
func (c *Config) LogLevel() slog.Level {
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
