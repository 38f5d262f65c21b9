package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/vineyard-core/internal/infrastructure/database"
)

// Config is the root configuration structure for the vineyard registry.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Store    StoreConfig    `yaml:"store"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Cache    CacheConfig    `yaml:"cache"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// StoreConfig selects and configures the relational store.
// It maps onto database.Config.
type StoreConfig struct {
	// Dialect is sqlite, mysql or postgres.
	Dialect string `yaml:"dialect"`

	// DSN is the connection string for mysql and postgres.
	DSN string `yaml:"dsn"`

	// Path is the SQLite database file.
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	MaxOpenConns int `yaml:"max_open_conns"`
}

// GatewayConfig contains the traffic-serving HTTP listener and dispatch
// settings.
type GatewayConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// DispatchTimeout bounds each handler call, in seconds. 0 disables it.
	DispatchTimeout int `yaml:"dispatch_timeout"`

	Timeouts GatewayTimeoutConfig `yaml:"timeouts"`

	// MetricsPath is where Prometheus metrics are served. Empty disables it.
	MetricsPath string `yaml:"metrics_path"`
}

// GatewayTimeoutConfig contains HTTP timeout settings in seconds.
type GatewayTimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CacheConfig controls the registry read cache, in seconds.
type CacheConfig struct {
	TTL             int `yaml:"ttl"`
	CleanupInterval int `yaml:"cleanup_interval"`
}

// MQTTConfig contains MQTT broker connection settings used by the
// messaging backend.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
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
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings for the metric sink.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
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
// Environment variables follow the pattern: VINEYARD_SECTION_KEY
// For example: VINEYARD_STORE_DSN, VINEYARD_GATEWAY_PORT
//
// An empty path skips the file and uses defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Dialect:     "sqlite",
			Path:        "./data/vineyard.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Gateway: GatewayConfig{
			Host:            "0.0.0.0",
			Port:            8280,
			DispatchTimeout: 10,
			Timeouts: GatewayTimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			MetricsPath: "/metrics",
		},
		Cache: CacheConfig{
			TTL:             300,
			CleanupInterval: 600,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "vineyard-gateway",
			},
			QoS:         1,
			TopicPrefix: "vineyard",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			Org:           "vineyard",
			Bucket:        "gateway",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: VINEYARD_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	// Store
	if v := os.Getenv("VINEYARD_STORE_DIALECT"); v != "" {
		cfg.Store.Dialect = v
	}
	if v := os.Getenv("VINEYARD_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("VINEYARD_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}

	// Gateway
	if v := os.Getenv("VINEYARD_GATEWAY_HOST"); v != "" {
		cfg.Gateway.Host = v
	}
	if v := os.Getenv("VINEYARD_GATEWAY_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("VINEYARD_GATEWAY_PORT: %w", err)
		}
		cfg.Gateway.Port = port
	}

	// MQTT
	if v := os.Getenv("VINEYARD_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("VINEYARD_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("VINEYARD_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("VINEYARD_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("VINEYARD_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	return nil
}

// Validate checks the configuration for errors.
//
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []string

	// Store validation
	dialect, err := database.ParseDialect(c.Store.Dialect)
	switch {
	case err != nil:
		errs = append(errs, "store.dialect: "+err.Error())
	case dialect == database.DialectSQLite:
		if c.Store.Path == "" {
			errs = append(errs, "store.path is required for sqlite")
		}
	default:
		if c.Store.DSN == "" {
			errs = append(errs, "store.dsn is required for "+dialect.String())
		}
	}
	if c.Store.MaxOpenConns < 0 {
		errs = append(errs, "store.max_open_conns must not be negative")
	}

	// Gateway validation
	if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
		errs = append(errs, "gateway.port must be between 1 and 65535")
	}
	if c.Gateway.DispatchTimeout < 0 {
		errs = append(errs, "gateway.dispatch_timeout must not be negative")
	}

	// Cache validation
	if c.Cache.TTL < 0 || c.Cache.CleanupInterval < 0 {
		errs = append(errs, "cache.ttl and cache.cleanup_interval must not be negative")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Token == "" {
			errs = append(errs, "influxdb.token is required when influxdb is enabled (set VINEYARD_INFLUXDB_TOKEN)")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the gateway read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.Gateway.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the gateway write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.Gateway.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the gateway idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.Gateway.Timeouts.Idle) * time.Second
}

// GetDispatchTimeout returns the handler call bound as a Duration.
func (c *Config) GetDispatchTimeout() time.Duration {
	return time.Duration(c.Gateway.DispatchTimeout) * time.Second
}

// GetCacheTTL returns the registry cache expiry as a Duration.
func (c *Config) GetCacheTTL() time.Duration {
	return time.Duration(c.Cache.TTL) * time.Second
}

// Database returns the store section as a database.Config.
func (c *Config) Database() database.Config {
	return database.Config{
		Dialect:      c.Store.Dialect,
		DSN:          c.Store.DSN,
		Path:         c.Store.Path,
		WALMode:      c.Store.WALMode,
		BusyTimeout:  c.Store.BusyTimeout,
		MaxOpenConns: c.Store.MaxOpenConns,
	}
}

// GetCacheCleanup returns the registry cache purge interval as a Duration.
func (c *Config) GetCacheCleanup() time.Duration {
	return time.Duration(c.Cache.CleanupInterval) * time.Second
}
