package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for shellyflux.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Poller    PollerConfig    `yaml:"poller"`
	Buffer    BufferConfig    `yaml:"buffer"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Database  DatabaseConfig  `yaml:"database"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// PollerConfig contains per-device polling settings.
type PollerConfig struct {
	// BaseInterval is the polling interval in seconds while a device is healthy.
	BaseInterval int `yaml:"base_interval"`

	// ProbeTimeout is the per-probe HTTP timeout in seconds.
	ProbeTimeout int `yaml:"probe_timeout"`

	// FailureThreshold is the number of consecutive probe failures before
	// a device is marked unreachable.
	FailureThreshold int `yaml:"failure_threshold"`

	// BackoffCeiling caps the failure backoff at BaseInterval * BackoffCeiling.
	BackoffCeiling int `yaml:"backoff_ceiling"`

	// JitterPercent is the +/- percentage of the interval applied as jitter.
	JitterPercent int `yaml:"jitter_percent"`
}

// BufferConfig contains write-buffer settings.
type BufferConfig struct {
	// Capacity is the maximum number of queued metric points. When the queue
	// is full the oldest point is evicted, never the newest.
	Capacity int `yaml:"capacity"`

	// FlushInterval is the maximum time in seconds between flushes.
	FlushInterval int `yaml:"flush_interval"`

	// FlushSize triggers a flush when the queued point count reaches it.
	FlushSize int `yaml:"flush_size"`

	// MaxWriteAttempts is the total number of delivery attempts per batch
	// before the batch is dropped.
	MaxWriteAttempts int `yaml:"max_write_attempts"`

	// RetryBackoff is the initial retry delay in seconds after a transient
	// sink failure. Doubled per attempt.
	RetryBackoff int `yaml:"retry_backoff"`
}

// DiscoveryConfig contains device discovery settings.
type DiscoveryConfig struct {
	// Addresses is a static list of device addresses (host or host:port).
	Addresses []string `yaml:"addresses"`

	// Scan configures optional periodic nmap-based network discovery.
	Scan ScanConfig `yaml:"scan"`
}

// ScanConfig contains nmap scan settings.
type ScanConfig struct {
	Enabled bool `yaml:"enabled"`

	// Network is the CIDR range to scan (e.g., "192.168.1.0/24").
	Network string `yaml:"network"`

	// Interval is the rescan interval in seconds. 0 scans once at startup.
	Interval int `yaml:"interval"`

	// NmapBinary is the path to the nmap executable.
	NmapBinary string `yaml:"nmap_binary"`
}

// DatabaseConfig contains SQLite database settings for registry persistence.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB sink settings.
type InfluxDBConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`

	// WriteTimeout is the per-batch write timeout in seconds.
	WriteTimeout int `yaml:"write_timeout"`
}

// MQTTConfig contains MQTT broker settings for the health reporter.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// ReportInterval is how often health status is published, in seconds.
	ReportInterval int `yaml:"report_interval"`
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

// MQTTReconnectConfig contains MQTT reconnection backoff settings.
// Reconnection retries forever; only the delay bounds are tunable.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains the read-only status HTTP API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
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
// Environment variables follow the pattern: SHELLYFLUX_SECTION_KEY
// For example: SHELLYFLUX_DATABASE_PATH, SHELLYFLUX_INFLUXDB_TOKEN
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

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Poller: PollerConfig{
			BaseInterval:     60,
			ProbeTimeout:     5,
			FailureThreshold: 5,
			BackoffCeiling:   10,
			JitterPercent:    15,
		},
		Buffer: BufferConfig{
			Capacity:         10000,
			FlushInterval:    10,
			FlushSize:        500,
			MaxWriteAttempts: 5,
			RetryBackoff:     1,
		},
		Discovery: DiscoveryConfig{
			Scan: ScanConfig{
				Network:    "192.168.1.0/24",
				NmapBinary: "nmap",
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/shellyflux.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		InfluxDB: InfluxDBConfig{
			Enabled:      true,
			URL:          "http://localhost:8086",
			Bucket:       "shelly_data",
			WriteTimeout: 10,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "shellyflux",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			ReportInterval: 30,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8087,
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
// Environment variables follow the pattern: SHELLYFLUX_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("SHELLYFLUX_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB - the token should come from the environment in production
	if v := os.Getenv("SHELLYFLUX_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("SHELLYFLUX_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// MQTT
	if v := os.Getenv("SHELLYFLUX_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SHELLYFLUX_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SHELLYFLUX_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("SHELLYFLUX_API_HOST"); v != "" {
		cfg.API.Host = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Poller.BaseInterval <= 0 {
		errs = append(errs, "poller.base_interval must be positive")
	}
	if c.Poller.ProbeTimeout <= 0 {
		errs = append(errs, "poller.probe_timeout must be positive")
	}
	if c.Poller.FailureThreshold < 1 {
		errs = append(errs, "poller.failure_threshold must be at least 1")
	}
	if c.Poller.BackoffCeiling < 1 {
		errs = append(errs, "poller.backoff_ceiling must be at least 1")
	}

	if c.Buffer.Capacity <= 0 {
		errs = append(errs, "buffer.capacity must be positive")
	}
	if c.Buffer.FlushInterval <= 0 {
		errs = append(errs, "buffer.flush_interval must be positive")
	}
	if c.Buffer.FlushSize <= 0 || c.Buffer.FlushSize > c.Buffer.Capacity {
		errs = append(errs, "buffer.flush_size must be positive and no larger than buffer.capacity")
	}
	if c.Buffer.MaxWriteAttempts < 1 {
		errs = append(errs, "buffer.max_write_attempts must be at least 1")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	if c.MQTT.Enabled {
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
		}
	}

	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}
	}

	if len(c.Discovery.Addresses) == 0 && !c.Discovery.Scan.Enabled {
		errs = append(errs, "discovery requires at least one static address or an enabled scan")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetBaseInterval returns the base poll interval as a Duration.
func (c *Config) GetBaseInterval() time.Duration {
	return time.Duration(c.Poller.BaseInterval) * time.Second
}

// GetProbeTimeout returns the probe timeout as a Duration.
func (c *Config) GetProbeTimeout() time.Duration {
	return time.Duration(c.Poller.ProbeTimeout) * time.Second
}

// GetFlushInterval returns the buffer flush interval as a Duration.
func (c *Config) GetFlushInterval() time.Duration {
	return time.Duration(c.Buffer.FlushInterval) * time.Second
}

// GetRetryBackoff returns the initial sink retry backoff as a Duration.
func (c *Config) GetRetryBackoff() time.Duration {
	return time.Duration(c.Buffer.RetryBackoff) * time.Second
}

// GetWriteTimeout returns the sink write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.InfluxDB.WriteTimeout) * time.Second
}

// GetScanInterval returns the discovery rescan interval as a Duration.
func (c *Config) GetScanInterval() time.Duration {
	return time.Duration(c.Discovery.Scan.Interval) * time.Second
}

// GetReportInterval returns the MQTT health report interval as a Duration.
func (c *Config) GetReportInterval() time.Duration {
	return time.Duration(c.MQTT.ReportInterval) * time.Second
}
