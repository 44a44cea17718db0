package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fieldforge/nvlbridge/internal/bridges/nvl"
)

// redactedPlaceholder replaces secret values in rendered configuration.
const redactedPlaceholder = "[redacted]"

// Config is the root configuration structure for the NVL bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Listener ListenerConfig `yaml:"listener"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	NVL      NVLConfig      `yaml:"nvl"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ListenerConfig contains UDP listener settings.
type ListenerConfig struct {
	// Bind is the local address to listen on.
	Bind string `yaml:"bind"`

	// Port is the UDP listen port. A schema file's port field overrides it.
	Port int `yaml:"port"`

	// ReadTimeout is the per-iteration read deadline in seconds.
	ReadTimeout int `yaml:"read_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Retain    bool                `yaml:"retain"`
	TopicBase string              `yaml:"topic_base"`
	KeepAlive int                 `yaml:"keep_alive"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
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

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// NVLConfig contains the network-variable-list schema and decode settings.
type NVLConfig struct {
	// ByteOrder is the default data-region byte order: "little" or "big".
	ByteOrder string `yaml:"byte_order"`

	// HeaderBytes is the default decode offset. Values below the fixed
	// header size are raised to it at schema compile time.
	HeaderBytes int `yaml:"header_bytes"`

	// OnChange suppresses publishing values equal to the last published
	// value for the same variable.
	OnChange bool `yaml:"on_change"`

	// EchoSubscribe subscribes to the bridge's own topic tree and logs
	// every message seen there at debug level. A debugging aid.
	EchoSubscribe bool `yaml:"echo_subscribe"`

	// InstanceID identifies this bridge process in status payloads.
	// Generated when empty.
	InstanceID string `yaml:"instance_id"`

	// HealthInterval is the period between status publishes in seconds.
	HealthInterval int `yaml:"health_interval"`

	// SchemaFile is the path to an external schema document.
	// Mutually exclusive with NVLs.
	SchemaFile string `yaml:"schema_file"`

	// NVLs is the inline message group list.
	// Mutually exclusive with SchemaFile.
	NVLs []nvl.GroupConfig `yaml:"nvls"`
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
// Environment variables follow the pattern: NVLBRIDGE_SECTION_KEY
// For example: NVLBRIDGE_MQTT_HOST, NVLBRIDGE_LISTENER_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
//
// The listener and topic defaults match the WAGO deployment this bridge
// grew out of: UDP 1202, topic base "wago/nvl".
func defaultConfig() *Config {
	return &Config{
		Listener: ListenerConfig{
			Bind:        "0.0.0.0",
			Port:        nvl.DefaultPort,
			ReadTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "nvlbridge",
			},
			QoS:       1,
			TopicBase: nvl.DefaultTopicBase,
			KeepAlive: 60,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		NVL: NVLConfig{
			ByteOrder:      nvl.ByteOrderLittle,
			HeaderBytes:    nvl.HeaderSize,
			OnChange:       true,
			HealthInterval: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: NVLBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	// Listener
	if v := os.Getenv("NVLBRIDGE_LISTENER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("NVLBRIDGE_LISTENER_PORT %q is not a number: %w", v, err)
		}
		cfg.Listener.Port = port
	}

	// MQTT
	if v := os.Getenv("NVLBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("NVLBRIDGE_MQTT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("NVLBRIDGE_MQTT_PORT %q is not a number: %w", v, err)
		}
		cfg.MQTT.Broker.Port = port
	}
	if v := os.Getenv("NVLBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("NVLBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("NVLBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("NVLBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return nil
}

// Validate checks the configuration for errors.
//
// Every violation is collected and reported in one error, so a bad
// config surfaces all its problems on the first run.
//
// Returns:
//   - error: Description of all validation failures, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Listener validation
	if c.Listener.Bind == "" {
		errs = append(errs, "listener.bind is required")
	}
	if c.Listener.Port < 1 || c.Listener.Port > 65535 {
		errs = append(errs, "listener.port must be between 1 and 65535")
	}
	if c.Listener.ReadTimeout < 1 {
		errs = append(errs, "listener.read_timeout must be at least 1 second")
	}

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.Broker.ClientID == "" {
		errs = append(errs, "mqtt.broker.client_id is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if strings.ContainsAny(c.MQTT.TopicBase, "+#") {
		errs = append(errs, "mqtt.topic_base must not contain MQTT wildcard characters")
	}
	if c.MQTT.KeepAlive < 0 {
		errs = append(errs, "mqtt.keep_alive must not be negative")
	}

	// NVL validation. The schema itself is validated separately at
	// compile time; here only the section's own fields are checked.
	switch c.NVL.ByteOrder {
	case "", nvl.ByteOrderLittle, nvl.ByteOrderBig:
	default:
		errs = append(errs, fmt.Sprintf("nvl.byte_order %q is invalid (use little or big)", c.NVL.ByteOrder))
	}
	if c.NVL.HeaderBytes < 0 {
		errs = append(errs, "nvl.header_bytes must not be negative")
	}
	if c.NVL.HealthInterval < 0 {
		errs = append(errs, "nvl.health_interval must not be negative")
	}
	if c.NVL.SchemaFile != "" && len(c.NVL.NVLs) > 0 {
		errs = append(errs, "nvl.schema_file and nvl.nvls are mutually exclusive")
	}
	if c.NVL.SchemaFile == "" && len(c.NVL.NVLs) == 0 {
		errs = append(errs, "either nvl.schema_file or nvl.nvls is required")
	}

	// InfluxDB validation (only when enabled)
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Token == "" {
			errs = append(errs, "influxdb.token is required when influxdb is enabled (set NVLBRIDGE_INFLUXDB_TOKEN environment variable)")
		}
		if c.InfluxDB.Org == "" {
			errs = append(errs, "influxdb.org is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Redacted returns a copy of the configuration with secrets masked,
// safe for logging.
func (c *Config) Redacted() Config {
	out := *c
	if out.MQTT.Auth.Password != "" {
		out.MQTT.Auth.Password = redactedPlaceholder
	}
	if out.InfluxDB.Token != "" {
		out.InfluxDB.Token = redactedPlaceholder
	}
	return out
}

// String renders the configuration as YAML with secrets masked.
func (c *Config) String() string {
	r := c.Redacted()
	data, err := yaml.Marshal(&r)
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(data)
}

// MarshalJSON renders the configuration with secrets masked, so a
// structured logger can emit the whole document safely.
func (c Config) MarshalJSON() ([]byte, error) {
	type plain Config
	r := c.Redacted()
	return json.Marshal(plain(r))
}

// GetReadTimeout returns the listener read deadline as a Duration.
func (c ListenerConfig) GetReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeout) * time.Second
}

// GetKeepAlive returns the MQTT keepalive interval as a Duration.
func (c MQTTConfig) GetKeepAlive() time.Duration {
	return time.Duration(c.KeepAlive) * time.Second
}

// GetInitialReconnectDelay returns the first reconnect delay as a Duration.
func (c MQTTConfig) GetInitialReconnectDelay() time.Duration {
	return time.Duration(c.Reconnect.InitialDelay) * time.Second
}

// GetMaxReconnectDelay returns the reconnect backoff ceiling as a Duration.
func (c MQTTConfig) GetMaxReconnectDelay() time.Duration {
	return time.Duration(c.Reconnect.MaxDelay) * time.Second
}

// GetHealthInterval returns the status publish period as a Duration.
func (c NVLConfig) GetHealthInterval() time.Duration {
	return time.Duration(c.HealthInterval) * time.Second
}

// GetFlushInterval returns the InfluxDB flush interval as a Duration.
func (c InfluxDBConfig) GetFlushInterval() time.Duration {
	return time.Duration(c.FlushInterval) * time.Second
}
