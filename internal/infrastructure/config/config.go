package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DeviceIDPlaceholder is the single token substituted in the command topic template.
const DeviceIDPlaceholder = "{deviceId}"

// Config is the root configuration structure for the bridge and the device agent.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	API        APIConfig        `yaml:"api"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Logging    LoggingConfig    `yaml:"logging"`
	Agent      AgentConfig      `yaml:"agent"`
}

// DatabaseConfig contains SQLite document store settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
	Topics    MQTTTopicsConfig    `yaml:"topics"`
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

// MQTTTopicsConfig holds the device-facing topic layout.
type MQTTTopicsConfig struct {
	// Status is the subscription pattern devices publish status reports on.
	Status string `yaml:"status"`

	// Command is the per-device command topic template. It must contain
	// exactly one {deviceId} placeholder.
	Command string `yaml:"command"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	CORS      CORSConfig       `yaml:"cors"`
	RateLimit RateLimitConfig  `yaml:"rate_limit"`
	WebSocket WebSocketConfig  `yaml:"websocket"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// RateLimitConfig bounds requests per client IP. Requests <= 0 disables it.
type RateLimitConfig struct {
	Requests int `yaml:"requests"`
	Window   int `yaml:"window"` // seconds
}

// WebSocketConfig contains settings for the live device status stream.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"` // seconds
	PongTimeout    int `yaml:"pong_timeout"`  // seconds
}

// DispatcherConfig controls the command dispatcher and its change feed.
type DispatcherConfig struct {
	// PollInterval is how often the pending-command feed is refreshed (milliseconds).
	PollInterval int `yaml:"poll_interval"`

	// MaxInFlight bounds concurrently handled command events.
	MaxInFlight int `yaml:"max_in_flight"`

	// StatusWriteAttempts is the retry budget for the terminal status write.
	StatusWriteAttempts int `yaml:"status_write_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings for status history.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// KafkaConfig contains settings for the device status event stream.
type KafkaConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers"`
	Topic        string   `yaml:"topic"`
	BatchSize    int      `yaml:"batch_size"`
	BatchTimeout int      `yaml:"batch_timeout"` // milliseconds
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// AgentConfig contains settings for the device-side agent.
type AgentConfig struct {
	DeviceID          string   `yaml:"device_id"`
	OrganizationID    string   `yaml:"organization_id"`
	HeartbeatInterval int      `yaml:"heartbeat_interval"` // seconds
	FirmwareVersion   string   `yaml:"firmware_version"`
	PlayerBinary      string   `yaml:"player_binary"`
	PlayerArgs        []string `yaml:"player_args"`

	// StatusTopic is the topic template heartbeats are published on. It must
	// contain exactly one {deviceId} placeholder.
	StatusTopic string `yaml:"status_topic"`

	// UpdateCheckURL is polled for release metadata when set.
	UpdateCheckURL      string `yaml:"update_check_url"`
	UpdateCheckInterval int    `yaml:"update_check_interval"` // seconds
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: RADIOREVIVE_SECTION_KEY
// For example: RADIOREVIVE_DATABASE_PATH, RADIOREVIVE_MQTT_HOST
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

// Default returns the built-in configuration with environment overrides applied.
// It is used when no config file is present (typical on a device).
func Default() (*Config, error) {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/radiorevive.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "radio-revive-backend",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 5,
				MaxDelay:     60,
			},
			Topics: MQTTTopicsConfig{
				Status:  "devices/+/status",
				Command: "devices/" + DeviceIDPlaceholder + "/commands",
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 4000,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			RateLimit: RateLimitConfig{
				Requests: 100,
				Window:   60,
			},
			WebSocket: WebSocketConfig{
				MaxMessageSize: 8192,
				PingInterval:   30,
				PongTimeout:    10,
			},
		},
		Dispatcher: DispatcherConfig{
			PollInterval:        1000,
			MaxInFlight:         16,
			StatusWriteAttempts: 3,
		},
		Kafka: KafkaConfig{
			Topic:        "device-status",
			BatchSize:    100,
			BatchTimeout: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Agent: AgentConfig{
			DeviceID:            "unknown-device",
			OrganizationID:      "unknown-org",
			HeartbeatInterval:   15,
			FirmwareVersion:     "1.0.0",
			PlayerBinary:        "/usr/bin/mpv",
			PlayerArgs:          []string{"--no-video", "--really-quiet"},
			StatusTopic:         "devices/" + DeviceIDPlaceholder + "/status",
			UpdateCheckInterval: 60,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("RADIOREVIVE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("RADIOREVIVE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v, err := strconv.Atoi(os.Getenv("RADIOREVIVE_MQTT_PORT")); err == nil {
		cfg.MQTT.Broker.Port = v
	}
	if v, err := strconv.ParseBool(os.Getenv("RADIOREVIVE_MQTT_TLS")); err == nil {
		cfg.MQTT.Broker.TLS = v
	}
	if v := os.Getenv("RADIOREVIVE_MQTT_CLIENT_ID"); v != "" {
		cfg.MQTT.Broker.ClientID = v
	}
	if v := os.Getenv("RADIOREVIVE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("RADIOREVIVE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("RADIOREVIVE_MQTT_STATUS_TOPIC"); v != "" {
		cfg.MQTT.Topics.Status = v
	}
	if v := os.Getenv("RADIOREVIVE_MQTT_COMMAND_TOPIC"); v != "" {
		cfg.MQTT.Topics.Command = v
	}

	// API
	if v := os.Getenv("RADIOREVIVE_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// Sinks
	if v := os.Getenv("RADIOREVIVE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("RADIOREVIVE_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}

	// Agent
	if v := os.Getenv("RADIOREVIVE_DEVICE_ID"); v != "" {
		cfg.Agent.DeviceID = v
	}
	if v := os.Getenv("RADIOREVIVE_ORGANIZATION_ID"); v != "" {
		cfg.Agent.OrganizationID = v
	}
	if v, err := strconv.Atoi(os.Getenv("RADIOREVIVE_AGENT_HEARTBEAT_INTERVAL")); err == nil {
		cfg.Agent.HeartbeatInterval = v
	}
	if v := os.Getenv("RADIOREVIVE_AGENT_PLAYER_BINARY"); v != "" {
		cfg.Agent.PlayerBinary = v
	}
	if v := os.Getenv("RADIOREVIVE_AGENT_STATUS_TOPIC"); v != "" {
		cfg.Agent.StatusTopic = v
	}
	if v := os.Getenv("RADIOREVIVE_AGENT_UPDATE_CHECK_URL"); v != "" {
		cfg.Agent.UpdateCheckURL = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Broker.ClientID == "" {
		errs = append(errs, "mqtt.broker.client_id is required")
	}
	if err := validateStatusPattern(c.MQTT.Topics.Status); err != "" {
		errs = append(errs, err)
	}
	if n := strings.Count(c.MQTT.Topics.Command, DeviceIDPlaceholder); n != 1 {
		errs = append(errs, fmt.Sprintf("mqtt.topics.command must contain exactly one %s placeholder (found %d)", DeviceIDPlaceholder, n))
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.RateLimit.Requests > 0 && c.API.RateLimit.Window < 1 {
		errs = append(errs, "api.rate_limit.window must be at least 1 second")
	}

	if c.Dispatcher.MaxInFlight < 1 {
		errs = append(errs, "dispatcher.max_in_flight must be at least 1")
	}
	if c.Dispatcher.PollInterval < 1 {
		errs = append(errs, "dispatcher.poll_interval must be positive")
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, "kafka.brokers is required when kafka is enabled")
	}
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.Agent.HeartbeatInterval < 1 {
		errs = append(errs, "agent.heartbeat_interval must be at least 1 second")
	}
	if n := strings.Count(c.Agent.StatusTopic, DeviceIDPlaceholder); n != 1 {
		errs = append(errs, fmt.Sprintf("agent.status_topic must contain exactly one %s placeholder (found %d)", DeviceIDPlaceholder, n))
	}
	if c.Agent.UpdateCheckURL != "" && c.Agent.UpdateCheckInterval < 1 {
		errs = append(errs, "agent.update_check_interval must be at least 1 second")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validateStatusPattern returns a message when the status subscription pattern is unusable.
func validateStatusPattern(pattern string) string {
	if pattern == "" {
		return "mqtt.topics.status is required"
	}
	segments := strings.Split(pattern, "/")
	for i, seg := range segments {
		if seg == "#" && i != len(segments)-1 {
			return "mqtt.topics.status: # wildcard must be the final segment"
		}
	}
	return ""
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// PollIntervalDuration returns the dispatcher feed poll interval as a Duration.
func (d DispatcherConfig) PollIntervalDuration() time.Duration {
	return time.Duration(d.PollInterval) * time.Millisecond
}

// UpdateCheckDuration returns the agent update poll interval as a Duration.
func (a AgentConfig) UpdateCheckDuration() time.Duration {
	return time.Duration(a.UpdateCheckInterval) * time.Second
}

// RateLimitWindow returns the rate limit window as a Duration.
func (r RateLimitConfig) RateLimitWindow() time.Duration {
	return time.Duration(r.Window) * time.Second
}

// HeartbeatDuration returns the agent heartbeat interval as a Duration.
func (a AgentConfig) HeartbeatDuration() time.Duration {
	return time.Duration(a.HeartbeatInterval) * time.Second
}
