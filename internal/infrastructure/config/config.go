package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the wash bay gateway.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Gateway  GatewayConfig  `yaml:"gateway"`
	Modbus   ModbusConfig   `yaml:"modbus"`
	Timing   TimingConfig   `yaml:"timing"`
	Commands CommandsConfig `yaml:"commands"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	API      APIConfig      `yaml:"api"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// GatewayConfig identifies this gateway and the bays it manages.
type GatewayConfig struct {
	// ID names this gateway instance on the bus (presence and health topics).
	ID string `yaml:"id"`

	// Bays is the ordered list of managed bay ids. The position of a bay in
	// this list decides its register block, so it must match the PLC layout.
	Bays []string `yaml:"bays"`
}

// ModbusConfig contains the PLC connection settings.
type ModbusConfig struct {
	// Mode is "tcp" for a real PLC or "simulator" for the in-process bench PLC.
	Mode      string `yaml:"mode"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	UnitID    int    `yaml:"unit_id"`
	TimeoutMS int    `yaml:"timeout_ms"`

	Simulator SimulatorConfig `yaml:"simulator"`
}

// SimulatorConfig tunes the in-process PLC simulator.
type SimulatorConfig struct {
	WashDurationSeconds int `yaml:"wash_duration_seconds"`
	IdleDelayMS         int `yaml:"idle_delay_ms"`
}

// TimingConfig contains the gateway loop intervals (milliseconds).
type TimingConfig struct {
	PollIntervalMS             int `yaml:"poll_interval_ms"`
	OfflineBroadcastIntervalMS int `yaml:"offline_broadcast_interval_ms"`
	HeartbeatIntervalMS        int `yaml:"heartbeat_interval_ms"`
	ReconnectInitialMS         int `yaml:"reconnect_initial_ms"`
	ReconnectMaxMS             int `yaml:"reconnect_max_ms"`
	HealthIntervalSeconds      int `yaml:"health_interval_seconds"`
}

// CommandsConfig controls inbound command intake.
type CommandsConfig struct {
	// QueueSize bounds the number of commands waiting for the gateway loop.
	QueueSize int `yaml:"queue_size"`

	// DedupeTTLSeconds is how long a requestId is remembered. 0 disables.
	DedupeTTLSeconds int `yaml:"dedupe_ttl_seconds"`

	// RatePerSecond and Burst configure the per-bay token bucket. 0 disables.
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// DatabaseConfig contains SQLite database settings.
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

// APIConfig contains the operations HTTP server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
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
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
// Rotation follows lumberjack semantics (sizes in MB, age in days).
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// MaxBays bounds gateway.bays: each bay takes a block of 10 holding
// registers and the Modbus address space is 16 bits.
const MaxBays = 6553

// Modbus connection modes.
const (
	ModbusModeTCP       = "tcp"
	ModbusModeSimulator = "simulator"
)

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults), skipped when path is empty
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern WASHGW_SECTION_KEY. The deployment
// names used by the bench setup (MQTT_BROKER, BAY_IDS, MODBUS_HOST,
// MODBUS_PORT, MODBUS_UNIT_ID) are honoured as well.
//
// Parameters:
//   - path: Path to the YAML configuration file, or "" for defaults + environment
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
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
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with the bench defaults.
func defaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			ID:   "washgw-01",
			Bays: []string{"bay1", "bay2", "bay3"},
		},
		Modbus: ModbusConfig{
			Mode:      ModbusModeTCP,
			Host:      "localhost",
			Port:      502,
			UnitID:    1,
			TimeoutMS: 2000,
			Simulator: SimulatorConfig{
				WashDurationSeconds: 10,
				IdleDelayMS:         3000,
			},
		},
		Timing: TimingConfig{
			PollIntervalMS:             1000,
			OfflineBroadcastIntervalMS: 3000,
			HeartbeatIntervalMS:        5000,
			ReconnectInitialMS:         2000,
			ReconnectMaxMS:             10000,
			HealthIntervalSeconds:      30,
		},
		Commands: CommandsConfig{
			QueueSize:        64,
			DedupeTTLSeconds: 60,
			RatePerSecond:    2,
			Burst:            4,
		},
		Database: DatabaseConfig{
			Path:        "./data/washbay.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "washbay-gateway",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: FileLoggingConfig{
				Path:       "./logs/washbay-gateway.log",
				MaxSize:    10,
				MaxBackups: 3,
				MaxAge:     7,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Malformed numeric values are reported rather than silently ignored.
func applyEnvOverrides(cfg *Config) error {
	var errs []error

	setInt := func(name string, dst *int) {
		v := os.Getenv(name)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*dst = n
	}
	setString := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	// Gateway
	setString("WASHGW_GATEWAY_ID", &cfg.Gateway.ID)
	if v := firstEnv("WASHGW_BAY_IDS", "BAY_IDS"); v != "" {
		cfg.Gateway.Bays = splitList(v)
	}

	// Modbus
	setString("WASHGW_MODBUS_MODE", &cfg.Modbus.Mode)
	setString("MODBUS_HOST", &cfg.Modbus.Host)
	setString("WASHGW_MODBUS_HOST", &cfg.Modbus.Host)
	setInt("MODBUS_PORT", &cfg.Modbus.Port)
	setInt("WASHGW_MODBUS_PORT", &cfg.Modbus.Port)
	setInt("MODBUS_UNIT_ID", &cfg.Modbus.UnitID)
	setInt("WASHGW_MODBUS_UNIT_ID", &cfg.Modbus.UnitID)
	setInt("WASHGW_MODBUS_TIMEOUT_MS", &cfg.Modbus.TimeoutMS)

	// Timing
	setInt("WASHGW_POLL_INTERVAL_MS", &cfg.Timing.PollIntervalMS)
	setInt("WASHGW_OFFLINE_BROADCAST_INTERVAL_MS", &cfg.Timing.OfflineBroadcastIntervalMS)
	setInt("WASHGW_HEARTBEAT_INTERVAL_MS", &cfg.Timing.HeartbeatIntervalMS)

	// Database
	setString("WASHGW_DATABASE_PATH", &cfg.Database.Path)

	// MQTT
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		if err := applyBrokerURL(&cfg.MQTT.Broker, v); err != nil {
			errs = append(errs, fmt.Errorf("MQTT_BROKER: %w", err))
		}
	}
	setString("WASHGW_MQTT_HOST", &cfg.MQTT.Broker.Host)
	setInt("WASHGW_MQTT_PORT", &cfg.MQTT.Broker.Port)
	setString("WASHGW_MQTT_USERNAME", &cfg.MQTT.Auth.Username)
	setString("WASHGW_MQTT_PASSWORD", &cfg.MQTT.Auth.Password)

	// API
	setString("WASHGW_API_HOST", &cfg.API.Host)
	setInt("WASHGW_API_PORT", &cfg.API.Port)

	// InfluxDB
	setString("WASHGW_INFLUXDB_TOKEN", &cfg.InfluxDB.Token)

	// Logging
	setString("WASHGW_LOG_LEVEL", &cfg.Logging.Level)

	return errors.Join(errs...)
}

// applyBrokerURL splits a broker URL such as mqtt://host:1883 into the
// broker section. Schemes mqtts and ssl enable TLS.
func applyBrokerURL(b *MQTTBrokerConfig, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Hostname() == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	b.Host = u.Hostname()
	switch u.Scheme {
	case "mqtts", "ssl", "tls":
		b.TLS = true
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return err
		}
		b.Port = port
	}
	return nil
}

// firstEnv returns the first non-empty value among the named variables.
func firstEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

// splitList splits a comma separated list, trimming blanks.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Gateway validation
	if c.Gateway.ID == "" {
		errs = append(errs, "gateway.id is required")
	}
	if len(c.Gateway.Bays) == 0 {
		errs = append(errs, "gateway.bays must list at least one bay")
	}
	if len(c.Gateway.Bays) > MaxBays {
		errs = append(errs, fmt.Sprintf("gateway.bays lists %d bays, at most %d fit the register space", len(c.Gateway.Bays), MaxBays))
	}
	seen := make(map[string]bool, len(c.Gateway.Bays))
	for _, id := range c.Gateway.Bays {
		switch {
		case id == "":
			errs = append(errs, "gateway.bays contains an empty id")
		case strings.ContainsAny(id, "/+#"):
			errs = append(errs, fmt.Sprintf("gateway.bays: %q contains an MQTT topic character", id))
		case seen[id]:
			errs = append(errs, fmt.Sprintf("gateway.bays: duplicate id %q", id))
		}
		seen[id] = true
	}

	// Modbus validation
	switch c.Modbus.Mode {
	case ModbusModeTCP:
		if c.Modbus.Host == "" {
			errs = append(errs, "modbus.host is required in tcp mode")
		}
		if c.Modbus.Port < 1 || c.Modbus.Port > 65535 {
			errs = append(errs, "modbus.port must be between 1 and 65535")
		}
	case ModbusModeSimulator:
	default:
		errs = append(errs, fmt.Sprintf("modbus.mode must be %q or %q", ModbusModeTCP, ModbusModeSimulator))
	}
	if c.Modbus.UnitID < 0 || c.Modbus.UnitID > 255 {
		errs = append(errs, "modbus.unit_id must be between 0 and 255")
	}
	if c.Modbus.TimeoutMS <= 0 {
		errs = append(errs, "modbus.timeout_ms must be positive")
	}

	// Timing validation
	if c.Timing.PollIntervalMS <= 0 {
		errs = append(errs, "timing.poll_interval_ms must be positive")
	}
	if c.Timing.OfflineBroadcastIntervalMS <= 0 {
		errs = append(errs, "timing.offline_broadcast_interval_ms must be positive")
	}
	if c.Timing.HeartbeatIntervalMS <= 0 {
		errs = append(errs, "timing.heartbeat_interval_ms must be positive")
	}
	if c.Timing.ReconnectInitialMS <= 0 || c.Timing.ReconnectMaxMS < c.Timing.ReconnectInitialMS {
		errs = append(errs, "timing.reconnect_initial_ms must be positive and not above reconnect_max_ms")
	}

	// Commands validation
	if c.Commands.QueueSize <= 0 {
		errs = append(errs, "commands.queue_size must be positive")
	}
	if c.Commands.RatePerSecond < 0 || c.Commands.Burst < 0 {
		errs = append(errs, "commands.rate_per_second and commands.burst must not be negative")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Logging validation
	if strings.EqualFold(c.Logging.Output, "file") && c.Logging.File.Path == "" {
		errs = append(errs, "logging.file.path is required when logging.output is file")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// PollInterval returns the poll interval as a Duration.
func (t TimingConfig) PollInterval() time.Duration {
	return time.Duration(t.PollIntervalMS) * time.Millisecond
}

// OfflineBroadcastInterval returns the offline broadcast interval as a Duration.
func (t TimingConfig) OfflineBroadcastInterval() time.Duration {
	return time.Duration(t.OfflineBroadcastIntervalMS) * time.Millisecond
}

// HeartbeatInterval returns the status heartbeat interval as a Duration.
func (t TimingConfig) HeartbeatInterval() time.Duration {
	return time.Duration(t.HeartbeatIntervalMS) * time.Millisecond
}

// ReconnectInitial returns the backoff floor as a Duration.
func (t TimingConfig) ReconnectInitial() time.Duration {
	return time.Duration(t.ReconnectInitialMS) * time.Millisecond
}

// ReconnectMax returns the backoff cap as a Duration.
func (t TimingConfig) ReconnectMax() time.Duration {
	return time.Duration(t.ReconnectMaxMS) * time.Millisecond
}

// HealthInterval returns the health report interval as a Duration.
func (t TimingConfig) HealthInterval() time.Duration {
	return time.Duration(t.HealthIntervalSeconds) * time.Second
}

// Timeout returns the Modbus request timeout as a Duration.
func (m ModbusConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutMS) * time.Millisecond
}

// Address returns the host:port of the PLC.
func (m ModbusConfig) Address() string {
	return fmt.Sprintf("%s:%d", m.Host, m.Port)
}

// ReadTimeout returns the API read timeout as a Duration.
func (a APIConfig) ReadTimeout() time.Duration {
	return time.Duration(a.Timeouts.Read) * time.Second
}

// WriteTimeout returns the API write timeout as a Duration.
func (a APIConfig) WriteTimeout() time.Duration {
	return time.Duration(a.Timeouts.Write) * time.Second
}

// IdleTimeout returns the API idle timeout as a Duration.
func (a APIConfig) IdleTimeout() time.Duration {
	return time.Duration(a.Timeouts.Idle) * time.Second
}
