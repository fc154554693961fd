package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Role selects which side of the radio link this process runs.
type Role string

// CollectorKind selects how a satellite reads its sensors.
type CollectorKind string

const (
	RoleGateway   Role = "gateway"
	RoleSatellite Role = "satellite"

	CollectorSimulated CollectorKind = "simulated"
	CollectorCommand   CollectorKind = "command"

	DefaultSerialBaud        = 115200
	DefaultGatewayAddress    = 1
	DefaultAvailabilityTopic = "weather/gateway/availability"

	EnvBrokerPassword = "BERRY_BROKER_PASSWORD"
	EnvInfluxToken    = "BERRY_INFLUX_TOKEN"
	EnvSerialPort     = "BERRY_SERIAL_PORT"
)

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level     string `json:"level"`
	Format    string `json:"format"`
	LogToFile bool   `json:"log_to_file"`
}

// RadioConfig describes the local RYLR module and how it is attached.
type RadioConfig struct {
	SerialPort       string `json:"serial_port"`
	SerialBaud       int    `json:"serial_baud"`
	Address          uint16 `json:"address"`
	NetworkID        int    `json:"network_id"`
	Band             int64  `json:"band"`
	Parameters       string `json:"parameters"`
	CommandTimeoutMS int    `json:"command_timeout_ms"`
	ConnectAttempts  int    `json:"connect_attempts"`
}

// HandshakeConfig tunes the boot liveness exchange.
type HandshakeConfig struct {
	Enabled          bool `json:"enabled"`
	MaxAttempts      int  `json:"max_attempts"`
	AttemptTimeoutMS int  `json:"attempt_timeout_ms"`
	GraceDelayMS     int  `json:"grace_delay_ms"`
}

// DeliveryConfig tunes acknowledged telemetry delivery.
type DeliveryConfig struct {
	MaxAttempts      int `json:"max_attempts"`
	AttemptTimeoutMS int `json:"attempt_timeout_ms"`
}

type CollectorConfig struct {
	Kind      CollectorKind `json:"kind"`
	Command   []string      `json:"command"`
	TimeoutMS int           `json:"timeout_ms"`
	Seed      int64         `json:"seed"`
}

type SatelliteConfig struct {
	GatewayAddress uint16          `json:"gateway_address"`
	IntervalMS     int             `json:"interval_ms"`
	RunOnce        bool            `json:"run_once"`
	Collector      CollectorConfig `json:"collector"`
}

type KnownSatelliteConfig struct {
	Address  uint16 `json:"address"`
	DeviceID string `json:"device_id"`
	Name     string `json:"name"`
}

type GatewayConfig struct {
	KnownSatellites []KnownSatelliteConfig `json:"known_satellites"`
	StatePrefix     string                 `json:"state_prefix"`
	DiscoveryPrefix string                 `json:"discovery_prefix"`
	ExtendedSensors bool                   `json:"extended_sensors"`
	ListenWindowMS  int                    `json:"listen_window_ms"`
}

type BrokerConfig struct {
	URL               string `json:"url"`
	Username          string `json:"username"`
	Password          string `json:"password"`
	ClientID          string `json:"client_id"`
	AvailabilityTopic string `json:"availability_topic"`
	ConnectRetries    int    `json:"connect_retries"`
	PublishTimeoutMS  int    `json:"publish_timeout_ms"`
	BreakerFailures   int    `json:"breaker_failures"`
	BreakerOpenMS     int    `json:"breaker_open_ms"`
}

// HistoryConfig enables the optional InfluxDB writer when URL is set.
type HistoryConfig struct {
	InfluxURL   string `json:"influx_url"`
	InfluxToken string `json:"influx_token"`
	Org         string `json:"org"`
	Bucket      string `json:"bucket"`
	Measurement string `json:"measurement"`
}

func (h HistoryConfig) Enabled() bool {
	return strings.TrimSpace(h.InfluxURL) != ""
}

type StorageConfig struct {
	Enabled       bool `json:"enabled"`
	RetentionDays int  `json:"retention_days"`
}

// MetricsConfig enables the Prometheus/health listener when ListenAddr is set.
type MetricsConfig struct {
	ListenAddr string `json:"listen_addr"`
}

// AppConfig is the root persisted application configuration.
type AppConfig struct {
	Role      Role            `json:"role"`
	Radio     RadioConfig     `json:"radio"`
	Handshake HandshakeConfig `json:"handshake"`
	Delivery  DeliveryConfig  `json:"delivery"`
	Satellite SatelliteConfig `json:"satellite"`
	Gateway   GatewayConfig   `json:"gateway"`
	Broker    BrokerConfig    `json:"broker"`
	History   HistoryConfig   `json:"history"`
	Storage   StorageConfig   `json:"storage"`
	Metrics   MetricsConfig   `json:"metrics"`
	Logging   LoggingConfig   `json:"logging"`
}

func Default() AppConfig {
	return AppConfig{
		Role: RoleGateway,
		Radio: RadioConfig{
			SerialPort:       "",
			SerialBaud:       DefaultSerialBaud,
			Address:          DefaultGatewayAddress,
			CommandTimeoutMS: 1000,
			ConnectAttempts:  5,
		},
		Handshake: HandshakeConfig{
			Enabled:          true,
			MaxAttempts:      20,
			AttemptTimeoutMS: 3000,
			GraceDelayMS:     500,
		},
		Delivery: DeliveryConfig{
			MaxAttempts:      25,
			AttemptTimeoutMS: 6000,
		},
		Satellite: SatelliteConfig{
			GatewayAddress: DefaultGatewayAddress,
			IntervalMS:     10 * 60 * 1000,
			Collector: CollectorConfig{
				Kind:      CollectorSimulated,
				TimeoutMS: 30000,
				Seed:      1,
			},
		},
		Gateway: GatewayConfig{
			StatePrefix:     "weather",
			DiscoveryPrefix: "homeassistant",
			ListenWindowMS:  5000,
		},
		Broker: BrokerConfig{
			URL:               "tcp://127.0.0.1:1883",
			AvailabilityTopic: DefaultAvailabilityTopic,
			ConnectRetries:    5,
			PublishTimeoutMS:  5000,
			BreakerFailures:   5,
			BreakerOpenMS:     30000,
		},
		History: HistoryConfig{
			Measurement: "weather",
		},
		Storage: StorageConfig{
			Enabled:       true,
			RetentionDays: 30,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Format:    "text",
			LogToFile: false,
		},
	}
}

func Load(path string) (AppConfig, error) {
	cfg := Default()
	cleanPath := filepath.Clean(path)
	// #nosec G304 -- path comes from the command line or the resolved config dir.
	raw, err := os.ReadFile(cleanPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}

		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config json: %w", err)
	}

	cfg.FillMissingDefaults()

	return cfg, nil
}

func (c *AppConfig) FillMissingDefaults() {
	d := Default()
	if c.Role == "" {
		c.Role = d.Role
	}
	if c.Radio.SerialBaud <= 0 {
		c.Radio.SerialBaud = d.Radio.SerialBaud
	}
	if c.Radio.CommandTimeoutMS <= 0 {
		c.Radio.CommandTimeoutMS = d.Radio.CommandTimeoutMS
	}
	if c.Radio.ConnectAttempts <= 0 {
		c.Radio.ConnectAttempts = d.Radio.ConnectAttempts
	}
	if c.Handshake.MaxAttempts <= 0 {
		c.Handshake.MaxAttempts = d.Handshake.MaxAttempts
	}
	if c.Handshake.AttemptTimeoutMS <= 0 {
		c.Handshake.AttemptTimeoutMS = d.Handshake.AttemptTimeoutMS
	}
	if c.Handshake.GraceDelayMS < 0 {
		c.Handshake.GraceDelayMS = 0
	}
	if c.Delivery.MaxAttempts <= 0 {
		c.Delivery.MaxAttempts = d.Delivery.MaxAttempts
	}
	if c.Delivery.AttemptTimeoutMS <= 0 {
		c.Delivery.AttemptTimeoutMS = d.Delivery.AttemptTimeoutMS
	}
	if c.Satellite.GatewayAddress == 0 {
		c.Satellite.GatewayAddress = d.Satellite.GatewayAddress
	}
	if c.Satellite.IntervalMS <= 0 {
		c.Satellite.IntervalMS = d.Satellite.IntervalMS
	}
	if c.Satellite.Collector.Kind == "" {
		c.Satellite.Collector.Kind = d.Satellite.Collector.Kind
	}
	if c.Satellite.Collector.TimeoutMS <= 0 {
		c.Satellite.Collector.TimeoutMS = d.Satellite.Collector.TimeoutMS
	}
	if c.Gateway.StatePrefix == "" {
		c.Gateway.StatePrefix = d.Gateway.StatePrefix
	}
	if c.Gateway.DiscoveryPrefix == "" {
		c.Gateway.DiscoveryPrefix = d.Gateway.DiscoveryPrefix
	}
	if c.Gateway.ListenWindowMS <= 0 {
		c.Gateway.ListenWindowMS = d.Gateway.ListenWindowMS
	}
	if c.Broker.ConnectRetries <= 0 {
		c.Broker.ConnectRetries = d.Broker.ConnectRetries
	}
	if c.Broker.PublishTimeoutMS <= 0 {
		c.Broker.PublishTimeoutMS = d.Broker.PublishTimeoutMS
	}
	if c.Broker.BreakerFailures <= 0 {
		c.Broker.BreakerFailures = d.Broker.BreakerFailures
	}
	if c.Broker.BreakerOpenMS <= 0 {
		c.Broker.BreakerOpenMS = d.Broker.BreakerOpenMS
	}
	if c.History.Measurement == "" {
		c.History.Measurement = d.History.Measurement
	}
	if c.Storage.RetentionDays < 0 {
		c.Storage.RetentionDays = 0
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = d.Logging.Format
	}
}

// ApplyEnv overrides secrets and the serial device from the environment.
func (c *AppConfig) ApplyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup(EnvBrokerPassword); ok {
		c.Broker.Password = v
	}
	if v, ok := lookup(EnvInfluxToken); ok {
		c.History.InfluxToken = v
	}
	if v, ok := lookup(EnvSerialPort); ok && strings.TrimSpace(v) != "" {
		c.Radio.SerialPort = strings.TrimSpace(v)
	}
}

func (c AppConfig) Validate() error {
	if strings.TrimSpace(c.Radio.SerialPort) == "" {
		return errors.New("serial port is required")
	}
	if c.Radio.SerialBaud <= 0 {
		return errors.New("serial baud must be positive")
	}
	if c.Radio.Address == 0 {
		return errors.New("radio address 0 is reserved")
	}
	if c.Radio.NetworkID < 0 || c.Radio.NetworkID > 16 {
		return fmt.Errorf("network id out of range: %d", c.Radio.NetworkID)
	}

	switch c.Role {
	case RoleGateway:
		return c.validateGateway()
	case RoleSatellite:
		return c.validateSatellite()
	default:
		return fmt.Errorf("unknown role: %s", c.Role)
	}
}

func (c AppConfig) validateGateway() error {
	if strings.TrimSpace(c.Broker.URL) == "" {
		return errors.New("broker url is required")
	}
	seen := make(map[uint16]struct{}, len(c.Gateway.KnownSatellites))
	for _, sat := range c.Gateway.KnownSatellites {
		if sat.Address == 0 {
			return errors.New("known satellite address 0 is reserved")
		}
		if sat.Address == c.Radio.Address {
			return fmt.Errorf("known satellite %d uses the gateway address", sat.Address)
		}
		if _, dup := seen[sat.Address]; dup {
			return fmt.Errorf("duplicate known satellite address %d", sat.Address)
		}
		seen[sat.Address] = struct{}{}
	}
	if c.History.Enabled() && (c.History.Org == "" || c.History.Bucket == "") {
		return errors.New("history org and bucket are required when influx_url is set")
	}

	return nil
}

func (c AppConfig) validateSatellite() error {
	if c.Satellite.GatewayAddress == c.Radio.Address {
		return errors.New("satellite address must differ from gateway address")
	}
	switch c.Satellite.Collector.Kind {
	case CollectorSimulated:
	case CollectorCommand:
		if len(c.Satellite.Collector.Command) == 0 {
			return errors.New("collector command is required")
		}
	default:
		return fmt.Errorf("unknown collector kind: %s", c.Satellite.Collector.Kind)
	}

	return nil
}

func Save(path string, cfg AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}

	return nil
}

// Millis converts a *_ms config value to a duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
