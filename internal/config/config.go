package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// Dashboard
	TargetFPS        = 4                // Redraws per second; readings arrive far slower
	TrendSamples     = 40               // Temperature samples kept per sensor for the trend column
	HistoryBarWidth  = 60               // Sparkline width in the history view
	DefaultConfigEnv = "BLE_SENSORS_CONFIG"

	// Demo mode
	DemoDeviceMin = 8                      // Minimum fake sensors when none are configured
	DemoDeviceMax = 12                     // Maximum fake sensors when none are configured
	MockInterval  = 500 * time.Millisecond // One synthetic broadcast per tick

	// Ruuvi manufacturer id as assigned by the Bluetooth SIG
	RuuviCompanyID = 0x0499

	// App
	AppName           = "BLE-SENSORS"
	AppVersion        = "1.0"
	DefaultConfigPath = "sensors.yaml"
)

// Config is the full application configuration.
type Config struct {
	Sensors             map[string]SensorConfig `yaml:"sensors"`
	TemperatureFormat   string                  `yaml:"temperature_format"`
	UpdateIntervalSecs  int                     `yaml:"update_interval_seconds"`
	UpdateInterval      time.Duration           `yaml:"-"`
	OfflineTimeSecs     int                     `yaml:"offline_time_seconds"`
	OfflineTime         time.Duration           `yaml:"-"`
	LowBatteryThreshold int                     `yaml:"low_battery_threshold"`
	UseTestData         bool                    `yaml:"use_test_data"`
	StoreTimeoutSecs    int                     `yaml:"store_timeout_seconds"`
	StoreTimeout        time.Duration           `yaml:"-"`

	Logging  LoggingConfig  `yaml:"logging"`
	Database DatabaseConfig `yaml:"database"`
	History  HistoryConfig  `yaml:"history"`
	HTTP     HTTPConfig     `yaml:"http"`
	Publish  PublishConfig  `yaml:"publish"`
	Push     PushConfig     `yaml:"push"`
}

// SensorConfig describes one configured sensor, keyed by MAC in Config.Sensors.
type SensorConfig struct {
	Name string `yaml:"name"`
}

// LoggingConfig holds logging specific configuration
type LoggingConfig struct {
	LogFile      string `yaml:"log_file"`
	LogToConsole bool   `yaml:"log_to_console"`
	LogLevel     string `yaml:"log_level"`
}

// HistoryConfig controls retention of stored readings.
type HistoryConfig struct {
	RetentionHours      int           `yaml:"retention_hours"`
	Retention           time.Duration `yaml:"-"`
	TrimIntervalMinutes int           `yaml:"trim_interval_minutes"`
	TrimInterval        time.Duration `yaml:"-"`
}

// HTTPConfig holds the settings of the headless API server.
type HTTPConfig struct {
	Addr            string  `yaml:"addr"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// PublishConfig groups the optional reading sinks.
type PublishConfig struct {
	Kafka KafkaConfig `yaml:"kafka"`
	Redis RedisConfig `yaml:"redis"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type RedisConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

// PushConfig holds the VAPID keys and the subscriptions that receive alerts.
type PushConfig struct {
	PublicKey     string             `yaml:"vapid_public_key"`
	PrivateKey    string             `yaml:"vapid_private_key"`
	Subject       string             `yaml:"subject"`
	TTL           int                `yaml:"ttl"`
	Workers       int                `yaml:"workers"`
	Subscriptions []PushSubscription `yaml:"subscriptions"`
}

type PushSubscription struct {
	Endpoint string `yaml:"endpoint"`
	P256DH   string `yaml:"p256dh"`
	Auth     string `yaml:"auth"`
}

// Enabled reports whether alert notifications can be sent.
func (p PushConfig) Enabled() bool {
	return p.PublicKey != "" && p.PrivateKey != "" && len(p.Subscriptions) > 0
}

// Default returns a configuration with every default applied and no sensors.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads the configuration from the given path. A missing file yields the
// defaults so a first run works without any setup.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(&cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Sensors == nil {
		c.Sensors = make(map[string]SensorConfig)
	}
	if c.TemperatureFormat == "" {
		c.TemperatureFormat = "F"
	}
	c.TemperatureFormat = strings.ToUpper(c.TemperatureFormat)

	if c.UpdateIntervalSecs <= 0 {
		c.UpdateIntervalSecs = 5
	}
	c.UpdateInterval = time.Duration(c.UpdateIntervalSecs) * time.Second

	if c.OfflineTimeSecs <= 0 {
		c.OfflineTimeSecs = 300
	}
	c.OfflineTime = time.Duration(c.OfflineTimeSecs) * time.Second

	if c.LowBatteryThreshold <= 0 {
		c.LowBatteryThreshold = 1800
	}

	if c.StoreTimeoutSecs <= 0 {
		c.StoreTimeoutSecs = 5
	}
	c.StoreTimeout = time.Duration(c.StoreTimeoutSecs) * time.Second

	if c.Logging.LogFile == "" {
		c.Logging.LogFile = "ble-sensors.log"
	}
	if c.Logging.LogLevel == "" {
		c.Logging.LogLevel = "info"
	}

	c.Database.applyDefaults()

	if c.History.RetentionHours <= 0 {
		c.History.RetentionHours = 24
	}
	c.History.Retention = time.Duration(c.History.RetentionHours) * time.Hour
	if c.History.TrimIntervalMinutes <= 0 {
		c.History.TrimIntervalMinutes = 60
	}
	c.History.TrimInterval = time.Duration(c.History.TrimIntervalMinutes) * time.Minute

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.RateLimitPerSec <= 0 {
		c.HTTP.RateLimitPerSec = 10
	}
	if c.HTTP.RateLimitBurst <= 0 {
		c.HTTP.RateLimitBurst = 5
	}
	if c.HTTP.CacheTTLSeconds <= 0 {
		c.HTTP.CacheTTLSeconds = 10
	}

	if c.Publish.Kafka.Topic == "" {
		c.Publish.Kafka.Topic = "sensors.readings"
	}
	if c.Publish.Redis.Addr == "" {
		c.Publish.Redis.Addr = "localhost:6379"
	}
	if c.Publish.Redis.TTLSeconds <= 0 {
		c.Publish.Redis.TTLSeconds = 3600
	}

	if c.Push.TTL <= 0 {
		c.Push.TTL = 3600
	}
	if c.Push.Workers <= 0 {
		c.Push.Workers = 1
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.TemperatureFormat {
	case "F", "C":
	default:
		return fmt.Errorf("unsupported temperature format: %q", c.TemperatureFormat)
	}

	if err := c.Database.Validate(); err != nil {
		return err
	}

	if c.Publish.Kafka.Enabled && len(c.Publish.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka publishing needs at least one broker")
	}

	if (c.Push.PublicKey == "") != (c.Push.PrivateKey == "") {
		return fmt.Errorf("both vapid keys must be set to enable push alerts")
	}

	return nil
}

// SensorNames returns the configured display names keyed by MAC as written in
// the file.
func (c *Config) SensorNames() map[string]string {
	names := make(map[string]string, len(c.Sensors))
	for mac, s := range c.Sensors {
		if s.Name != "" {
			names[mac] = s.Name
		}
	}
	return names
}

// SensorMACs returns the configured sensor MACs.
func (c *Config) SensorMACs() []string {
	macs := make([]string, 0, len(c.Sensors))
	for mac := range c.Sensors {
		macs = append(macs, mac)
	}
	return macs
}
