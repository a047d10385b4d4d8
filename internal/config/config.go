package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/freezelink/freezelink/pkg/dryer"
)

// Config represents the application configuration
type Config struct {
	Cloud   CloudConfig   `yaml:"cloud"`
	Account AccountConfig `yaml:"account"`
	Broker  BrokerConfig  `yaml:"broker"`
	State   StateConfig   `yaml:"state"`
	API     APIConfig     `yaml:"api"`
	NATS    NATSConfig    `yaml:"nats"`
	Log     LogConfig     `yaml:"log"`
}

// CloudConfig represents the vendor cloud REST endpoint configuration
type CloudConfig struct {
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// AccountConfig represents the cloud account credentials
type AccountConfig struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

// BrokerConfig represents the MQTT connection configuration
type BrokerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	Keepalive      time.Duration `yaml:"keepalive"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	BackoffMin     time.Duration `yaml:"backoff_min"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
	GracePeriod    time.Duration `yaml:"grace_period"`
	OnInterval     time.Duration `yaml:"on_interval"`
}

// StateConfig represents state derivation and watchdog configuration
type StateConfig struct {
	ScreenOffset     int           `yaml:"screen_offset"`
	StalenessTimeout time.Duration `yaml:"staleness_timeout"`
	QueueSize        int           `yaml:"queue_size"`
}

// APIConfig represents the local REST API configuration
type APIConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	BearerToken string `yaml:"bearer_token"`
}

// NATSConfig represents the downstream event bus configuration
type NATSConfig struct {
	URL               string        `yaml:"url"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load loads configuration from file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.SetDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if email := os.Getenv("FREEZELINK_EMAIL"); email != "" {
		c.Account.Email = email
	}
	if password := os.Getenv("FREEZELINK_PASSWORD"); password != "" {
		c.Account.Password = password
	}
	if base := os.Getenv("FREEZELINK_API_BASE"); base != "" {
		c.Cloud.BaseURL = base
	}
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}
	if token := os.Getenv("FREEZELINK_API_TOKEN"); token != "" {
		c.API.BearerToken = token
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}
}

// SetDefaults fills zero-valued fields with their defaults
func (c *Config) SetDefaults() {
	if c.Cloud.BaseURL == "" {
		c.Cloud.BaseURL = "https://prod.harvestrightapp.com"
	}
	if c.Cloud.RequestTimeout == 0 {
		c.Cloud.RequestTimeout = 15 * time.Second
	}
	if c.Broker.Host == "" {
		c.Broker.Host = "mqtt.harvestrightapp.com"
	}
	if c.Broker.Port == 0 {
		c.Broker.Port = 8883
	}
	if c.Broker.Keepalive == 0 {
		c.Broker.Keepalive = 150 * time.Second
	}
	if c.Broker.ConnectTimeout == 0 {
		c.Broker.ConnectTimeout = 10 * time.Second
	}
	if c.Broker.BackoffMin == 0 {
		c.Broker.BackoffMin = time.Second
	}
	if c.Broker.BackoffMax == 0 {
		c.Broker.BackoffMax = 2 * time.Minute
	}
	if c.Broker.GracePeriod == 0 {
		c.Broker.GracePeriod = time.Minute
	}
	if c.Broker.OnInterval == 0 {
		c.Broker.OnInterval = 5 * time.Minute
	}
	if c.State.ScreenOffset == 0 {
		c.State.ScreenOffset = dryer.DefaultScreenOffset
	}
	if c.State.StalenessTimeout == 0 {
		// roughly 6x the observed ~15s telemetry push interval
		c.State.StalenessTimeout = 90 * time.Second
	}
	if c.State.QueueSize == 0 {
		c.State.QueueSize = 64
	}
	if c.API.Host == "" {
		c.API.Host = "0.0.0.0"
	}
	if c.API.Port == 0 {
		c.API.Port = 8090
	}
	if c.NATS.ReconnectInterval == 0 {
		c.NATS.ReconnectInterval = 2 * time.Second
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = -1
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) validate() error {
	if c.Account.Email == "" {
		return fmt.Errorf("account email is required (account.email or FREEZELINK_EMAIL)")
	}
	if c.Account.Password == "" {
		return fmt.Errorf("account password is required (account.password or FREEZELINK_PASSWORD)")
	}
	return nil
}

// BrokerURL returns the broker URL in the form paho expects
func (c *BrokerConfig) BrokerURL() string {
	return fmt.Sprintf("ssl://%s:%d", c.Host, c.Port)
}
