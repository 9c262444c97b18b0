package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hilinkd/hilinkd/internal/validation"
	"github.com/hilinkd/hilinkd/pkg/crypto"
)

// Config represents the application configuration
type Config struct {
	Log      LogConfig      `yaml:"log"`
	API      APIConfig      `yaml:"api"`
	JWT      JWTConfig      `yaml:"jwt"`
	Admin    AdminConfig    `yaml:"admin"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Service  ServiceConfig  `yaml:"service"`
	Modems   []ModemConfig  `yaml:"modems"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

// APIConfig represents API configuration
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port" validate:"min=1,max=65535"`
}

// JWTConfig represents JWT configuration
type JWTConfig struct {
	Secret          string        `yaml:"secret"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
}

// AdminConfig is the single API operator. PasswordHash is a bcrypt hash.
type AdminConfig struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
}

// DatabaseConfig represents database configuration. An empty DSN keeps
// samples and events in memory.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// NATSConfig represents NATS configuration. An empty URL disables it.
type NATSConfig struct {
	URL               string        `yaml:"url"`
	ClientName        string        `yaml:"client_name"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	SubjectPrefix     string        `yaml:"subject_prefix"`
	Commands          bool          `yaml:"commands"`
}

// MQTTConfig represents MQTT configuration. An empty broker disables it.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos" validate:"min=0,max=2"`
	Retain      bool   `yaml:"retain"`
}

// ServiceConfig controls the monitor loops. UpdateInterval is in seconds,
// DataRetention in days.
type ServiceConfig struct {
	UpdateInterval  int           `yaml:"update_interval" validate:"min=10,max=300"`
	DataRetention   int           `yaml:"data_retention" validate:"min=1,max=365"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	ReloadInterval  time.Duration `yaml:"reload_interval"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	// SecretKey is the hex AES key for enc: passwords.
	SecretKey string `yaml:"secret_key"`
}

// Retention returns the data retention as a duration.
func (s ServiceConfig) Retention() time.Duration {
	return time.Duration(s.DataRetention) * 24 * time.Hour
}

// Default returns the configuration used for every key the file omits.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "console"},
		API: APIConfig{Enabled: true, Host: "127.0.0.1", Port: 8088},
		JWT: JWTConfig{
			AccessTokenTTL:  15 * time.Minute,
			RefreshTokenTTL: 7 * 24 * time.Hour,
		},
		Admin: AdminConfig{Username: "admin"},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: time.Hour,
		},
		NATS: NATSConfig{
			ClientName:        "hilinkd",
			MaxReconnects:     -1,
			ReconnectInterval: 2 * time.Second,
			SubjectPrefix:     "hilink",
		},
		MQTT: MQTTConfig{ClientID: "hilinkd", TopicPrefix: "hilink"},
		Service: ServiceConfig{
			UpdateInterval:  30,
			DataRetention:   30,
			PollInterval:    5 * time.Second,
			ReloadInterval:  60 * time.Second,
			CleanupInterval: 24 * time.Hour,
			RequestTimeout:  10 * time.Second,
		},
	}
}

// Load reads, decrypts and validates a configuration file.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.openSecrets(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Database.DSN = dsn
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}

	if broker := os.Getenv("MQTT_BROKER"); broker != "" {
		c.MQTT.Broker = broker
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		c.JWT.Secret = jwtSecret
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}

	if key := os.Getenv("HILINK_SECRET_KEY"); key != "" {
		c.Service.SecretKey = key
	}
}

// openSecrets decrypts enc: modem passwords in place.
func (c *Config) openSecrets() error {
	var key []byte
	for i := range c.Modems {
		m := &c.Modems[i]
		if !crypto.IsSealed(m.Password) {
			continue
		}
		if key == nil {
			if c.Service.SecretKey == "" {
				return fmt.Errorf("modem %s: encrypted password but no secret key configured", m.UUID)
			}
			k, err := crypto.ParseKey(c.Service.SecretKey)
			if err != nil {
				return fmt.Errorf("secret key: %w", err)
			}
			key = k
		}
		plain, err := crypto.OpenSecret(key, m.Password)
		if err != nil {
			return fmt.Errorf("modem %s: %w", m.UUID, err)
		}
		m.Password = plain
	}
	return nil
}

// Validate checks field rules and cross-field constraints.
func (c *Config) Validate() error {
	if err := validation.NewValidator().Validate(c); err != nil {
		return err
	}

	if c.API.Enabled && c.JWT.Secret == "" {
		return errors.New("jwt.secret is required when the API is enabled")
	}

	seen := make(map[string]bool, len(c.Modems))
	for _, m := range c.Modems {
		if seen[m.UUID] {
			return fmt.Errorf("duplicate modem uuid %s", m.UUID)
		}
		seen[m.UUID] = true
	}

	return nil
}

// EnabledModems returns the modems the service should manage.
func (c *Config) EnabledModems() []ModemConfig {
	var out []ModemConfig
	for _, m := range c.Modems {
		if m.Enabled {
			out = append(out, m)
		}
	}
	return out
}

// FileSource reloads the modem list from a config file on every call.
type FileSource struct {
	Path string
}

// Modems loads and validates the file, returning the enabled modems.
func (s FileSource) Modems(ctx context.Context) ([]ModemConfig, error) {
	cfg, err := Load(s.Path)
	if err != nil {
		return nil, err
	}
	return cfg.EnabledModems(), nil
}

// PrintConfigSummary writes a human readable summary to stdout.
func (c *Config) PrintConfigSummary() {
	fmt.Printf("=== hilinkd configuration ===\n")
	fmt.Printf("Log: level=%s format=%s\n", c.Log.Level, c.Log.Format)
	if c.API.Enabled {
		fmt.Printf("API: %s:%d\n", c.API.Host, c.API.Port)
	} else {
		fmt.Printf("API: disabled\n")
	}
	fmt.Printf("Database: %s\n", describe(c.Database.DSN != "", "postgres", "in-memory"))
	fmt.Printf("NATS: %s\n", describe(c.NATS.URL != "", c.NATS.URL, "disabled"))
	fmt.Printf("MQTT: %s\n", describe(c.MQTT.Broker != "", c.MQTT.Broker, "disabled"))
	fmt.Printf("Service: update=%ds retention=%dd poll=%s reload=%s\n",
		c.Service.UpdateInterval, c.Service.DataRetention, c.Service.PollInterval, c.Service.ReloadInterval)

	fmt.Printf("Modems (%d):\n", len(c.Modems))
	for _, m := range c.Modems {
		fmt.Printf("  %s %q at %s enabled=%t auto_connect=%t mode=%s collect=%ds threshold=%ddBm",
			m.UUID, m.Name, m.IPAddress, m.Enabled, m.AutoConnect, m.NetworkMode, m.CollectInterval, m.SignalThreshold)
		if m.DataLimitEnabled {
			fmt.Printf(" limit=%dMB", m.DataLimitMB)
		}
		fmt.Println()
	}
}

func describe(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}
