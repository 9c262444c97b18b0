package config

import (
	"time"

	"gopkg.in/yaml.v3"
)

// ModemConfig is the record of one managed modem.
type ModemConfig struct {
	UUID                 string `yaml:"uuid" validate:"required"`
	Name                 string `yaml:"name"`
	Enabled              bool   `yaml:"enabled"`
	IPAddress            string `yaml:"ip_address" validate:"required,ipv4"`
	Username             string `yaml:"username"`
	Password             string `yaml:"password"`
	AutoConnect          bool   `yaml:"auto_connect"`
	RoamingEnabled       bool   `yaml:"roaming_enabled"`
	NetworkMode          string `yaml:"network_mode" validate:"oneof=auto 4g_preferred 3g_preferred 4g_only 3g_only"`
	ReconnectInterval    int    `yaml:"reconnect_interval" validate:"min=1"`
	MaxReconnectAttempts int    `yaml:"max_reconnect_attempts" validate:"min=1"`
	CollectInterval      int    `yaml:"collect_interval" validate:"min=1"`
	SignalThreshold      int    `yaml:"signal_threshold" validate:"min=-120,max=-50"`
	DataLimitEnabled     bool   `yaml:"data_limit_enabled"`
	DataLimitMB          int64  `yaml:"data_limit_mb" validate:"min=1"`
}

// DefaultModemConfig returns the values used for keys a modem record omits.
func DefaultModemConfig() ModemConfig {
	return ModemConfig{
		Name:                 "HiLink Modem",
		Enabled:              true,
		IPAddress:            "192.168.8.1",
		Username:             "admin",
		AutoConnect:          true,
		NetworkMode:          "auto",
		ReconnectInterval:    60,
		MaxReconnectAttempts: 3,
		CollectInterval:      30,
		SignalThreshold:      -90,
		DataLimitMB:          10240,
	}
}

// UnmarshalYAML fills omitted keys with DefaultModemConfig.
func (m *ModemConfig) UnmarshalYAML(value *yaml.Node) error {
	*m = DefaultModemConfig()
	type plain ModemConfig
	return value.Decode((*plain)(m))
}

// ReconnectDelay is the minimum gap between reconnect attempts.
func (m ModemConfig) ReconnectDelay() time.Duration {
	return time.Duration(m.ReconnectInterval) * time.Second
}

// CollectEvery is the metric collection interval.
func (m ModemConfig) CollectEvery() time.Duration {
	return time.Duration(m.CollectInterval) * time.Second
}

// DataLimitBytes converts the monthly quota to bytes.
func (m ModemConfig) DataLimitBytes() int64 {
	return m.DataLimitMB * 1024 * 1024
}

// SettingsChanged reports whether roaming or network mode differ.
func (m ModemConfig) SettingsChanged(other ModemConfig) bool {
	return m.RoamingEnabled != other.RoamingEnabled || m.NetworkMode != other.NetworkMode
}

// ConnectionChanged reports whether the device address or credentials differ.
func (m ModemConfig) ConnectionChanged(other ModemConfig) bool {
	return m.IPAddress != other.IPAddress || m.Username != other.Username || m.Password != other.Password
}
