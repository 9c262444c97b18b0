package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hilinkd/hilinkd/pkg/crypto"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

const minimal = `
jwt:
  secret: test-secret
modems:
  - uuid: m1
    password: secret
  - uuid: m2
    name: Backup
    enabled: false
    ip_address: 192.168.9.1
    auto_connect: false
    network_mode: 4g_only
    signal_threshold: -100
    data_limit_enabled: true
    data_limit_mb: 2048
`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 30, cfg.Service.UpdateInterval)
	assert.Equal(t, 30*24*time.Hour, cfg.Service.Retention())
	assert.Equal(t, 10*time.Second, cfg.Service.RequestTimeout)

	require.Len(t, cfg.Modems, 2)
	m1 := cfg.Modems[0]
	assert.Equal(t, "HiLink Modem", m1.Name)
	assert.True(t, m1.Enabled)
	assert.Equal(t, "192.168.8.1", m1.IPAddress)
	assert.Equal(t, "admin", m1.Username)
	assert.True(t, m1.AutoConnect)
	assert.False(t, m1.RoamingEnabled)
	assert.Equal(t, "auto", m1.NetworkMode)
	assert.Equal(t, time.Minute, m1.ReconnectDelay())
	assert.Equal(t, 3, m1.MaxReconnectAttempts)
	assert.Equal(t, 30*time.Second, m1.CollectEvery())
	assert.Equal(t, -90, m1.SignalThreshold)
	assert.Equal(t, int64(10240), m1.DataLimitMB)

	m2 := cfg.Modems[1]
	assert.False(t, m2.Enabled)
	assert.False(t, m2.AutoConnect)
	assert.Equal(t, int64(2048*1024*1024), m2.DataLimitBytes())

	enabled := cfg.EnabledModems()
	require.Len(t, enabled, 1)
	assert.Equal(t, "m1", enabled[0].UUID)
}

func TestParseRejectsInvalidRecords(t *testing.T) {
	tests := map[string]string{
		"bad ip":           "ip_address: modem.local",
		"bad mode":         "network_mode: 5g_only",
		"threshold high":   "signal_threshold: -40",
		"threshold low":    "signal_threshold: -130",
		"zero attempts":    "max_reconnect_attempts: 0",
		"zero collect":     "collect_interval: 0",
		"update too short": "",
	}

	for name, extra := range tests {
		t.Run(name, func(t *testing.T) {
			doc := "jwt:\n  secret: s\nmodems:\n  - uuid: m1\n"
			if extra != "" {
				doc += "    " + extra + "\n"
			} else {
				doc += "service:\n  update_interval: 5\n"
			}
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestParseRejectsDuplicateUUID(t *testing.T) {
	_, err := Parse([]byte("jwt:\n  secret: s\nmodems:\n  - uuid: a\n  - uuid: a\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate modem uuid a")
}

func TestParseRequiresJWTSecretWithAPI(t *testing.T) {
	_, err := Parse([]byte("modems: []\n"))
	require.Error(t, err)

	_, err = Parse([]byte("api:\n  enabled: false\n"))
	assert.NoError(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://db/hilink")
	t.Setenv("NATS_URL", "nats://bus:4222")
	t.Setenv("MQTT_BROKER", "tcp://mqtt:1883")
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Parse([]byte("api:\n  enabled: true\n"))
	require.NoError(t, err)

	assert.Equal(t, "postgres://db/hilink", cfg.Database.DSN)
	assert.Equal(t, "nats://bus:4222", cfg.NATS.URL)
	assert.Equal(t, "tcp://mqtt:1883", cfg.MQTT.Broker)
	assert.Equal(t, "from-env", cfg.JWT.Secret)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestEncryptedPasswords(t *testing.T) {
	key, err := crypto.ParseKey(testKey)
	require.NoError(t, err)
	sealed, err := crypto.SealSecret(key, "hunter2")
	require.NoError(t, err)

	doc := "jwt:\n  secret: s\nservice:\n  secret_key: " + testKey + "\nmodems:\n  - uuid: m1\n    password: \"" + sealed + "\"\n"
	cfg, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "hunter2", cfg.Modems[0].Password)

	noKey := strings.Replace(doc, "  secret_key: "+testKey+"\n", "  update_interval: 30\n", 1)
	_, err = Parse([]byte(noKey))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no secret key")
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hilinkd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimal), 0o600))

	modems, err := FileSource{Path: path}.Modems(context.Background())
	require.NoError(t, err)
	require.Len(t, modems, 1)
	assert.Equal(t, "m1", modems[0].UUID)

	_, err = FileSource{Path: filepath.Join(t.TempDir(), "missing.yaml")}.Modems(context.Background())
	assert.Error(t, err)
}

func TestModemConfigChanges(t *testing.T) {
	a := DefaultModemConfig()
	b := a
	assert.Equal(t, a, b)

	b.NetworkMode = "4g_only"
	assert.True(t, a.SettingsChanged(b))
	assert.False(t, a.ConnectionChanged(b))

	c := a
	c.Password = "other"
	assert.True(t, a.ConnectionChanged(c))
	assert.False(t, a.SettingsChanged(c))
}
