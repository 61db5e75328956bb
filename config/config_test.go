package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeo/drivers/bacnetgw/bacnet"
	"github.com/edgeo/drivers/bacnetgw/registry"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gw.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Validate(Default()))

	types, err := Default().ProbeTypes()
	require.NoError(t, err)
	assert.Contains(t, types, bacnet.ObjectTypeMultiStateValue)
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load(NewViper(""))
	require.NoError(t, err)
	assert.Equal(t, Default().Port, cfg.Port)
	assert.Equal(t, 60*time.Second, cfg.DiscoverInterval())
	assert.Equal(t, 30*time.Second, cfg.ReadInterval())
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
local_address: 192.168.1.10
apdu_timeout: 3s
apdu_size: 480
discover_polling_schedule: 120
device_read_schedule: 15
device_ranges:
  - low: 100
    high: 200
cache:
  enabled: true
  driver: sqlite
  path: /tmp/gw.db
`)

	cfg, err := Load(NewViper(path))
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.10", cfg.LocalAddress)
	assert.Equal(t, 3*time.Second, cfg.APDUTimeout)
	assert.Equal(t, 480, cfg.APDUSize)
	assert.Equal(t, 2*time.Minute, cfg.DiscoverInterval())
	assert.Equal(t, []registry.Range{{Low: 100, High: 200}}, cfg.DeviceRanges)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, "sqlite", cfg.Cache.Driver)
	// untouched keys keep their defaults
	assert.Equal(t, bacnet.DefaultPort, cfg.Port)
	assert.Equal(t, "json", cfg.MQTT.Format)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("BACNETGW_PORT", "47809")
	t.Setenv("BACNETGW_MQTT_FORMAT", "cbor")

	cfg, err := Load(NewViper(""))
	require.NoError(t, err)
	assert.Equal(t, 47809, cfg.Port)
	assert.Equal(t, "cbor", cfg.MQTT.Format)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad local address", func(c *Config) { c.LocalAddress = "not-an-ip" }},
		{"bad apdu size", func(c *Config) { c.APDUSize = 1000 }},
		{"zero read schedule", func(c *Config) { c.ReadSchedule = 0 }},
		{"inverted range", func(c *Config) { c.DeviceRanges = []registry.Range{{Low: 10, High: 5}} }},
		{"unknown probe type", func(c *Config) { c.Probe.ObjectTypes = []string{"XX"} }},
		{"mqtt without broker", func(c *Config) { c.MQTT.Enabled = true }},
		{"unknown cache driver", func(c *Config) { c.Cache.Driver = "redis" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestTransportEqual(t *testing.T) {
	a := Default()
	b := Default()
	b.ReadSchedule = 5
	assert.True(t, a.TransportEqual(b))

	b.APDUTimeout = time.Second
	assert.False(t, a.TransportEqual(b))
}
