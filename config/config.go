// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config defines the gateway configuration, its defaults and the
// viper based loader.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/edgeo/drivers/bacnetgw/bacnet"
	"github.com/edgeo/drivers/bacnetgw/registry"
)

// EnvPrefix is the prefix of environment overrides (BACNETGW_PORT, ...)
const EnvPrefix = "BACNETGW"

// Config is the complete gateway configuration
type Config struct {
	// Transport
	LocalAddress     string        `mapstructure:"local_address" json:"localIpAddress" validate:"omitempty,ip"`
	Port             int           `mapstructure:"port" json:"port" validate:"min=1,max=65535"`
	BroadcastAddress string        `mapstructure:"broadcast_address" json:"broadCastAddr" validate:"omitempty,ip"`
	APDUTimeout      time.Duration `mapstructure:"apdu_timeout" json:"apduTimeout" validate:"gt=0"`
	APDUSize         int           `mapstructure:"apdu_size" json:"apduSize" validate:"oneof=50 128 206 480 1024 1476"`
	MaxSegments      int           `mapstructure:"max_segments" json:"maxSegments" validate:"oneof=0 2 4 8 16 32 64"`
	Retries          int           `mapstructure:"retries" json:"retries" validate:"min=0,max=10"`
	BBMD             BBMDConfig    `mapstructure:"bbmd" json:"bbmd"`

	// Schedules, in seconds
	DiscoverSchedule int `mapstructure:"discover_polling_schedule" json:"discover_polling_schedule" validate:"min=1"`
	ReadSchedule     int `mapstructure:"device_read_schedule" json:"device_read_schedule" validate:"min=1"`

	TreeBuildInterval time.Duration `mapstructure:"tree_build_interval" json:"treeBuildInterval" validate:"gt=0"`
	Precision         int           `mapstructure:"precision" json:"precision" validate:"min=0,max=10"`

	DeviceRanges []registry.Range `mapstructure:"device_ranges" json:"deviceRanges" validate:"dive"`
	Probe        ProbeConfig      `mapstructure:"probe" json:"probe"`
	Cache        CacheConfig      `mapstructure:"cache" json:"cache"`
	MQTT         MQTTConfig       `mapstructure:"mqtt" json:"mqtt"`
	Metrics      MetricsConfig    `mapstructure:"metrics" json:"metrics"`
}

// BBMDConfig enables foreign device registration
type BBMDConfig struct {
	Address string        `mapstructure:"address" json:"address" validate:"omitempty,ip"`
	Port    int           `mapstructure:"port" json:"port" validate:"omitempty,min=1,max=65535"`
	TTL     time.Duration `mapstructure:"ttl" json:"ttl"`
}

// ProbeConfig drives manual point discovery on devices without a usable
// object list
type ProbeConfig struct {
	ObjectTypes []string `mapstructure:"object_types" json:"objectTypes" validate:"min=1,dive,required"`
	MaxInstance uint32   `mapstructure:"max_instance" json:"maxInstance" validate:"lte=4194302"`
	MissLimit   int      `mapstructure:"miss_limit" json:"missLimit" validate:"min=1"`
}

// CacheConfig selects the persistent store of the network tree cache
type CacheConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"cacheFileEnabled"`
	Driver  string `mapstructure:"driver" json:"driver" validate:"oneof=file sqlite"`
	Path    string `mapstructure:"path" json:"path" validate:"required_if=Enabled true"`
}

// MQTTConfig configures republishing of point values
type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled" json:"enabled"`
	Broker      string `mapstructure:"broker" json:"broker" validate:"required_if=Enabled true,omitempty,url"`
	ClientID    string `mapstructure:"client_id" json:"clientId"`
	Username    string `mapstructure:"username" json:"username"`
	Password    string `mapstructure:"password" json:"-"`
	TopicPrefix string `mapstructure:"topic_prefix" json:"topicPrefix" validate:"required_if=Enabled true"`
	QoS         byte   `mapstructure:"qos" json:"qos" validate:"lte=2"`
	Retain      bool   `mapstructure:"retain" json:"retain"`
	Format      string `mapstructure:"format" json:"format" validate:"oneof=json cbor"`
}

// MetricsConfig exposes prometheus metrics on an HTTP address
type MetricsConfig struct {
	Addr string `mapstructure:"addr" json:"addr"`
}

// DiscoverInterval returns the Who-Is period
func (c Config) DiscoverInterval() time.Duration {
	return time.Duration(c.DiscoverSchedule) * time.Second
}

// ReadInterval returns the poll period
func (c Config) ReadInterval() time.Duration {
	return time.Duration(c.ReadSchedule) * time.Second
}

// ProbeTypes resolves the configured probe object types
func (c Config) ProbeTypes() ([]bacnet.ObjectType, error) {
	types := make([]bacnet.ObjectType, 0, len(c.Probe.ObjectTypes))
	for _, s := range c.Probe.ObjectTypes {
		t, ok := bacnet.ParseObjectType(s)
		if !ok {
			return nil, fmt.Errorf("config: unknown probe object type %q", s)
		}
		types = append(types, t)
	}
	return types, nil
}

// TransportEqual reports whether both configurations build the same client
func (c Config) TransportEqual(o Config) bool {
	return c.LocalAddress == o.LocalAddress &&
		c.Port == o.Port &&
		c.BroadcastAddress == o.BroadcastAddress &&
		c.APDUTimeout == o.APDUTimeout &&
		c.APDUSize == o.APDUSize &&
		c.MaxSegments == o.MaxSegments &&
		c.Retries == o.Retries &&
		c.BBMD == o.BBMD
}

// Default returns the configuration used when nothing is set
func Default() Config {
	return Config{
		Port:              bacnet.DefaultPort,
		BroadcastAddress:  "255.255.255.255",
		APDUTimeout:       6 * time.Second,
		APDUSize:          bacnet.MaxAPDULength,
		MaxSegments:       0,
		Retries:           3,
		BBMD:              BBMDConfig{Port: bacnet.DefaultPort, TTL: 60 * time.Second},
		DiscoverSchedule:  60,
		ReadSchedule:      30,
		TreeBuildInterval: 30 * time.Second,
		Precision:         2,
		Probe: ProbeConfig{
			ObjectTypes: []string{"AI", "AO", "AV", "BI", "BO", "BV", "MSI", "MSO", "MSV"},
			MaxInstance: 100,
			MissLimit:   10,
		},
		Cache: CacheConfig{
			Driver: "file",
			Path:   "bacnetgw-cache.json",
		},
		MQTT: MQTTConfig{
			TopicPrefix: "bacnet",
			Format:      "json",
		},
	}
}

// SetDefaults registers Default() on v so partial files and env vars
// layer over it
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("local_address", d.LocalAddress)
	v.SetDefault("port", d.Port)
	v.SetDefault("broadcast_address", d.BroadcastAddress)
	v.SetDefault("apdu_timeout", d.APDUTimeout)
	v.SetDefault("apdu_size", d.APDUSize)
	v.SetDefault("max_segments", d.MaxSegments)
	v.SetDefault("retries", d.Retries)
	v.SetDefault("bbmd.port", d.BBMD.Port)
	v.SetDefault("bbmd.ttl", d.BBMD.TTL)
	v.SetDefault("discover_polling_schedule", d.DiscoverSchedule)
	v.SetDefault("device_read_schedule", d.ReadSchedule)
	v.SetDefault("tree_build_interval", d.TreeBuildInterval)
	v.SetDefault("precision", d.Precision)
	v.SetDefault("probe.object_types", d.Probe.ObjectTypes)
	v.SetDefault("probe.max_instance", d.Probe.MaxInstance)
	v.SetDefault("probe.miss_limit", d.Probe.MissLimit)
	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.driver", d.Cache.Driver)
	v.SetDefault("cache.path", d.Cache.Path)
	v.SetDefault("mqtt.topic_prefix", d.MQTT.TopicPrefix)
	v.SetDefault("mqtt.format", d.MQTT.Format)
	v.SetDefault("mqtt.qos", d.MQTT.QoS)
}

// NewViper returns a viper instance with defaults and environment
// overrides set up. An empty file means no config file.
func NewViper(file string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if file != "" {
		v.SetConfigFile(file)
	}
	return v
}

// Load reads the config file, if any, and decodes and validates the result
func Load(v *viper.Viper) (Config, error) {
	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("config: read %s: %w", v.ConfigFileUsed(), err)
			}
		}
	}
	return Decode(v)
}

// Decode unmarshals the current viper state and validates it
func Decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints and the probe object type names
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := cfg.ProbeTypes(); err != nil {
		return err
	}
	return nil
}
