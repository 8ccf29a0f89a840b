// Package config holds the devlink application configuration: NATS
// connection settings, metrics exposition, the device definition served by
// the daemon, and the nested transport settings that QoS overrides are
// sourced from.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/devlink/errors"
)

// Config represents the complete application configuration.
type Config struct {
	NATS     NATSConfig    `json:"nats" yaml:"nats"`
	Metrics  MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Device   DeviceConfig  `json:"device" yaml:"device"`
	Settings Settings      `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// NATSConfig defines NATS connection settings.
type NATSConfig struct {
	URL           string        `json:"url,omitempty" yaml:"url,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty" yaml:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty" yaml:"reconnect_wait,omitempty"`
	Username      string        `json:"username,omitempty" yaml:"username,omitempty"`
	Password      string        `json:"password,omitempty" yaml:"password,omitempty"`
	Token         string        `json:"token,omitempty" yaml:"token,omitempty"`
	TLS           NATSTLSConfig `json:"tls,omitempty" yaml:"tls,omitempty"`
}

// NATSTLSConfig for secure NATS connections.
type NATSTLSConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	CertFile string `json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty" yaml:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty" yaml:"ca_file,omitempty"`
}

// MetricsConfig controls the /metrics HTTP listener.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Port    int    `json:"port,omitempty" yaml:"port,omitempty"`
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
}

// DeviceConfig defines the device the daemon serves.
type DeviceConfig struct {
	Name        string         `json:"name" yaml:"name"`
	Serial      string         `json:"serial,omitempty" yaml:"serial,omitempty"`
	ProductLine string         `json:"product_line,omitempty" yaml:"product_line,omitempty"`
	TopicRoot   string         `json:"topic_root" yaml:"topic_root"`
	Streams     []StreamConfig `json:"streams,omitempty" yaml:"streams,omitempty"`
	Options     []OptionConfig `json:"options,omitempty" yaml:"options,omitempty"`
}

// StreamConfig defines one stream of the device.
type StreamConfig struct {
	Name                string          `json:"name" yaml:"name"`
	Sensor              string          `json:"sensor,omitempty" yaml:"sensor,omitempty"`
	Kind                string          `json:"kind" yaml:"kind"` // video, motion, other
	MetadataEnabled     bool            `json:"metadata_enabled,omitempty" yaml:"metadata_enabled,omitempty"`
	DefaultProfileIndex int             `json:"default_profile_index,omitempty" yaml:"default_profile_index,omitempty"`
	Profiles            []ProfileConfig `json:"profiles,omitempty" yaml:"profiles,omitempty"`
	Options             []OptionConfig  `json:"options,omitempty" yaml:"options,omitempty"`
	Filters             []string        `json:"filters,omitempty" yaml:"filters,omitempty"`
}

// ProfileConfig defines one supported profile of a stream.
type ProfileConfig struct {
	Frequency int    `json:"frequency" yaml:"frequency"`
	Format    string `json:"format,omitempty" yaml:"format,omitempty"`
	Width     int    `json:"width,omitempty" yaml:"width,omitempty"`
	Height    int    `json:"height,omitempty" yaml:"height,omitempty"`
}

// OptionConfig defines one option with its initial value and range.
type OptionConfig struct {
	Name        string  `json:"name" yaml:"name"`
	Value       float64 `json:"value" yaml:"value"`
	Default     float64 `json:"default,omitempty" yaml:"default,omitempty"`
	Min         float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max         float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Step        float64 `json:"step,omitempty" yaml:"step,omitempty"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
}

// Validate checks the configuration for structural problems.
func (c *Config) Validate() error {
	if c.Device.TopicRoot == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"Config", "Validate", "device topic_root validation")
	}
	seen := make(map[string]bool, len(c.Device.Streams))
	for _, s := range c.Device.Streams {
		if s.Name == "" {
			return errors.WrapInvalid(fmt.Errorf("stream with empty name"),
				"Config", "Validate", "stream name validation")
		}
		if seen[s.Name] {
			return errors.WrapInvalid(fmt.Errorf("duplicate stream name %q", s.Name),
				"Config", "Validate", "stream uniqueness validation")
		}
		seen[s.Name] = true
		if s.DefaultProfileIndex < 0 || (len(s.Profiles) > 0 && s.DefaultProfileIndex >= len(s.Profiles)) {
			return errors.WrapInvalid(
				fmt.Errorf("stream %q default profile index %d out of range", s.Name, s.DefaultProfileIndex),
				"Config", "Validate", "default profile validation")
		}
	}
	return nil
}

// LoadFile reads a configuration file, YAML or JSON by extension.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "Config", "LoadFile", "read config file")
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.WrapInvalid(err, "Config", "LoadFile", "parse YAML config")
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, errors.WrapInvalid(err, "Config", "LoadFile", "parse JSON config")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SafeConfig provides thread-safe access to configuration.
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper.
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = &Config{}
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration.
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation.
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "SafeConfig", "Update", "nil config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}
